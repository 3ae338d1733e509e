package notifier

import (
	"context"
	"fmt"

	"tubewatch/internal/feed"
)

// Router picks a sender by the payload's kind and falls back to Default.
// Operator text always goes to Default.
type Router struct {
	Default Sender
	ByKind  map[feed.Kind]Sender
}

func (r *Router) Name() string {
	if r.Default == nil {
		return "router"
	}
	return r.Default.Name()
}

func (r *Router) Send(ctx context.Context, p Payload) error {
	s, err := r.route(p.Kind)
	if err != nil {
		return err
	}
	return s.Send(ctx, p)
}

func (r *Router) SendText(ctx context.Context, text string) error {
	if r.Default == nil {
		return fmt.Errorf("no default notifier configured")
	}
	return r.Default.SendText(ctx, text)
}

func (r *Router) route(kind feed.Kind) (Sender, error) {
	if s, ok := r.ByKind[kind]; ok && s != nil {
		return s, nil
	}
	if r.Default == nil {
		return nil, fmt.Errorf("no notifier configured for kind %q", kind)
	}
	return r.Default, nil
}
