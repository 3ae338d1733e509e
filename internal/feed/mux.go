package feed

import (
	"context"
	"fmt"
)

// Mux routes FetchRecent to the Lister registered for the source's kind.
type Mux map[Kind]Lister

func (m Mux) FetchRecent(ctx context.Context, src Source) ([]Item, error) {
	kind := src.Kind
	if kind == "" {
		kind = KindYouTube
	}
	l, ok := m[kind]
	if !ok || l == nil {
		return nil, Upstream(src.ID, "route", fmt.Errorf("no lister configured for kind %q", kind))
	}
	return l.FetchRecent(ctx, src)
}
