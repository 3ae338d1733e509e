package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tubewatch/internal/relay"
	"tubewatch/internal/runtime/supervisor"
	"tubewatch/internal/storage"
	logx "tubewatch/pkg/logx"
)

// DefaultAddr keeps the server on loopback unless configured otherwise.
const DefaultAddr = "127.0.0.1:8080"

// Source is what the server reports on.
type Source interface {
	LastSummary() (relay.Summary, bool)
	Cursors(ctx context.Context) (map[string]time.Time, error)
}

type Config struct {
	Addr string
	// Pprof mounts net/http/pprof under /debug.
	Pprof        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Tasks, when set, reports the background goroutines under "tasks".
	Tasks func() supervisor.Counters
}

// Server is the read-only HTTP status endpoint used in serve mode.
type Server struct {
	mu  sync.Mutex
	cfg Config
	src Source
	log logx.Logger

	ln  net.Listener
	srv *http.Server
	sup *supervisor.Supervisor
}

func New(cfg Config, src Source, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Server{cfg: cfg, src: src, log: log.With(logx.String("comp", "status"))}
}

// Handler returns the router. It is exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.WriteTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/last", s.handleLastRun)
	})
	r.Get("/cursors", s.handleCursors)
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Addr is the bound listener address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve failures restart the server with backoff.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.GoRestart("status.serve", s.serve, supervisor.WithBackoff(500*time.Millisecond, 10*time.Second))
	s.log.Info("status server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	return nil
}

func (s *Server) serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.ln = ln
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	err := srv.Serve(ln)

	s.mu.Lock()
	if s.ln == ln {
		s.ln = nil
	}
	if s.srv == srv {
		s.srv = nil
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("status server exited unexpectedly")
	}
	return err
}

// Stop shuts the server down gracefully within ctx.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv, ln := s.sup, s.srv, s.ln
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	} else if ln != nil {
		_ = ln.Close()
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("status server stop", logx.Err(err))
	}

	s.mu.Lock()
	s.ln = nil
	s.srv = nil
	s.mu.Unlock()
	s.log.Info("status server stopped")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if sum, ok := s.src.LastSummary(); ok {
		resp["last_run_id"] = sum.RunID
		resp["last_run_at"] = sum.FinishedAt.UTC().Format(time.RFC3339)
		resp["last_exit_code"] = sum.ExitCode()
	}
	if s.cfg.Tasks != nil {
		resp["tasks"] = s.cfg.Tasks()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	sum, ok := s.src.LastSummary()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run has completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCursors(w http.ResponseWriter, r *http.Request) {
	cursors, err := s.src.Cursors(r.Context())
	if err != nil {
		s.log.Warn("list cursors failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cursor store unavailable"})
		return
	}
	out := make(map[string]string, len(cursors))
	for id, at := range cursors {
		out[id] = storage.FormatTimestamp(at)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
