// Package server wires the relay together: it builds the store, registry,
// broadcaster, journal and session handlers from Config and exposes them as
// websocket routes.
//
//	srv, err := server.New(ctx, cfg)
//	err = srv.Run(ctx) // blocks until ctx ends, then drains sessions
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tailored-agentic-units/relay/admin"
	"github.com/tailored-agentic-units/relay/bridge"
	"github.com/tailored-agentic-units/relay/broadcast"
	"github.com/tailored-agentic-units/relay/journal"
	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/registry"
	"github.com/tailored-agentic-units/relay/store"
	"github.com/tailored-agentic-units/relay/transport"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Option overrides a config-created component. Options are applied before
// defaults are filled in, so an overridden component is never built.
type Option func(*Server)

// WithStore supplies the store. The caller keeps ownership and closes it.
func WithStore(s store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithDialer overrides the recognizer dialer.
func WithDialer(d bridge.Dialer) Option {
	return func(srv *Server) { srv.dialer = d }
}

// WithObserver adds an observer that receives every event alongside the one
// named by Config.Observer.
func WithObserver(o observability.Observer) Option {
	return func(srv *Server) { srv.extra = append(srv.extra, o) }
}

func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

type Server struct {
	cfg       Config
	logger    *slog.Logger
	observer  observability.Observer
	extra     []observability.Observer
	store     store.Store
	ownsStore bool
	dialer    bridge.Dialer
	registry  *registry.Registry[transport.Conn]
	journal   *journal.Journal
	bridge    *bridge.Bridge
	admin     *admin.Handler
	upgrader  *transport.Upgrader

	sessions  sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Server from configuration. The context bounds store setup
// only.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: *cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	obs, err := observability.Resolve(cfg.Observer, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create observer: %w", err)
	}
	if len(s.extra) > 0 {
		obs = observability.NewMultiObserver(append([]observability.Observer{obs}, s.extra...)...)
	}
	s.observer = obs

	topts := transport.Options{
		WriteTimeout: cfg.Transport.WriteTimeout,
		ReadLimit:    cfg.Transport.ReadLimit,
	}

	if s.dialer == nil {
		s.dialer = transport.NewDialer(cfg.Recognizer.URL, cfg.Recognizer.DialTimeout, cfg.Recognizer.Handshake, topts)
	}

	if s.store == nil {
		st, err := store.New(ctx, &cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		s.store = st
		s.ownsStore = true
	}

	s.registry = registry.New[transport.Conn]()
	s.journal = journal.New(s.store, cfg.Journal, s.logger)
	s.bridge = bridge.New(bridge.Deps{
		Users:       s.store,
		Rules:       s.store,
		Dialer:      s.dialer,
		Registry:    s.registry,
		Broadcaster: broadcast.New(s.registry, cfg.Broadcast, s.logger),
		Journal:     s.journal,
	}, bridge.WithObserver(s.observer), bridge.WithLogger(s.logger))
	s.admin = admin.New(s.registry, admin.WithObserver(s.observer))
	s.upgrader = transport.NewUpgrader(cfg.AllowedOrigins, topts)

	return s, nil
}

// Registry returns the live connection registry.
func (s *Server) Registry() *registry.Registry[transport.Conn] {
	return s.registry
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/plugin/{user_id}", s.handlePlugin)
	mux.HandleFunc("GET /ws/admin/{user_id}", s.handleAdmin)
	return mux
}

func (s *Server) handlePlugin(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.WarnContext(r.Context(), "plugin upgrade failed",
			slog.Int64("user_id", userID), slog.String("error", err.Error()))
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	err = s.bridge.Serve(r.Context(), userID, conn)
	s.logger.DebugContext(r.Context(), "plugin session ended",
		slog.Int64("user_id", userID),
		slog.String("cause", sessionCause(err)))
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.WarnContext(r.Context(), "admin upgrade failed",
			slog.Int64("user_id", userID), slog.String("error", err.Error()))
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	s.admin.Serve(r.Context(), userID, conn)
}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("user_id")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid user id %q", raw), http.StatusBadRequest)
		return 0, false
	}
	return userID, true
}

func sessionCause(err error) string {
	switch {
	case err == nil:
		return "shutdown"
	case errors.Is(err, bridge.ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, bridge.ErrUserLookup), errors.Is(err, bridge.ErrRulesUnavailable):
		return "store"
	case errors.Is(err, bridge.ErrRecognizerUnavailable):
		return "recognizer_unavailable"
	default:
		return transport.Cause(err)
	}
}

// Run listens on Config.ListenAddr and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends. On return every session
// has closed, the journal has drained and an owned store is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()

	// Sessions run on hijacked connections that http.Server.Shutdown does not
	// track; deriving request contexts from ctx is what ends them.
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(ln) }()

	s.logger.InfoContext(ctx, "relay listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("recognizer", s.cfg.Recognizer.URL),
		slog.String("store", s.cfg.Store.Driver))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}
	s.sessions.Wait()

	m := s.registry.Metrics()
	s.logger.Info("relay stopped",
		slog.Int64("plugin_sessions", m.PluginSessions),
		slog.Int64("admin_sessions", m.AdminSessions))
	return nil
}

// Close drains the journal and closes an owned store. It is called by Serve
// and is safe to call more than once.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.journal.Close()
		st := s.journal.Stats()
		if st.Dropped > 0 || st.Failed > 0 {
			s.logger.Warn("journal closed with losses",
				slog.Int64("persisted", st.Persisted),
				slog.Int64("failed", st.Failed),
				slog.Int64("dropped", st.Dropped))
		}
		if s.ownsStore {
			err = s.store.Close()
		}
	})
	return err
}
