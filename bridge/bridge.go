// Package bridge runs plugin sessions: it relays a plugin's audio to the
// recognition service and turns the transcripts that come back into admin
// events and plugin actions.
//
// Each session is a small state machine (connecting, active, closing,
// closed). While active, two tasks run under one errgroup: audio from the
// plugin is forwarded upstream frame by frame, and transcripts from the
// recognizer are broadcast, evaluated against the session's keyword snapshot
// and, on a match, turned into a click command. The first task to fail closes
// both connections, which unblocks the other; the session then unregisters.
//
//	b := bridge.New(bridge.Deps{Users: st, Rules: st, Dialer: d, Registry: reg,
//		Broadcaster: bc, Journal: j})
//	err := b.Serve(ctx, userID, pluginConn)
package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/tailored-agentic-units/relay/broadcast"
	"github.com/tailored-agentic-units/relay/keyword"
	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/registry"
	"github.com/tailored-agentic-units/relay/transport"
	"github.com/tailored-agentic-units/relay/trigger"
)

// Users is the identity check consulted once per session.
type Users interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// Rules provides the keyword snapshot loaded once per session.
type Rules interface {
	LoadKeywordRules(ctx context.Context, userID int64) ([]keyword.Rule, error)
}

// Dialer opens a fresh connection to the recognition service.
type Dialer interface {
	Dial(ctx context.Context) (transport.Conn, error)
}

// Broadcaster delivers log events to a user's admin dashboards.
type Broadcaster interface {
	Broadcast(ctx context.Context, userID int64, event broadcast.LogEvent) int
}

// Journal accepts fired triggers for persistence without blocking.
type Journal interface {
	Record(userID int64, ev trigger.Event) bool
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Users       Users
	Rules       Rules
	Dialer      Dialer
	Registry    *registry.Registry[transport.Conn]
	Broadcaster Broadcaster
	Journal     Journal
}

// Option configures a Bridge after construction.
type Option func(*Bridge)

// WithObserver overrides the default SlogObserver.
func WithObserver(o observability.Observer) Option {
	return func(b *Bridge) { b.observer = o }
}

// WithLogger sets the logger used for diagnostics outside observer events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// Bridge serves plugin sessions. It holds no per-session state and is safe
// for concurrent use.
type Bridge struct {
	deps     Deps
	observer observability.Observer
	logger   *slog.Logger
	now      func() time.Time
}

func New(deps Deps, opts ...Option) *Bridge {
	b := &Bridge{
		deps:     deps,
		observer: observability.NewSlogObserver(slog.Default()),
		logger:   slog.Default(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}
