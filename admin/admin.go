// Package admin runs dashboard sessions. A dashboard only listens: it is
// registered so broadcasts reach it, and its inbound messages are read and
// discarded solely to notice when it goes away.
package admin

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/registry"
	"github.com/tailored-agentic-units/relay/transport"
)

const (
	EventOpen  observability.EventType = "relay.admin.open"
	EventClose observability.EventType = "relay.admin.close"
)

type Option func(*Handler)

// WithObserver overrides the default SlogObserver.
func WithObserver(o observability.Observer) Option {
	return func(h *Handler) { h.observer = o }
}

// Handler serves admin sessions against a shared registry.
type Handler struct {
	registry *registry.Registry[transport.Conn]
	observer observability.Observer
}

func New(reg *registry.Registry[transport.Conn], opts ...Option) *Handler {
	h := &Handler{
		registry: reg,
		observer: observability.NewSlogObserver(nil),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve registers conn as a dashboard of userID and blocks until the peer
// leaves or ctx ends. The connection is unregistered before it is closed.
// Serve returns nil on shutdown and the classified receive error otherwise.
func (h *Handler) Serve(ctx context.Context, userID int64, conn transport.Conn) error {
	sessionID := uuid.Must(uuid.NewV7()).String()
	started := time.Now()

	h.registry.RegisterAdmin(userID, conn)
	h.observer.OnEvent(ctx, observability.Event{
		Type:      EventOpen,
		Level:     observability.LevelInfo,
		Timestamp: started,
		Source:    "admin.Serve",
		UserID:    userID,
		SessionID: sessionID,
		Data:      map[string]any{"admins": h.registry.Count(registry.RoleAdmin, userID)},
	})

	stop := context.AfterFunc(ctx, func() {
		conn.Close(transport.CloseGoingAway, "server shutting down")
	})
	defer stop()

	var err error
	messages := 0
	for {
		if _, err = conn.Receive(ctx); err != nil {
			break
		}
		messages++
	}
	err = transport.Classify(err)

	h.registry.UnregisterAdmin(userID, conn)
	conn.Close(transport.CloseNormal, "")

	cause := transport.Cause(err)
	if ctx.Err() != nil {
		cause = "shutdown"
		err = nil
	}

	level := observability.LevelInfo
	if errors.Is(err, transport.ErrTransport) || errors.Is(err, transport.ErrProtocol) {
		level = observability.LevelWarning
	}
	h.observer.OnEvent(ctx, observability.Event{
		Type:      EventClose,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "admin.Serve",
		UserID:    userID,
		SessionID: sessionID,
		Data: map[string]any{
			"cause":       cause,
			"messages":    messages,
			"duration_ms": time.Since(started).Milliseconds(),
		},
	})

	return err
}
