// Package broadcast delivers log events to every admin dashboard of a user.
//
// Broadcast snapshots the user's admin connections at call time and writes
// the encoded event to each one independently. A failed or slow recipient is
// logged and skipped; nothing is returned to the caller and nothing is
// retried. Closed dashboards are removed by their own sessions.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tailored-agentic-units/relay/registry"
	"github.com/tailored-agentic-units/relay/transport"
)

// Config holds broadcaster settings.
type Config struct {
	// SendTimeout bounds each per-connection write.
	SendTimeout time.Duration `json:"send_timeout,omitempty" mapstructure:"send_timeout" env:"SEND_TIMEOUT"`
}

func DefaultConfig() Config {
	return Config{SendTimeout: 5 * time.Second}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.SendTimeout > 0 {
		c.SendTimeout = source.SendTimeout
	}
}

// Broadcaster fans events out to admin connections held in a registry.
type Broadcaster struct {
	registry    *registry.Registry[transport.Conn]
	sendTimeout time.Duration
	logger      *slog.Logger
}

func New(reg *registry.Registry[transport.Conn], cfg Config, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry:    reg,
		sendTimeout: cfg.SendTimeout,
		logger:      logger,
	}
}

// Broadcast sends event to the admin connections of userID and returns how
// many accepted it.
func (b *Broadcaster) Broadcast(ctx context.Context, userID int64, event LogEvent) int {
	recipients := b.registry.AdminConnectionsFor(userID)
	if len(recipients) == 0 {
		return 0
	}

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.ErrorContext(
			ctx,
			"failed to encode broadcast",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return 0
	}
	msg := transport.Message{Type: transport.Text, Data: data}

	delivered := 0
	for _, conn := range recipients {
		if err := b.send(ctx, conn, msg); err != nil {
			b.logger.WarnContext(
				ctx,
				"failed to deliver broadcast",
				slog.Int64("user_id", userID),
				slog.String("event_id", event.ID),
				slog.String("cause", transport.Cause(err)),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered++
	}

	b.logger.DebugContext(
		ctx,
		"broadcast sent",
		slog.Int64("user_id", userID),
		slog.String("type", string(event.Severity)),
		slog.Int("recipients", len(recipients)),
		slog.Int("delivered", delivered),
	)

	return delivered
}

func (b *Broadcaster) send(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	if b.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.sendTimeout)
		defer cancel()
	}
	return conn.Send(ctx, msg)
}
