// Package journal persists fired triggers off the session's hot path.
//
// Record enqueues onto a bounded queue and never blocks; a single worker
// drains the queue into the Sink with a per-record timeout. When the queue is
// full the record is dropped and logged, so a slow or failing store can never
// stall forwarding.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailored-agentic-units/relay/trigger"
)

// Sink is the durable destination. store.Store satisfies it.
type Sink interface {
	PersistTriggerEvent(ctx context.Context, userID int64, ev trigger.Event) error
}

type Config struct {
	BufferSize     int           `json:"buffer_size,omitempty" mapstructure:"buffer_size" env:"BUFFER_SIZE"`
	PersistTimeout time.Duration `json:"persist_timeout,omitempty" mapstructure:"persist_timeout" env:"PERSIST_TIMEOUT"`
}

func DefaultConfig() Config {
	return Config{
		BufferSize:     256,
		PersistTimeout: 5 * time.Second,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.BufferSize > 0 {
		c.BufferSize = source.BufferSize
	}
	if source.PersistTimeout > 0 {
		c.PersistTimeout = source.PersistTimeout
	}
}

type entry struct {
	userID int64
	event  trigger.Event
}

// Stats is a point-in-time view of journal counters.
type Stats struct {
	Persisted int64
	Failed    int64
	Dropped   int64
	Pending   int
}

type Journal struct {
	sink   Sink
	cfg    Config
	logger *slog.Logger
	queue  chan entry
	done   chan struct{}
	mu     sync.RWMutex
	closed bool

	persisted atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New starts the worker. Close must be called to drain and stop it.
func New(sink Sink, cfg Config, logger *slog.Logger) *Journal {
	defaults := DefaultConfig()
	defaults.Merge(&cfg)
	if logger == nil {
		logger = slog.Default()
	}

	j := &Journal{
		sink:   sink,
		cfg:    defaults,
		logger: logger.With("component", "journal"),
		queue:  make(chan entry, defaults.BufferSize),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

// Record enqueues ev for persistence. It reports false when the journal is
// closed or the queue is full.
func (j *Journal) Record(userID int64, ev trigger.Event) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		j.dropped.Add(1)
		j.logger.Warn("journal closed, trigger dropped",
			"user_id", userID, "keyword", ev.Keyword, "target", ev.Target)
		return false
	}

	select {
	case j.queue <- entry{userID: userID, event: ev}:
		return true
	default:
		j.dropped.Add(1)
		j.logger.Warn("journal queue full, trigger dropped",
			"user_id", userID, "keyword", ev.Keyword, "target", ev.Target,
			"buffer_size", j.cfg.BufferSize)
		return false
	}
}

// Close stops accepting records, persists everything already queued and
// waits for the worker to exit. It is safe to call more than once.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()
	<-j.done
}

func (j *Journal) Stats() Stats {
	return Stats{
		Persisted: j.persisted.Load(),
		Failed:    j.failed.Load(),
		Dropped:   j.dropped.Load(),
		Pending:   len(j.queue),
	}
}

func (j *Journal) run() {
	defer close(j.done)
	for e := range j.queue {
		j.persist(e)
	}
}

func (j *Journal) persist(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.PersistTimeout)
	defer cancel()

	if err := j.sink.PersistTriggerEvent(ctx, e.userID, e.event); err != nil {
		j.failed.Add(1)
		j.logger.ErrorContext(ctx, "failed to persist trigger",
			"user_id", e.userID, "keyword", e.event.Keyword, "target", e.event.Target,
			"error", err)
		return
	}
	j.persisted.Add(1)
}
