package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tailored-agentic-units/relay/observability"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  string
	}{
		{name: "trace range", level: 1, want: "TRACE"},
		{name: "verbose maps to DEBUG", level: observability.LevelVerbose, want: "DEBUG"},
		{name: "info maps to INFO", level: observability.LevelInfo, want: "INFO"},
		{name: "warning maps to WARN", level: observability.LevelWarning, want: "WARN"},
		{name: "error maps to ERROR", level: observability.LevelError, want: "ERROR"},
		{name: "fatal range", level: 21, want: "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level observability.Level
		want  slog.Level
	}{
		{observability.LevelVerbose, slog.LevelDebug},
		{observability.LevelInfo, slog.LevelInfo},
		{observability.LevelWarning, slog.LevelWarn},
		{observability.LevelError, slog.LevelError},
	}

	for _, tt := range tests {
		if got := tt.level.SlogLevel(); got != tt.want {
			t.Errorf("Level(%d).SlogLevel() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestSlogObserver_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     observability.Level
		minLevel  slog.Level
		expectLog bool
	}{
		{name: "verbose at debug handler", level: observability.LevelVerbose, minLevel: slog.LevelDebug, expectLog: true},
		{name: "verbose at info handler", level: observability.LevelVerbose, minLevel: slog.LevelInfo, expectLog: false},
		{name: "info at warn handler", level: observability.LevelInfo, minLevel: slog.LevelWarn, expectLog: false},
		{name: "error at error handler", level: observability.LevelError, minLevel: slog.LevelError, expectLog: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: tt.minLevel}))

			observability.NewSlogObserver(logger).OnEvent(context.Background(), observability.Event{
				Type:  "relay.test",
				Level: tt.level,
			})

			if got := buf.Len() > 0; got != tt.expectLog {
				t.Errorf("log output = %v, want %v (buf: %q)", got, tt.expectLog, buf.String())
			}
		})
	}
}

func TestSlogObserver_Attributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	observability.NewSlogObserver(logger).OnEvent(context.Background(), observability.Event{
		Type:      "relay.session.open",
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "bridge.Serve",
		UserID:    42,
		SessionID: "abc",
		Data:      map[string]any{"zeta": 1, "alpha": 2},
	})

	out := buf.String()
	for _, want := range []string{"relay.session.open", "source=bridge.Serve", "user_id=42", "session_id=abc"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %s", want, out)
		}
	}
	if strings.Index(out, "alpha=2") > strings.Index(out, "zeta=1") {
		t.Errorf("data attributes should be sorted by key: %s", out)
	}
}

func TestMultiObserver_FanOutAndNilFiltering(t *testing.T) {
	a, b := observability.NewRecorder(), observability.NewRecorder()
	multi := observability.NewMultiObserver(nil, a, nil, b)

	multi.OnEvent(context.Background(), observability.Event{Type: "relay.test"})

	if a.Count("relay.test") != 1 || b.Count("relay.test") != 1 {
		t.Errorf("each observer should get one event, got %d and %d", a.Count("relay.test"), b.Count("relay.test"))
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	rec := observability.NewRecorder()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			rec.OnEvent(context.Background(), observability.Event{Type: "relay.test"})
		}()
	}
	wg.Wait()

	if got := len(rec.Events()); got != n {
		t.Errorf("recorded %d events, want %d", got, n)
	}
}

func TestResolve(t *testing.T) {
	custom := observability.NewRecorder()
	observability.RegisterObserver("test-custom", custom)

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "empty defaults to slog", key: ""},
		{name: "slog", key: "slog"},
		{name: "noop", key: "noop"},
		{name: "registered", key: "test-custom"},
		{name: "unknown", key: "nonexistent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := observability.Resolve(tt.key, slog.Default())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if !tt.wantErr && obs == nil {
				t.Errorf("Resolve(%q) returned nil observer", tt.key)
			}
		})
	}

	obs, _ := observability.Resolve("test-custom", nil)
	obs.OnEvent(context.Background(), observability.Event{Type: "relay.test"})
	if custom.Count("relay.test") != 1 {
		t.Error("registered observer did not receive the event")
	}
}

func TestNoOpObserver(t *testing.T) {
	observability.NoOpObserver{}.OnEvent(context.Background(), observability.Event{Type: "relay.test"})
}
