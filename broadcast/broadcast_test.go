package broadcast_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tailored-agentic-units/relay/broadcast"
	"github.com/tailored-agentic-units/relay/registry"
	"github.com/tailored-agentic-units/relay/transport"
	"github.com/tailored-agentic-units/relay/transport/mock"
)

func newBroadcaster(t *testing.T, cfg broadcast.Config) (*broadcast.Broadcaster, *registry.Registry[transport.Conn], *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reg := registry.New[transport.Conn]()
	return broadcast.New(reg, cfg, logger), reg, &buf
}

func TestBroadcast_NoObservers(t *testing.T) {
	b, reg, _ := newBroadcaster(t, broadcast.DefaultConfig())
	plugin := mock.NewConn()
	reg.RegisterPlugin(42, plugin)

	n := b.Broadcast(context.Background(), 42, broadcast.Recognized("hello", time.Now()))
	if n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
	if len(plugin.Sent()) != 0 {
		t.Error("plugin connections must never receive broadcasts")
	}
}

func TestBroadcast_AllAdminsReceive(t *testing.T) {
	b, reg, _ := newBroadcaster(t, broadcast.DefaultConfig())
	a1, a2, other := mock.NewConn(), mock.NewConn(), mock.NewConn()
	reg.RegisterAdmin(42, a1)
	reg.RegisterAdmin(42, a2)
	reg.RegisterAdmin(7, other)

	at := time.Date(2026, 10, 17, 9, 5, 3, 0, time.Local)
	ev := broadcast.Recognized("现在开始直播", at)

	if n := b.Broadcast(context.Background(), 42, ev); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}

	for i, conn := range []*mock.Conn{a1, a2} {
		sent := conn.Sent()
		if len(sent) != 1 {
			t.Fatalf("admin %d got %d messages, want 1", i, len(sent))
		}
		if sent[0].Type != transport.Text {
			t.Errorf("admin %d message type = %v, want text", i, sent[0].Type)
		}

		var got map[string]string
		if err := json.Unmarshal(sent[0].Data, &got); err != nil {
			t.Fatalf("admin %d payload not JSON: %v", i, err)
		}
		if got["type"] != "info" || got["message"] != "识别: 现在开始直播" || got["timestamp"] != "09:05:03" || got["id"] != ev.ID {
			t.Errorf("admin %d payload = %v", i, got)
		}
	}

	if len(other.Sent()) != 0 {
		t.Error("another user's admin received the event")
	}
}

func TestBroadcast_FailureIsolated(t *testing.T) {
	b, reg, logs := newBroadcaster(t, broadcast.DefaultConfig())
	broken, healthy := mock.NewConn(), mock.NewConn()
	broken.FailSends(errors.New("boom"))
	reg.RegisterAdmin(1, broken)
	reg.RegisterAdmin(1, healthy)

	n := b.Broadcast(context.Background(), 1, broadcast.NewLogEvent(broadcast.SeveritySuccess, "ok", time.Now()))
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if len(healthy.Sent()) != 1 {
		t.Error("healthy admin should still receive the event")
	}
	if !strings.Contains(logs.String(), "failed to deliver broadcast") {
		t.Errorf("delivery failure not logged: %s", logs.String())
	}
	if reg.Count(registry.RoleAdmin, 1) != 2 {
		t.Error("broadcaster must not unregister failed connections")
	}
}

func TestBroadcast_SlowRecipientTimesOut(t *testing.T) {
	b, reg, _ := newBroadcaster(t, broadcast.Config{SendTimeout: 20 * time.Millisecond})
	slow, fast := mock.NewConn(), mock.NewConn()
	slow.DelaySends(time.Second)
	reg.RegisterAdmin(1, slow)
	reg.RegisterAdmin(1, fast)

	start := time.Now()
	n := b.Broadcast(context.Background(), 1, broadcast.Recognized("x", time.Now()))
	elapsed := time.Since(start)

	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("broadcast took %v; slow recipient was not bounded", elapsed)
	}
}

func TestBroadcast_ClosedRecipient(t *testing.T) {
	b, reg, _ := newBroadcaster(t, broadcast.DefaultConfig())
	closed := mock.NewConn()
	closed.Close(transport.CloseNormal, "")
	reg.RegisterAdmin(1, closed)

	if n := b.Broadcast(context.Background(), 1, broadcast.Recognized("x", time.Now())); n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
}

func TestConfig_Merge(t *testing.T) {
	cfg := broadcast.DefaultConfig()
	cfg.Merge(&broadcast.Config{})
	if cfg.SendTimeout != 5*time.Second {
		t.Errorf("zero merge changed SendTimeout to %v", cfg.SendTimeout)
	}

	cfg.Merge(&broadcast.Config{SendTimeout: time.Second})
	if cfg.SendTimeout != time.Second {
		t.Errorf("SendTimeout = %v, want 1s", cfg.SendTimeout)
	}
}

func TestNewLogEvent_UniqueIDs(t *testing.T) {
	a := broadcast.NewLogEvent(broadcast.SeverityInfo, "a", time.Now())
	b := broadcast.NewLogEvent(broadcast.SeverityInfo, "b", time.Now())
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids should be unique and non-empty: %q %q", a.ID, b.ID)
	}
}
