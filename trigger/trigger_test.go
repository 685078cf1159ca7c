package trigger_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tailored-agentic-units/relay/keyword"
	"github.com/tailored-agentic-units/relay/trigger"
)

func TestEvaluateAt_Match(t *testing.T) {
	idx := keyword.Build([]keyword.Rule{{Keyword: "开始", Target: 7}})
	now := time.Date(2026, 10, 17, 20, 15, 0, 0, time.UTC)

	ev, ok := trigger.EvaluateAt("现在开始直播", idx, now)
	if !ok {
		t.Fatal("expected a trigger")
	}

	if ev.Keyword != "开始" {
		t.Errorf("Keyword = %q, want 开始", ev.Keyword)
	}
	if ev.Target != 7 {
		t.Errorf("Target = %d, want 7", ev.Target)
	}
	if ev.SourceText != "现在开始直播" {
		t.Errorf("SourceText = %q", ev.SourceText)
	}
	if !ev.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, now)
	}
}

func TestEvaluate_NoMatch(t *testing.T) {
	idx := keyword.Build([]keyword.Rule{{Keyword: "开始", Target: 7}})

	if ev, ok := trigger.Evaluate("今天天气不错", idx); ok {
		t.Errorf("Evaluate returned %+v, want no trigger", ev)
	}
}

func TestEvaluate_AtMostOneDeterministic(t *testing.T) {
	idx := keyword.Build([]keyword.Rule{
		{Keyword: "buy", Target: 1},
		{Keyword: "now", Target: 2},
		{Keyword: "link", Target: 3},
	})

	text := "now buy the link"
	first, ok := trigger.Evaluate(text, idx)
	if !ok {
		t.Fatal("expected a trigger")
	}
	if first.Keyword != "buy" {
		t.Errorf("Keyword = %q, want first rule by order (buy)", first.Keyword)
	}

	for range 50 {
		ev, _ := trigger.Evaluate(text, idx)
		if ev.Keyword != first.Keyword || ev.Target != first.Target {
			t.Fatalf("non-deterministic result: %+v vs %+v", ev, first)
		}
	}
}

func TestEvaluate_NilIndex(t *testing.T) {
	if _, ok := trigger.Evaluate("anything", nil); ok {
		t.Error("nil index should never trigger")
	}
}

func TestEvent_Command(t *testing.T) {
	ev := trigger.Event{Keyword: "开始", Target: 7}

	data, err := json.Marshal(ev.Command())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"action":"click","link_id":7}`
	if string(data) != want {
		t.Errorf("command JSON = %s, want %s", data, want)
	}
}

func TestEvent_Message(t *testing.T) {
	ev := trigger.Event{Keyword: "开始", Target: 7}

	want := "触发: '开始' -> 点击链接 #7"
	if got := ev.Message(); got != want {
		t.Errorf("Message() = %q, want %q", got, want)
	}
}
