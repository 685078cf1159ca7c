// Package trigger decides whether a recognized utterance fires an action.
//
// Evaluate applies a keyword.Index to one transcription result and yields at
// most one Event, so a single utterance never produces more than one click.
package trigger

import (
	"fmt"
	"time"

	"github.com/tailored-agentic-units/relay/keyword"
)

// ActionClick is the only action the plugin understands.
const ActionClick = "click"

// Event records a fired trigger.
type Event struct {
	Keyword    string    `json:"keyword"`
	Target     int64     `json:"target"`
	SourceText string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// Command is the message sent to the plugin when a trigger fires.
type Command struct {
	Action string `json:"action"`
	LinkID int64  `json:"link_id"`
}

// Evaluate matches text against idx at the current time.
func Evaluate(text string, idx *keyword.Index) (Event, bool) {
	return EvaluateAt(text, idx, time.Now())
}

// EvaluateAt matches text against idx and stamps a resulting event with now.
func EvaluateAt(text string, idx *keyword.Index, now time.Time) (Event, bool) {
	m, ok := idx.Match(text)
	if !ok {
		return Event{}, false
	}

	return Event{
		Keyword:    m.Keyword,
		Target:     m.Target,
		SourceText: text,
		Timestamp:  now,
	}, true
}

// Command returns the plugin command for this event.
func (e Event) Command() Command {
	return Command{Action: ActionClick, LinkID: e.Target}
}

// Message renders the human-readable trigger notice shown to admins and
// stored with the persisted record.
func (e Event) Message() string {
	return fmt.Sprintf("触发: '%s' -> 点击链接 #%d", e.Keyword, e.Target)
}
