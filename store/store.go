// Package store is the relay's boundary to persisted state: which users
// exist, which keyword links each user configured, and the durable log of
// fired triggers.
//
// Drivers are selected by Config.Driver: "memory" (process-local), "file"
// (a TOML document on disk), "redis" and "supabase" (PostgREST tables users,
// configs and logs). All drivers are safe for concurrent use.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tailored-agentic-units/relay/keyword"
	"github.com/tailored-agentic-units/relay/trigger"
)

// LogTypeSuccess marks a persisted trigger record.
const LogTypeSuccess = "success"

// Link is one configured action target and the keywords that fire it.
type Link struct {
	ID       int64    `json:"id" toml:"id" mapstructure:"id"`
	Keywords []string `json:"keywords" toml:"keywords" mapstructure:"keywords"`
}

// User is an account together with its link configuration.
type User struct {
	ID       int64  `json:"id" toml:"id" mapstructure:"id"`
	Username string `json:"username,omitempty" toml:"username,omitempty" mapstructure:"username"`
	Links    []Link `json:"links,omitempty" toml:"links,omitempty" mapstructure:"links"`
}

// LogRecord is one persisted log row. Details holds a JSON document.
type LogRecord struct {
	UserID    int64     `json:"user_id" toml:"user_id"`
	Timestamp time.Time `json:"timestamp" toml:"timestamp"`
	Type      string    `json:"type" toml:"type"`
	Message   string    `json:"message" toml:"message"`
	Details   string    `json:"details,omitempty" toml:"details,omitempty"`
}

// Store is implemented by every driver.
type Store interface {
	// UserExists reports whether userID names an account.
	UserExists(ctx context.Context, userID int64) (bool, error)
	// LoadKeywordRules returns the user's keyword snapshot in stored order.
	// An unknown user has no rules.
	LoadKeywordRules(ctx context.Context, userID int64) ([]keyword.Rule, error)
	// PersistTriggerEvent appends the trigger to the user's log.
	PersistTriggerEvent(ctx context.Context, userID int64, ev trigger.Event) error
	// History returns up to limit log records for the user, newest first.
	History(ctx context.Context, userID int64, limit int) ([]LogRecord, error)
	// CountTriggers counts the user's trigger records at or after since.
	CountTriggers(ctx context.Context, userID int64, since time.Time) (int, error)
	// PutUser creates or replaces a user and its links.
	PutUser(ctx context.Context, user User) error
	// Close releases driver resources.
	Close() error
}

// Rules flattens links into keyword rules: links in order, keywords in list
// order within each link.
func Rules(links []Link) []keyword.Rule {
	n := 0
	for _, l := range links {
		n += len(l.Keywords)
	}

	rules := make([]keyword.Rule, 0, n)
	for _, l := range links {
		for _, k := range l.Keywords {
			rules = append(rules, keyword.Rule{Keyword: k, Target: l.ID})
		}
	}
	return rules
}

type triggerDetails struct {
	Keyword string `json:"keyword"`
	Text    string `json:"text"`
}

// TriggerRecord converts a fired trigger into its persisted form.
func TriggerRecord(userID int64, ev trigger.Event) LogRecord {
	details, _ := json.Marshal(triggerDetails{Keyword: ev.Keyword, Text: ev.SourceText})
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return LogRecord{
		UserID:    userID,
		Timestamp: ts,
		Type:      LogTypeSuccess,
		Message:   ev.Message(),
		Details:   string(details),
	}
}

func cloneUser(u User) User {
	links := make([]Link, len(u.Links))
	for i, l := range u.Links {
		links[i] = Link{ID: l.ID, Keywords: append([]string(nil), l.Keywords...)}
	}
	u.Links = links
	return u
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
