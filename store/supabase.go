package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"github.com/tailored-agentic-units/relay/keyword"
	"github.com/tailored-agentic-units/relay/trigger"
)

const (
	tableUsers   = "users"
	tableConfigs = "configs"
	tableLogs    = "logs"
)

type userRow struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

type configRow struct {
	UserID   int64           `json:"user_id"`
	LinkID   int64           `json:"link_id"`
	Keywords json.RawMessage `json:"keywords"`
}

type logRow struct {
	UserID    int64  `json:"user_id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// SupabaseStore reads and writes the users, configs and logs tables over
// PostgREST. The keywords column of configs holds a JSON array, either as
// json/jsonb or as text.
//
// The PostgREST client takes no context, so every request runs under call,
// which returns as soon as ctx ends or the per-request timeout elapses.
type SupabaseStore struct {
	client  *supabase.Client
	timeout time.Duration
}

func NewSupabaseStore(cfg SupabaseConfig) (Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: supabase URL is required", ErrInvalidConfig)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: supabase API key is required", ErrInvalidConfig)
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseStore{client: client, timeout: cfg.Timeout}, nil
}

// call runs fn on its own goroutine and waits for it, ctx, or the store
// timeout, whichever ends first. An abandoned request finishes in the
// background and its result is discarded.
func call[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *SupabaseStore) UserExists(ctx context.Context, userID int64) (bool, error) {
	rows, err := call(ctx, s.timeout, func() ([]userRow, error) {
		var rows []userRow
		_, err := s.client.From(tableUsers).
			Select("id", "", false).
			Eq("id", formatID(userID)).
			Limit(1, "").
			ExecuteTo(&rows)
		return rows, err
	})
	if err != nil {
		return false, fmt.Errorf("%w: user %d: %w", ErrLoadFailed, userID, err)
	}
	return len(rows) > 0, nil
}

func (s *SupabaseStore) LoadKeywordRules(ctx context.Context, userID int64) ([]keyword.Rule, error) {
	rows, err := call(ctx, s.timeout, func() ([]configRow, error) {
		var rows []configRow
		_, err := s.client.From(tableConfigs).
			Select("user_id,link_id,keywords", "", false).
			Eq("user_id", formatID(userID)).
			Order("id", &postgrest.OrderOpts{Ascending: true}).
			ExecuteTo(&rows)
		return rows, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: configs for user %d: %w", ErrLoadFailed, userID, err)
	}

	links := make([]Link, 0, len(rows))
	for _, row := range rows {
		kws, err := decodeKeywords(row.Keywords)
		if err != nil {
			return nil, fmt.Errorf("%w: link %d keywords: %v", ErrLoadFailed, row.LinkID, err)
		}
		links = append(links, Link{ID: row.LinkID, Keywords: kws})
	}
	return Rules(links), nil
}

func (s *SupabaseStore) PersistTriggerEvent(ctx context.Context, userID int64, ev trigger.Event) error {
	rec := TriggerRecord(userID, ev)
	row := logRow{
		UserID:    rec.UserID,
		Timestamp: rec.Timestamp.Format(time.RFC3339Nano),
		Type:      rec.Type,
		Message:   rec.Message,
		Details:   rec.Details,
	}

	if err := s.exec(ctx, s.client.From(tableLogs).Insert(row, false, "", "minimal", "")); err != nil {
		return fmt.Errorf("%w: log for user %d: %w", ErrSaveFailed, userID, err)
	}
	return nil
}

func (s *SupabaseStore) History(ctx context.Context, userID int64, limit int) ([]LogRecord, error) {
	query := s.client.From(tableLogs).
		Select("user_id,timestamp,type,message,details", "", false).
		Eq("user_id", formatID(userID)).
		Order("timestamp", &postgrest.OrderOpts{Ascending: false})
	if limit > 0 {
		query = query.Limit(limit, "")
	}

	rows, err := call(ctx, s.timeout, func() ([]logRow, error) {
		var rows []logRow
		_, err := query.ExecuteTo(&rows)
		return rows, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: logs for user %d: %w", ErrLoadFailed, userID, err)
	}

	out := make([]LogRecord, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTimestamp(row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
		}
		out = append(out, LogRecord{
			UserID:    row.UserID,
			Timestamp: ts,
			Type:      row.Type,
			Message:   row.Message,
			Details:   row.Details,
		})
	}
	return out, nil
}

func (s *SupabaseStore) CountTriggers(ctx context.Context, userID int64, since time.Time) (int, error) {
	count, err := call(ctx, s.timeout, func() (int64, error) {
		_, count, err := s.client.From(tableLogs).
			Select("user_id", "exact", true).
			Eq("user_id", formatID(userID)).
			Eq("type", LogTypeSuccess).
			Gte("timestamp", since.Format(time.RFC3339Nano)).
			Execute()
		return count, err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count for user %d: %w", ErrLoadFailed, userID, err)
	}
	return int(count), nil
}

// PutUser upserts the user row and replaces its configs rows.
func (s *SupabaseStore) PutUser(ctx context.Context, user User) error {
	upsert := s.client.From(tableUsers).
		Upsert(userRow{ID: user.ID, Username: user.Username}, "id", "minimal", "")
	if err := s.exec(ctx, upsert); err != nil {
		return fmt.Errorf("%w: user %d: %w", ErrSaveFailed, user.ID, err)
	}

	purge := s.client.From(tableConfigs).
		Delete("minimal", "").
		Eq("user_id", formatID(user.ID))
	if err := s.exec(ctx, purge); err != nil {
		return fmt.Errorf("%w: configs for user %d: %w", ErrSaveFailed, user.ID, err)
	}

	if len(user.Links) == 0 {
		return nil
	}

	rows := make([]configRow, 0, len(user.Links))
	for _, l := range user.Links {
		kws, err := json.Marshal(l.Keywords)
		if err != nil {
			return fmt.Errorf("%w: link %d: %v", ErrSaveFailed, l.ID, err)
		}
		rows = append(rows, configRow{UserID: user.ID, LinkID: l.ID, Keywords: kws})
	}

	if err := s.exec(ctx, s.client.From(tableConfigs).Insert(rows, false, "", "minimal", "")); err != nil {
		return fmt.Errorf("%w: configs for user %d: %w", ErrSaveFailed, user.ID, err)
	}
	return nil
}

type executor interface {
	Execute() ([]byte, int64, error)
}

// exec runs a write whose response body is not needed.
func (s *SupabaseStore) exec(ctx context.Context, q executor) error {
	_, err := call(ctx, s.timeout, func() (struct{}, error) {
		_, _, err := q.Execute()
		return struct{}{}, err
	})
	return err
}

func (s *SupabaseStore) Close() error {
	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// decodeKeywords accepts a JSON array or a string containing one.
func decodeKeywords(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var kws []string
	if err := json.Unmarshal(raw, &kws); err == nil {
		return kws, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(text), &kws); err != nil {
		return nil, err
	}
	return kws, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
