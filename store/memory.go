package store

import (
	"context"
	"sync"
	"time"

	"github.com/tailored-agentic-units/relay/keyword"
	"github.com/tailored-agentic-units/relay/trigger"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[int64]User
	logs    map[int64][]LogRecord
	maxLogs int
}

// NewMemoryStore creates an empty store that keeps at most maxLogs records
// per user.
func NewMemoryStore(maxLogs int) *MemoryStore {
	if maxLogs <= 0 {
		maxLogs = defaultMaxLogs
	}
	return &MemoryStore{
		users:   make(map[int64]User),
		logs:    make(map[int64][]LogRecord),
		maxLogs: maxLogs,
	}
}

func (s *MemoryStore) UserExists(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.users[userID]
	return exists, nil
}

func (s *MemoryStore) LoadKeywordRules(_ context.Context, userID int64) ([]keyword.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Rules(s.users[userID].Links), nil
}

func (s *MemoryStore) PersistTriggerEvent(_ context.Context, userID int64, ev trigger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := append(s.logs[userID], TriggerRecord(userID, ev))
	if len(logs) > s.maxLogs {
		logs = logs[len(logs)-s.maxLogs:]
	}
	s.logs[userID] = logs
	return nil
}

func (s *MemoryStore) History(_ context.Context, userID int64, limit int) ([]LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := s.logs[userID]
	if limit <= 0 || limit > len(logs) {
		limit = len(logs)
	}

	out := make([]LogRecord, 0, limit)
	for i := len(logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, logs[i])
	}
	return out, nil
}

func (s *MemoryStore) CountTriggers(_ context.Context, userID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countTriggers(s.logs[userID], since), nil
}

func (s *MemoryStore) PutUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func countTriggers(logs []LogRecord, since time.Time) int {
	n := 0
	for _, r := range logs {
		if r.Type == LogTypeSuccess && !r.Timestamp.Before(since) {
			n++
		}
	}
	return n
}
