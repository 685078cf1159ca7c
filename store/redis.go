package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tailored-agentic-units/relay/keyword"
	"github.com/tailored-agentic-units/relay/trigger"
)

// RedisStore keeps each user as a JSON string under <prefix>user:<id> and
// the user's log as a list under <prefix>logs:<id>, newest at the head.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	maxLogs int
}

func NewRedisStore(client *redis.Client, prefix string, maxLogs int) *RedisStore {
	if maxLogs <= 0 {
		maxLogs = defaultMaxLogs
	}
	return &RedisStore{client: client, prefix: prefix, maxLogs: maxLogs}
}

func (s *RedisStore) userKey(userID int64) string {
	return s.prefix + "user:" + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) logsKey(userID int64) string {
	return s.prefix + "logs:" + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) UserExists(ctx context.Context, userID int64) (bool, error) {
	n, err := s.client.Exists(ctx, s.userKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: user %d: %v", ErrLoadFailed, userID, err)
	}
	return n > 0, nil
}

func (s *RedisStore) LoadKeywordRules(ctx context.Context, userID int64) ([]keyword.Rule, error) {
	data, err := s.client.Get(ctx, s.userKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []keyword.Rule{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: user %d: %v", ErrLoadFailed, userID, err)
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: decode user %d: %v", ErrLoadFailed, userID, err)
	}
	return Rules(u.Links), nil
}

func (s *RedisStore) PersistTriggerEvent(ctx context.Context, userID int64, ev trigger.Event) error {
	data, err := json.Marshal(TriggerRecord(userID, ev))
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrSaveFailed, err)
	}

	key := s.logsKey(userID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, int64(s.maxLogs-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: user %d: %v", ErrSaveFailed, userID, err)
	}
	return nil
}

func (s *RedisStore) History(ctx context.Context, userID int64, limit int) ([]LogRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	items, err := s.client.LRange(ctx, s.logsKey(userID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: user %d: %v", ErrLoadFailed, userID, err)
	}
	return decodeRecords(items)
}

func (s *RedisStore) CountTriggers(ctx context.Context, userID int64, since time.Time) (int, error) {
	items, err := s.client.LRange(ctx, s.logsKey(userID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: user %d: %v", ErrLoadFailed, userID, err)
	}

	n := 0
	for _, item := range items {
		var r LogRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return 0, fmt.Errorf("%w: decode log: %v", ErrLoadFailed, err)
		}
		// Newest first: once a record predates since, the rest do too.
		if r.Timestamp.Before(since) {
			break
		}
		if r.Type == LogTypeSuccess {
			n++
		}
	}
	return n, nil
}

func (s *RedisStore) PutUser(ctx context.Context, user User) error {
	data, err := json.Marshal(cloneUser(user))
	if err != nil {
		return fmt.Errorf("%w: encode user %d: %v", ErrSaveFailed, user.ID, err)
	}
	if err := s.client.Set(ctx, s.userKey(user.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: user %d: %v", ErrSaveFailed, user.ID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRecords(items []string) ([]LogRecord, error) {
	out := make([]LogRecord, 0, len(items))
	for _, item := range items {
		var r LogRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("%w: decode log: %v", ErrLoadFailed, err)
		}
		out = append(out, r)
	}
	return out, nil
}
