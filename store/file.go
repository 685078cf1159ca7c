package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/tailored-agentic-units/relay/keyword"
	"github.com/tailored-agentic-units/relay/trigger"
)

const (
	currentSchemaVersion = 1
	fileMode             = 0o600
	dirMode              = 0o700
)

type fileSchema struct {
	Version int         `toml:"version"`
	Users   []User      `toml:"users"`
	Logs    []LogRecord `toml:"logs"`
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported store schema version %d (current %d)", s.Version, currentSchemaVersion)
	}
	return nil
}

func (s fileSchema) user(userID int64) (User, bool) {
	for _, u := range s.Users {
		if u.ID == userID {
			return u, true
		}
	}
	return User{}, false
}

// FileStore keeps users, links and logs in one TOML document. Every call
// reads the file; writes replace it atomically.
type FileStore struct {
	path    string
	maxLogs int
	mu      sync.RWMutex
}

func NewFileStore(path string, maxLogs int) *FileStore {
	if maxLogs <= 0 {
		maxLogs = defaultMaxLogs
	}
	return &FileStore{path: path, maxLogs: maxLogs}
}

func (s *FileStore) UserExists(ctx context.Context, userID int64) (bool, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	_, exists := doc.user(userID)
	return exists, nil
}

func (s *FileStore) LoadKeywordRules(ctx context.Context, userID int64) ([]keyword.Rule, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	u, _ := doc.user(userID)
	return Rules(u.Links), nil
}

func (s *FileStore) PersistTriggerEvent(ctx context.Context, userID int64, ev trigger.Event) error {
	return s.update(ctx, func(doc *fileSchema) {
		doc.Logs = append(doc.Logs, TriggerRecord(userID, ev))
		if len(doc.Logs) > s.maxLogs {
			doc.Logs = doc.Logs[len(doc.Logs)-s.maxLogs:]
		}
	})
}

func (s *FileStore) History(ctx context.Context, userID int64, limit int) ([]LogRecord, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	var out []LogRecord
	for i := len(doc.Logs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if doc.Logs[i].UserID == userID {
			out = append(out, doc.Logs[i])
		}
	}
	return out, nil
}

func (s *FileStore) CountTriggers(ctx context.Context, userID int64, since time.Time) (int, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return 0, err
	}

	logs := slices.DeleteFunc(doc.Logs, func(r LogRecord) bool { return r.UserID != userID })
	return countTriggers(logs, since), nil
}

func (s *FileStore) PutUser(ctx context.Context, user User) error {
	return s.update(ctx, func(doc *fileSchema) {
		user = cloneUser(user)
		for i := range doc.Users {
			if doc.Users[i].ID == user.ID {
				doc.Users[i] = user
				return
			}
		}
		doc.Users = append(doc.Users, user)
	})
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read(ctx context.Context) (fileSchema, error) {
	if err := ctx.Err(); err != nil {
		return fileSchema{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load()
}

func (s *FileStore) update(ctx context.Context, mutate func(*fileSchema)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	mutate(&doc)
	doc.Version = currentSchemaVersion
	return s.save(doc)
}

func (s *FileStore) load() (fileSchema, error) {
	var doc fileSchema

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{Version: currentSchemaVersion}, nil
		}
		return doc, fmt.Errorf("%w: %s: %v", ErrLoadFailed, s.path, err)
	}

	if err := toml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: decode %s: %v", ErrLoadFailed, s.path, err)
	}
	if err := doc.validateVersion(); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	return doc, nil
}

func (s *FileStore) save(doc fileSchema) error {
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrSaveFailed, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, s.path, err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, s.path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, s.path, err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, s.path, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, s.path, err)
	}
	return nil
}
