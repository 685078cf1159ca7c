package observability

import (
	"fmt"
	"log/slog"
	"sync"
)

var (
	observers = map[string]Observer{
		"noop": NoOpObserver{},
	}
	mutex sync.RWMutex
)

// Resolve returns the observer configured by name. "slog" is built on logger;
// "noop" and anything added with RegisterObserver come from the registry.
func Resolve(name string, logger *slog.Logger) (Observer, error) {
	if name == "" || name == "slog" {
		return NewSlogObserver(logger), nil
	}

	mutex.RLock()
	defer mutex.RUnlock()

	obs, exists := observers[name]
	if !exists {
		return nil, fmt.Errorf("unknown observer: %s", name)
	}
	return obs, nil
}

// RegisterObserver adds or replaces a named observer.
func RegisterObserver(name string, observer Observer) {
	mutex.Lock()
	defer mutex.Unlock()
	observers[name] = observer
}
