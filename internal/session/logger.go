package session

import (
	"context"
	"sync"

	"github.com/samsaffron/claude-wrapper/internal/api"
)

// WarnFunc is a function that logs warnings.
type WarnFunc func(format string, args ...any)

// LoggingStore wraps a Store and logs failures once per operation. Errors
// are still returned; callers treat sessions as best effort.
type LoggingStore struct {
	Store
	warnFunc WarnFunc
	mu       sync.Mutex
	warned   map[string]bool
}

// NewLoggingStore creates a new LoggingStore wrapper.
func NewLoggingStore(store Store, warnFunc WarnFunc) *LoggingStore {
	return &LoggingStore{
		Store:    store,
		warnFunc: warnFunc,
		warned:   make(map[string]bool),
	}
}

func (s *LoggingStore) logOnce(op string, err error) {
	if err == nil || s.warnFunc == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[op] {
		return
	}
	s.warned[op] = true
	s.warnFunc("session %s failed: %v", op, err)
}

// Resolve wraps Store.Resolve with error logging.
func (s *LoggingStore) Resolve(ctx context.Context, key string) (string, error) {
	id, err := s.Store.Resolve(ctx, key)
	s.logOnce("Resolve", err)
	return id, err
}

// Record wraps Store.Record with error logging.
func (s *LoggingStore) Record(ctx context.Context, key, model string, usage api.Usage) error {
	err := s.Store.Record(ctx, key, model, usage)
	s.logOnce("Record", err)
	return err
}
