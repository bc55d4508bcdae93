package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samsaffron/claude-wrapper/internal/api"
)

// MemoryStore keeps sessions in process memory and forgets keys that sit
// idle longer than the TTL.
type MemoryStore struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	stopCh   chan struct{}
	now      func() time.Time
}

// NewMemoryStore starts a store with an eviction janitor. A zero ttl
// disables eviction.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	m := &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	if ttl > 0 {
		go m.janitor()
	}
	return m
}

func (m *MemoryStore) janitor() {
	ticker := time.NewTicker(max(30*time.Second, m.ttl/2))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryStore) evictExpired() {
	if m.ttl <= 0 {
		return
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.sessions {
		if now.Sub(s.UpdatedAt) > m.ttl {
			delete(m.sessions, key)
		}
	}
}

// Resolve returns key's backend id and refreshes its idle timer. Unknown
// keys get a fresh id.
func (m *MemoryStore) Resolve(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.UpdatedAt = m.now()
		return s.BackendID, nil
	}
	now := m.now()
	s := &Session{Key: key, BackendID: NewID(), CreatedAt: now, UpdatedAt: now}
	m.sessions[key] = s
	return s.BackendID, nil
}

// Record adds one turn of usage to key's session. Evicted keys are ignored.
func (m *MemoryStore) Record(ctx context.Context, key, model string, usage api.Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	s.Model = model
	s.Turns++
	s.InputTokens += usage.PromptTokens
	s.OutputTokens += usage.CompletionTokens
	s.UpdatedAt = m.now()
	return nil
}

// Get returns a copy of key's session or nil when unknown.
func (m *MemoryStore) Get(ctx context.Context, key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// List returns up to limit sessions, most recently used first.
func (m *MemoryStore) List(ctx context.Context, limit int) ([]Session, error) {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete forgets key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
	return nil
}

// Close stops the janitor.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stopCh)
	return nil
}
