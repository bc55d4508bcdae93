package session

import (
	"context"

	"github.com/samsaffron/claude-wrapper/internal/api"
)

// NoopStore never assigns session ids. Requests run without --session-id.
type NoopStore struct{}

func (s *NoopStore) Resolve(ctx context.Context, key string) (string, error) {
	return "", nil
}

func (s *NoopStore) Record(ctx context.Context, key, model string, usage api.Usage) error {
	return nil
}

func (s *NoopStore) Get(ctx context.Context, key string) (*Session, error) {
	return nil, nil
}

func (s *NoopStore) List(ctx context.Context, limit int) ([]Session, error) {
	return nil, nil
}

func (s *NoopStore) Delete(ctx context.Context, key string) error {
	return nil
}

func (s *NoopStore) Close() error {
	return nil
}
