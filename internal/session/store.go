// Package session maps opaque caller session keys to backend session ids.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samsaffron/claude-wrapper/internal/api"
)

// Store resolves and tracks sessions.
type Store interface {
	// Resolve returns the backend id for key, creating one on first use.
	// An empty key resolves to an empty id.
	Resolve(ctx context.Context, key string) (string, error)
	// Record adds one completed turn and its usage to key's session.
	Record(ctx context.Context, key, model string, usage api.Usage) error

	Get(ctx context.Context, key string) (*Session, error)
	List(ctx context.Context, limit int) ([]Session, error)
	Delete(ctx context.Context, key string) error

	Close() error
}

// Kinds of store.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
	KindNone   = "none"
)

// Config holds session storage configuration.
type Config struct {
	Store      string        `mapstructure:"store"`        // memory, sqlite or none
	Path       string        `mapstructure:"path"`         // sqlite file; defaults to the data dir
	TTL        time.Duration `mapstructure:"ttl"`          // idle eviction for the memory store
	MaxAgeDays int           `mapstructure:"max_age_days"` // sqlite rows older than this are pruned (0=never)
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Store: KindMemory,
		TTL:   time.Hour,
	}
}

// GetDataDir returns the XDG data directory for claude-wrapper.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "claude-wrapper"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "claude-wrapper"), nil
}

// GetDBPath returns the path to the sessions database.
func GetDBPath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "sessions.db"), nil
}

// NewStore creates the Store selected by cfg.
func NewStore(cfg Config) (Store, error) {
	switch cfg.Store {
	case "", KindMemory:
		return NewMemoryStore(cfg.TTL), nil
	case KindSQLite:
		return NewSQLiteStore(cfg)
	case KindNone:
		return &NoopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown session store %q (want memory, sqlite or none)", cfg.Store)
	}
}
