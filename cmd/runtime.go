package cmd

import (
	"fmt"
	"log/slog"

	"github.com/samsaffron/claude-wrapper/internal/bridge"
	"github.com/samsaffron/claude-wrapper/internal/config"
	"github.com/samsaffron/claude-wrapper/internal/session"
)

// newBridge wires the backend, session store and transcripts from cfg.
// The caller closes the returned store.
func newBridge(cfg *config.Config, logger *slog.Logger) (*bridge.Bridge, session.Store, error) {
	store, err := session.NewStore(cfg.Sessions)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	logged := session.NewLoggingStore(store, func(format string, args ...any) {
		logger.Warn(fmt.Sprintf(format, args...))
	})

	b := &bridge.Bridge{
		Backend:       bridge.CLIBackend{Options: cfg.Backend.ProcessOptions(logger)},
		Sessions:      logged,
		TranscriptDir: cfg.Backend.TranscriptDir,
		Logger:        logger,
	}
	return b, logged, nil
}
