package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/samsaffron/claude-wrapper/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debugLog, "debug", "d", false, "Log at debug level (includes backend stderr)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides config)")
}

var rootCmd = &cobra.Command{
	Use:   "claude-wrapper",
	Short: "OpenAI-compatible chat completions backed by the claude CLI",
	Long: `claude-wrapper serves the OpenAI chat completions API by running the
claude CLI once per request and translating its line-delimited JSON output.

Examples:
  claude-wrapper serve                          # listen on 127.0.0.1:3456
  claude-wrapper ask "explain this error"       # one-shot request
  claude-wrapper models resolve claude-3-opus   # show alias resolution

  claude-wrapper config                         # view configuration`,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

var debugLog bool
var logFormat string

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration and installs the process-wide logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if debugLog {
		cfg.Log.Level = "debug"
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cfg, nil
}

func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	switch lc.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", lc.Format)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "claude-wrapper %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
