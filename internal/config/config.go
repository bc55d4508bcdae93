package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samsaffron/claude-wrapper/internal/claudecli"
	"github.com/samsaffron/claude-wrapper/internal/session"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CLAUDE_WRAPPER_SERVE_PORT.
const EnvPrefix = "CLAUDE_WRAPPER"

type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Serve    ServeConfig    `mapstructure:"serve"`
	Sessions session.Config `mapstructure:"sessions"`
	Ask      AskConfig      `mapstructure:"ask"`
	Log      LogConfig      `mapstructure:"log"`
}

// BackendConfig controls how the claude CLI is launched.
type BackendConfig struct {
	Binary        string        `mapstructure:"binary"`
	Timeout       time.Duration `mapstructure:"timeout"`
	KillGrace     time.Duration `mapstructure:"kill_grace"`
	Workdir       string        `mapstructure:"workdir"`
	PreferOAuth   bool          `mapstructure:"prefer_oauth"`   // drop ANTHROPIC_API_KEY from the child env
	TranscriptDir string        `mapstructure:"transcript_dir"` // empty disables transcripts
}

// ServeConfig configures the HTTP server.
type ServeConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Token          string        `mapstructure:"token"`
	AllowNoAuth    bool          `mapstructure:"allow_no_auth"`
	CORSOrigins    []string      `mapstructure:"cors_origins"` // glob patterns
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type AskConfig struct {
	Model        string `mapstructure:"model"`
	Instructions string `mapstructure:"instructions"` // system prompt for ask
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// Defaults mirrors the values registered with viper.
var Defaults = map[string]any{
	"backend.binary":         claudecli.DefaultBinary,
	"backend.timeout":        claudecli.DefaultTimeout,
	"backend.kill_grace":     claudecli.DefaultKillGrace,
	"backend.workdir":        "",
	"backend.prefer_oauth":   true,
	"backend.transcript_dir": "",
	"serve.host":             "127.0.0.1",
	"serve.port":             3456,
	"serve.token":            "",
	"serve.allow_no_auth":    false,
	"serve.cors_origins":     []string{},
	"serve.request_timeout":  15 * time.Minute,
	"sessions.store":         session.KindMemory,
	"sessions.path":          "",
	"sessions.ttl":           time.Hour,
	"sessions.max_age_days":  0,
	"ask.model":              "sonnet",
	"ask.instructions":       "",
	"log.level":              "info",
	"log.format":             "text",
}

// Load reads config.yaml from the config directory or the working
// directory, applies CLAUDE_WRAPPER_* environment overrides and defaults.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}
	return LoadFrom(configPath, ".")
}

// LoadFrom is Load with explicit search directories.
func LoadFrom(dirs ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	for key, value := range Defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - won't error if missing)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Serve.Token = expandEnv(cfg.Serve.Token)
	cfg.Backend.Workdir = expandHome(cfg.Backend.Workdir)
	cfg.Backend.TranscriptDir = expandHome(cfg.Backend.TranscriptDir)
	cfg.Sessions.Path = expandHome(cfg.Sessions.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values that cannot work.
func (c *Config) Validate() error {
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive, got %s", c.Backend.Timeout)
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port %d out of range", c.Serve.Port)
	}
	switch c.Sessions.Store {
	case session.KindMemory, session.KindSQLite, session.KindNone:
	default:
		return fmt.Errorf("sessions.store %q is not one of memory, sqlite, none", c.Sessions.Store)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}
	return nil
}

// ProcessOptions builds the options passed to every backend run.
func (b BackendConfig) ProcessOptions(logger *slog.Logger) claudecli.Options {
	return claudecli.Options{
		Binary:      b.Binary,
		Timeout:     b.Timeout,
		KillGrace:   b.KillGrace,
		Dir:         b.Workdir,
		PreferOAuth: b.PreferOAuth,
		Logger:      logger,
	}
}

// SlogLevel parses the configured log level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// GetConfigDir returns the XDG config directory for claude-wrapper.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "claude-wrapper"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "claude-wrapper"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Save writes a starter config file with the default values.
func Save() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`backend:
  binary: %s
  timeout: %s
  prefer_oauth: true
  # transcript_dir: ~/.local/share/claude-wrapper/transcripts

serve:
  host: 127.0.0.1
  port: %d
  # token: ${CLAUDE_WRAPPER_TOKEN}
  # cors_origins:
  #   - "https://*.example.com"

sessions:
  store: memory   # memory, sqlite or none
  ttl: 1h

log:
  level: info
  format: text
`, claudecli.DefaultBinary, claudecli.DefaultTimeout, Defaults["serve.port"])

	return os.WriteFile(path, []byte(content), 0600)
}
