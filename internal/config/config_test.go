package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Backend.Binary != "claude" {
		t.Errorf("binary = %q, want claude", cfg.Backend.Binary)
	}
	if cfg.Backend.Timeout != 300*time.Second {
		t.Errorf("timeout = %s, want 300s", cfg.Backend.Timeout)
	}
	if !cfg.Backend.PreferOAuth {
		t.Error("prefer_oauth should default to true")
	}
	if cfg.Serve.Host != "127.0.0.1" || cfg.Serve.Port != 3456 {
		t.Errorf("serve = %s:%d", cfg.Serve.Host, cfg.Serve.Port)
	}
	if cfg.Sessions.Store != "memory" || cfg.Sessions.TTL != time.Hour {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `backend:
  timeout: 45s
  binary: /opt/claude/bin/claude
serve:
  port: 8080
  token: ${TEST_WRAPPER_TOKEN}
  cors_origins:
    - "https://*.example.com"
sessions:
  store: sqlite
log:
  level: debug
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_WRAPPER_TOKEN", "s3cret")
	t.Setenv("CLAUDE_WRAPPER_SERVE_HOST", "0.0.0.0")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Backend.Timeout != 45*time.Second {
		t.Errorf("timeout = %s, want 45s", cfg.Backend.Timeout)
	}
	if cfg.Backend.Binary != "/opt/claude/bin/claude" {
		t.Errorf("binary = %q", cfg.Backend.Binary)
	}
	if cfg.Serve.Port != 8080 || cfg.Serve.Host != "0.0.0.0" {
		t.Errorf("serve = %s:%d", cfg.Serve.Host, cfg.Serve.Port)
	}
	if cfg.Serve.Token != "s3cret" {
		t.Errorf("token = %q, want expanded env value", cfg.Serve.Token)
	}
	if len(cfg.Serve.CORSOrigins) != 1 || cfg.Serve.CORSOrigins[0] != "https://*.example.com" {
		t.Errorf("cors_origins = %q", cfg.Serve.CORSOrigins)
	}
	if cfg.Sessions.Store != "sqlite" {
		t.Errorf("sessions.store = %q", cfg.Sessions.Store)
	}
	if cfg.Log.SlogLevel().String() != "DEBUG" {
		t.Errorf("log level = %s", cfg.Log.SlogLevel())
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("sessions:\n  store: redis\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(dir); err == nil {
		t.Fatal("LoadFrom accepted sessions.store=redis")
	}
}

func TestProcessOptions(t *testing.T) {
	b := BackendConfig{Binary: "claude", Timeout: time.Minute, PreferOAuth: true, Workdir: "/tmp"}
	opts := b.ProcessOptions(nil)
	if opts.Binary != "claude" || opts.Timeout != time.Minute || !opts.PreferOAuth || opts.Dir != "/tmp" {
		t.Fatalf("options = %+v", opts)
	}
}

func TestSaveWritesLoadableConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists() {
		t.Fatal("config file missing after Save")
	}
	dir, _ := GetConfigDir()
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if cfg.Backend.Timeout != 300*time.Second {
		t.Errorf("timeout = %s", cfg.Backend.Timeout)
	}
}
