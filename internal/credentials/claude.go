// Package credentials inspects the sign-in state of the claude CLI.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

type claudeCredentials struct {
	ClaudeAiOauth *oauthCredentials `json:"claudeAiOauth"`
}

type oauthCredentials struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"` // unix millis
}

// ClaudeLogin describes stored claude CLI OAuth credentials. The token
// itself is never returned.
type ClaudeLogin struct {
	Source    string // "keychain" or the credentials file path
	LoggedIn  bool
	ExpiresAt time.Time // zero when unknown
}

// Expired reports whether the stored token expired before now. The CLI
// refreshes tokens itself, so an expired token is a hint, not a failure.
func (l ClaudeLogin) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt)
}

// CheckClaudeLogin looks for the credentials the claude CLI stores after
// sign-in. On macOS, it reads from the system keychain.
// On other platforms, it reads from ~/.claude/.credentials.json
// (or $CLAUDE_CONFIG_DIR/.credentials.json).
func CheckClaudeLogin() (ClaudeLogin, error) {
	if runtime.GOOS == "darwin" {
		if data, err := getFromMacKeychain(); err == nil {
			return parseClaudeCredentials("keychain", data)
		}
	}
	path, err := CredentialsPath()
	if err != nil {
		return ClaudeLogin{}, err
	}
	return CheckCredentialsFile(path)
}

// CredentialsPath returns where the claude CLI keeps its credentials file.
func CredentialsPath() (string, error) {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, ".credentials.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".claude", ".credentials.json"), nil
}

// CheckCredentialsFile reads login state from a credentials file.
func CheckCredentialsFile(path string) (ClaudeLogin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ClaudeLogin{Source: path}, nil
		}
		return ClaudeLogin{Source: path}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseClaudeCredentials(path, data)
}

func parseClaudeCredentials(source string, data []byte) (ClaudeLogin, error) {
	login := ClaudeLogin{Source: source}
	var creds claudeCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return login, fmt.Errorf("failed to parse claude credentials: %w", err)
	}
	if creds.ClaudeAiOauth == nil || creds.ClaudeAiOauth.AccessToken == "" {
		return login, nil
	}
	login.LoggedIn = true
	if creds.ClaudeAiOauth.ExpiresAt > 0 {
		login.ExpiresAt = time.UnixMilli(creds.ClaudeAiOauth.ExpiresAt)
	}
	return login, nil
}

func getFromMacKeychain() ([]byte, error) {
	user := os.Getenv("USER")
	if user == "" {
		return nil, fmt.Errorf("USER environment variable not set")
	}

	cmd := exec.Command("security", "find-generic-password",
		"-s", "Claude Code-credentials",
		"-a", user,
		"-w")

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to read from keychain: %w", err)
	}

	return output, nil
}
