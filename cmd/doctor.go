package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/samsaffron/claude-wrapper/internal/claudecli"
	"github.com/samsaffron/claude-wrapper/internal/config"
	"github.com/samsaffron/claude-wrapper/internal/credentials"
	"github.com/samsaffron/claude-wrapper/internal/session"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the claude CLI is installed and signed in",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var (
	doctorOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("✓")
	doctorWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("!")
	doctorFail = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("✗")
)

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	failed := false

	if path, err := config.GetConfigPath(); err == nil {
		if config.Exists() {
			fmt.Fprintf(out, "%s config: %s\n", doctorOK, path)
		} else {
			fmt.Fprintf(out, "%s config: %s (not found, using defaults)\n", doctorWarn, path)
		}
	}

	binPath, err := exec.LookPath(cfg.Backend.Binary)
	if err != nil {
		failed = true
		fmt.Fprintf(out, "%s backend: %q not found; %s\n", doctorFail, cfg.Backend.Binary, claudecli.InstallHint)
	} else {
		version := backendVersion(cmd.Context(), binPath)
		fmt.Fprintf(out, "%s backend: %s %s\n", doctorOK, binPath, version)
	}

	printLoginStatus(out, cfg)

	store, err := session.NewStore(cfg.Sessions)
	if err != nil {
		failed = true
		fmt.Fprintf(out, "%s sessions: %v\n", doctorFail, err)
	} else {
		store.Close()
		fmt.Fprintf(out, "%s sessions: %s store\n", doctorOK, cfg.Sessions.Store)
	}

	if failed {
		return fmt.Errorf("some checks failed")
	}
	return nil
}

func printLoginStatus(w io.Writer, cfg *config.Config) {
	login, err := credentials.CheckClaudeLogin()
	switch {
	case err != nil:
		fmt.Fprintf(w, "%s login: %v\n", doctorWarn, err)
	case !login.LoggedIn:
		fmt.Fprintf(w, "%s login: no stored sign-in at %s (run `claude` once to sign in)\n", doctorWarn, login.Source)
	case login.Expired(time.Now()):
		fmt.Fprintf(w, "%s login: token in %s expired %s; the CLI refreshes it on next use\n", doctorWarn, login.Source, login.ExpiresAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(w, "%s login: signed in (%s)\n", doctorOK, login.Source)
	}

	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		if cfg.Backend.PreferOAuth {
			fmt.Fprintf(w, "%s api key: ANTHROPIC_API_KEY is set but not passed to the CLI (backend.prefer_oauth)\n", doctorOK)
		} else {
			fmt.Fprintf(w, "%s api key: ANTHROPIC_API_KEY is passed to the CLI and billed per token\n", doctorWarn)
		}
	}
}

// backendVersion runs `<binary> --version`, returning "" on failure.
func backendVersion(ctx context.Context, binPath string) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, binPath, "--version").Output()
	if err != nil {
		return ""
	}
	return "(" + strings.TrimSpace(string(out)) + ")"
}
