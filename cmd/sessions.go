package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samsaffron/claude-wrapper/internal/config"
	"github.com/samsaffron/claude-wrapper/internal/session"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage persisted sessions",
	Long: `List, show and delete sessions kept by the sqlite session store.

A session maps a client's session key (the request 'user' field or the
session_id header) to the backend session id passed to the claude CLI.

Examples:
  claude-wrapper sessions                 # List recent sessions
  claude-wrapper sessions show alice
  claude-wrapper sessions rm alice`,
	RunE: runSessionsList, // Default to list
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show session details",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:     "rm <key>",
	Aliases: []string{"delete"},
	Short:   "Delete a session",
	Args:    cobra.ExactArgs(1),
	RunE:    runSessionsDelete,
}

// Flags
var (
	sessionsLimit int
	sessionsJSON  bool
)

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions to list")
	sessionsListCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	rootCmd.AddCommand(sessionsCmd)
}

func getSessionStore(cmd *cobra.Command) (session.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openPersistedStore(cfg)
}

// openPersistedStore opens the configured store if it outlives the server.
func openPersistedStore(cfg *config.Config) (session.Store, error) {
	if cfg.Sessions.Store != session.KindSQLite {
		return nil, fmt.Errorf("sessions.store is %q; only the sqlite store persists sessions (claude-wrapper config set sessions.store sqlite)", cfg.Sessions.Store)
	}
	return session.NewStore(cfg.Sessions)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.List(cmd.Context(), sessionsLimit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	fmt.Fprintf(out, "%-24s %-36s %-16s %5s %-13s %s\n", "KEY", "BACKEND ID", "MODEL", "TURNS", "TOKENS", "AGE")
	fmt.Fprintln(out, strings.Repeat("-", 110))
	for _, s := range sessions {
		fmt.Fprintf(out, "%-24s %-36s %-16s %5d %-13s %s\n",
			truncateKey(s.Key, 24), s.BackendID, s.Model, s.Turns,
			fmt.Sprintf("%d/%d", s.InputTokens, s.OutputTokens), formatAge(s.UpdatedAt))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if s == nil {
		return fmt.Errorf("session %q not found", args[0])
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	fmt.Fprintf(out, "Key:        %s\n", s.Key)
	fmt.Fprintf(out, "Backend ID: %s\n", s.BackendID)
	fmt.Fprintf(out, "Model:      %s\n", s.Model)
	fmt.Fprintf(out, "Turns:      %d\n", s.Turns)
	fmt.Fprintf(out, "Tokens:     %d in / %d out\n", s.InputTokens, s.OutputTokens)
	fmt.Fprintf(out, "Created:    %s\n", s.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:    %s (%s ago)\n", s.UpdatedAt.Local().Format(time.RFC3339), formatAge(s.UpdatedAt))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

func truncateKey(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
