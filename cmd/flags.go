package cmd

import (
	"strings"
	"time"

	"github.com/samsaffron/claude-wrapper/internal/config"
	"github.com/samsaffron/claude-wrapper/internal/models"
	"github.com/spf13/cobra"
)

// AddBackendFlags adds --binary and --timeout, overriding backend.binary
// and backend.timeout.
func AddBackendFlags(cmd *cobra.Command, binary *string, timeout *time.Duration) {
	cmd.Flags().StringVar(binary, "binary", "", "Path or name of the claude executable")
	cmd.Flags().DurationVar(timeout, "timeout", 0, "Per-request backend timeout (e.g. 90s, 5m)")
}

func applyBackendFlags(cmd *cobra.Command, b *config.BackendConfig, binary string, timeout time.Duration) {
	if cmd.Flags().Changed("binary") && binary != "" {
		b.Binary = binary
	}
	if cmd.Flags().Changed("timeout") && timeout > 0 {
		b.Timeout = timeout
	}
}

// AddModelFlag adds the --model/-m flag with alias completion
func AddModelFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "model", "m", "", "Model name or alias (e.g., sonnet, claude-opus-4, anthropic/claude-3-haiku)")
	if err := cmd.RegisterFlagCompletionFunc("model", ModelFlagCompletion); err != nil {
		panic("failed to register model completion: " + err.Error())
	}
}

// AddSystemMessageFlag adds the --system/-s flag
func AddSystemMessageFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "system", "s", "", "System message/instructions (overrides config)")
}

// ModelFlagCompletion completes known model names.
func ModelFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var out []string
	for _, name := range models.Known() {
		if strings.HasPrefix(name, toComplete) {
			out = append(out, name)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
