package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/samsaffron/claude-wrapper/internal/api"
	"github.com/samsaffron/claude-wrapper/internal/models"
	"github.com/spf13/cobra"
)

var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models served over the API",
	Long: `List the public model names served by /v1/models.

Any model name a client sends is accepted; names that are not recognized
fall back to the default alias. Use 'models resolve' to check a name.

Examples:
  claude-wrapper models
  claude-wrapper models --json
  claude-wrapper models resolve gpt-4 openrouter/anthropic/claude-3-opus`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

var modelsResolveCmd = &cobra.Command{
	Use:               "resolve <name>...",
	Short:             "Show which backend alias a model name resolves to",
	Args:              cobra.MinimumNArgs(1),
	RunE:              runModelsResolve,
	ValidArgsFunction: ModelFlagCompletion,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsResolveCmd)
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
}

var (
	modelsHeader = lipgloss.NewStyle().Bold(true)
	modelsDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	modelsWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func runModels(cmd *cobra.Command, args []string) error {
	list := api.ModelList{Object: "list", Data: models.List()}
	out := cmd.OutOrStdout()
	if modelsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	fmt.Fprintf(out, "%s  %s\n", modelsHeader.Render(fmt.Sprintf("%-18s", "MODEL")), modelsHeader.Render("ALIAS"))
	for _, m := range list.Data {
		fmt.Fprintf(out, "%-18s  %s\n", m.ID, models.Resolve(m.ID))
	}
	fmt.Fprintln(out, modelsDim.Render(fmt.Sprintf("unrecognized names use %q", models.Default)))
	return nil
}

func runModelsResolve(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, name := range args {
		printResolution(out, name)
	}
	return nil
}

func printResolution(w io.Writer, name string) {
	alias, known := models.Lookup(name)
	if known {
		fmt.Fprintf(w, "%s -> %s (%s)\n", name, alias, models.PublicNameFor(alias))
		return
	}
	line := fmt.Sprintf("%s -> %s (default, name not recognized)", name, alias)
	fmt.Fprintln(w, modelsWarn.Render(line))
	if suggestions := models.Suggest(name, 3); len(suggestions) > 0 {
		fmt.Fprintln(w, modelsDim.Render("  did you mean: "+strings.Join(suggestions, ", ")))
	}
}
