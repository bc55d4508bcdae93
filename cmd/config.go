package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samsaffron/claude-wrapper/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage claude-wrapper configuration",
	Long: `View or edit your claude-wrapper configuration.

Examples:
  claude-wrapper config                          # show effective config
  claude-wrapper config path                     # print config file path
  claude-wrapper config init                     # write a starter config
  claude-wrapper config set serve.port 8080
  claude-wrapper config get backend.timeout`,
	RunE: configShow, // Default to show
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  configShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	Args:  cobra.NoArgs,
	RunE:  configPath,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Args:  cobra.NoArgs,
	RunE:  configInit,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value while preserving comments.

Examples:
  claude-wrapper config set backend.binary /usr/local/bin/claude
  claude-wrapper config set sessions.store sqlite
  claude-wrapper config set serve.token '${CLAUDE_WRAPPER_TOKEN}'`,
	Args:              cobra.ExactArgs(2),
	RunE:              configSet,
	ValidArgsFunction: configKeyCompletion,
}

var configGetCmd = &cobra.Command{
	Use:               "get <key>",
	Short:             "Get a configuration value",
	Args:              cobra.ExactArgs(1),
	RunE:              configGet,
	ValidArgsFunction: configKeyCompletion,
}

var configForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
}

func configShow(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if config.Exists() {
		fmt.Fprintf(out, "# %s\n", path)
	} else {
		fmt.Fprintf(out, "# %s (not found, showing defaults)\n", path)
	}
	data, err := yaml.Marshal(effectiveSettings(cfg))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// effectiveSettings renders cfg with the same keys the config file uses.
func effectiveSettings(cfg *config.Config) map[string]any {
	token := "(auto-generated)"
	if cfg.Serve.Token != "" {
		token = "(set)"
	}
	return map[string]any{
		"backend": map[string]any{
			"binary":         cfg.Backend.Binary,
			"timeout":        cfg.Backend.Timeout.String(),
			"kill_grace":     cfg.Backend.KillGrace.String(),
			"workdir":        cfg.Backend.Workdir,
			"prefer_oauth":   cfg.Backend.PreferOAuth,
			"transcript_dir": cfg.Backend.TranscriptDir,
		},
		"serve": map[string]any{
			"host":            cfg.Serve.Host,
			"port":            cfg.Serve.Port,
			"token":           token,
			"allow_no_auth":   cfg.Serve.AllowNoAuth,
			"cors_origins":    cfg.Serve.CORSOrigins,
			"request_timeout": cfg.Serve.RequestTimeout.String(),
		},
		"sessions": map[string]any{
			"store":        cfg.Sessions.Store,
			"path":         cfg.Sessions.Path,
			"ttl":          cfg.Sessions.TTL.String(),
			"max_age_days": cfg.Sessions.MaxAgeDays,
		},
		"ask": map[string]any{
			"model":        cfg.Ask.Model,
			"instructions": cfg.Ask.Instructions,
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
	}
}

func configPath(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func configInit(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if config.Exists() && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

// configSet sets a configuration value while preserving comments
func configSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	if _, ok := config.Defaults[key]; !ok {
		return fmt.Errorf("unknown config key %q", key)
	}

	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Read existing file or create empty document
	var root yaml.Node
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		root = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	} else if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	} else if root.Kind == 0 {
		// empty file
		root = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}

	if err := setYAMLValue(&root, strings.Split(key, "."), value); err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&root); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()

	if err := os.WriteFile(configPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// Reject values the loader cannot use, leaving the previous file intact.
	if _, err := config.LoadFrom(configDir); err != nil {
		if data == nil {
			_ = os.Remove(configPath)
		} else {
			_ = os.WriteFile(configPath, data, 0600)
		}
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
	return nil
}

// setYAMLValue navigates/creates the path in a yaml.Node tree and sets the value
func setYAMLValue(root *yaml.Node, path []string, value string) error {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid document structure")
	}

	current := root.Content[0]
	if current.Kind != yaml.MappingNode {
		return fmt.Errorf("root is not a mapping")
	}

	for i, part := range path {
		isLast := i == len(path)-1

		found := false
		for j := 0; j < len(current.Content); j += 2 {
			if current.Content[j].Value != part {
				continue
			}
			next := current.Content[j+1]
			if isLast {
				next.Kind = yaml.ScalarNode
				next.Tag = ""
				next.Value = value
				next.Content = nil
			} else {
				if next.Kind != yaml.MappingNode {
					next.Kind = yaml.MappingNode
					next.Tag = ""
					next.Value = ""
					next.Content = nil
				}
				current = next
			}
			found = true
			break
		}
		if found {
			continue
		}

		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: part}
		if isLast {
			current.Content = append(current.Content, keyNode, &yaml.Node{Kind: yaml.ScalarNode, Value: value})
		} else {
			mapping := &yaml.Node{Kind: yaml.MappingNode}
			current.Content = append(current.Content, keyNode, mapping)
			current = mapping
		}
	}

	return nil
}

// configGet prints the effective value of a key, including defaults.
func configGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if _, ok := config.Defaults[key]; !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var node any = effectiveSettings(cfg)
	for _, part := range strings.Split(key, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return fmt.Errorf("key not found: %s", key)
		}
		node = m[part]
	}
	switch v := node.(type) {
	case []string:
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(v, ","))
	default:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}

func configKeyCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var keys []string
	for key := range config.Defaults {
		if strings.HasPrefix(key, toComplete) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, cobra.ShellCompDirectiveNoFileComp
}
