package cli

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/Dicklesworthstone/hitl/internal/config"
	"github.com/Dicklesworthstone/hitl/internal/output"
	"github.com/spf13/cobra"
)

var flagConfigGlobal bool

func init() {
	addConfigSetFlags(configSetCmd)
	configCmd.AddCommand(configShowCmd, configGetCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func addConfigSetFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&flagConfigGlobal, "global", "g", false, "write to the user config (~/.hitl/config.toml) instead of the project")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit configuration",
	Long: `Configuration precedence: defaults < ~/.hitl/config.toml < .hitl/config.toml < HITL_* env < flags.
The effective configuration is read once per process.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}

		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if w.Format() == output.FormatText {
			_, err := cmd.OutOrStdout().Write(buf.Bytes())
			return err
		}
		// Round-trip through TOML so structured output uses the file's key names.
		var tree map[string]any
		if _, err := toml.Decode(buf.String(), &tree); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return w.Write(tree)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		val, ok := config.GetValue(cfg, args[0])
		if !ok {
			return fmt.Errorf("unknown key %q", args[0])
		}
		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if w.Format() == output.FormatText {
			fmt.Fprintln(cmd.OutOrStdout(), val)
			return nil
		}
		return w.Write(map[string]any{"key": args[0], "value": val})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one configuration value",
	Long: `Write a scalar configuration value to the project config, or to the user
config with --global. The result is validated before it is written.

Examples:
  hitlctl config set sla.critical_minutes 10
  hitlctl config set notifications.webhook_url https://hooks.example.com/hitl -g`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, raw := args[0], args[1]
		val, err := config.ParseValue(key, raw)
		if err != nil {
			return err
		}
		project, err := projectPath()
		if err != nil {
			return err
		}
		userFile, projectFile := config.ConfigPaths(project, flagConfig)
		target := projectFile
		if flagConfigGlobal {
			target = userFile
		}

		// Reject values that would leave the effective configuration invalid.
		if _, err := config.Load(config.LoadOptions{
			ProjectDir:    project,
			ConfigPath:    flagConfig,
			FlagOverrides: map[string]any{key: val},
		}); err != nil {
			return err
		}
		if err := config.WriteValue(target, key, val); err != nil {
			return err
		}

		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if w.Format() == output.FormatText {
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v in %s\n", key, val, target)
			return nil
		}
		return w.Write(map[string]any{"key": key, "value": val, "path": target})
	},
}
