package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dealfiles/internal/config"
)

func newConfigCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get or set dealfiles configuration",
		Long:  "Get or set dealfiles configuration.\n\nKeys:\n" + configKeyTable(),
	}

	cmd.AddCommand(
		newConfigGetCmd(cfg),
		newConfigSetCmd(),
		newConfigListCmd(cfg, out),
	)
	return cmd
}

func newConfigGetCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:               "get <key>",
		Short:             "Print the effective value of a config key",
		Args:              requireExactlyArgs(1, "config key is required"),
		ValidArgsFunction: completeConfigKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.IsAllowedKey(args[0]) {
				return unknownConfigKey(args[0])
			}
			value, err := cfg.Redacted(args[0])
			if err != nil {
				return err
			}
			return writePlain("%s\n", value)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a config key to the project or global .dealfiles.toml",
		Long: "Write a config key to .dealfiles.toml in the current directory, or to the global file with --global.\n" +
			"The project file is only read when DEALFILES_TRUST_PROJECT_CONFIG=true. DEALFILES_* variables still override it.\n\nKeys:\n" +
			configKeyTable(),
		Args: requireExactlyArgs(2, "config key and value are required"),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 1 {
				return config.KeyValues(args[0]), cobra.ShellCompDirectiveNoFileComp
			}
			return completeConfigKeys(cmd, args, toComplete)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if !config.IsAllowedKey(key) {
				return unknownConfigKey(key)
			}

			var path string
			var err error
			if global {
				path, err = config.GlobalPath()
			} else {
				path, err = config.ProjectPath()
			}
			if err != nil {
				return err
			}

			if err := config.SetKey(path, key, value); err != nil {
				return err
			}
			return writePlain("%s = %s (%s)\n", key, strings.TrimSpace(value), path)
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write to the global config (~/.dealfiles.toml or $DEALFILES_CONFIG_DIR)")
	return cmd
}

func newConfigListCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show every config key with its effective value",
		Args:  requireExactlyArgs(0, "list takes no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]string, len(config.AllowedKeys()))
			for _, key := range config.AllowedKeys() {
				value, err := cfg.Redacted(key)
				if err != nil {
					return err
				}
				values[key] = value
			}
			return out.emit(values, func() error {
				for _, key := range config.AllowedKeys() {
					if err := writePlain("%s = %s\n", key, values[key]); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func completeConfigKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	keys := make([]string, 0, len(config.AllowedKeys()))
	for _, key := range config.AllowedKeys() {
		keys = append(keys, key+"\t"+config.KeyDescription(key))
	}
	return keys, cobra.ShellCompDirectiveNoFileComp
}

func configKeyTable() string {
	var b strings.Builder
	for _, key := range config.AllowedKeys() {
		fmt.Fprintf(&b, "  %-30s %s\n", key, config.KeyDescription(key))
	}
	return b.String()
}

func unknownConfigKey(key string) error {
	return fmt.Errorf("unknown key: %s (allowed: %s)", key, strings.Join(config.AllowedKeys(), ", "))
}
