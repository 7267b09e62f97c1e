package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fivetwenty-io/wow-client/internal/constants"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// secretKeys are masked by config show.
var secretKeys = map[string]bool{
	"token":                true,
	"oauth2.client_secret": true,
}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Show and change the settings stored in ~/.wow/config.yml",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := flattenSettings("", viper.AllSettings())

			output := viper.GetString("output")
			if output == constants.FormatJSON || output == constants.FormatYAML {
				return writeValue(cmd.OutOrStdout(), settings)
			}

			keys := make([]string, 0, len(settings))
			for key := range settings {
				keys = append(keys, key)
			}

			sort.Strings(keys)

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Key", "Value")

			for _, key := range keys {
				_ = table.Append(key, settings[key])
			}

			if err := table.Render(); err != nil {
				return fmt.Errorf("failed to render table: %w", err)
			}

			return nil
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "set KEY VALUE",
		Short:   "Set a configuration value",
		Example: "  wow config set api https://orders.example.com\n  wow config set wait_timeout 1m",
		Args:    cobra.ExactArgs(2), //nolint:mnd // key and value
		RunE: func(cmd *cobra.Command, args []string) error {
			viper.Set(args[0], args[1])

			configFile := viper.ConfigFileUsed()
			if configFile == "" {
				dir, err := configDir()
				if err != nil {
					return err
				}

				configFile = filepath.Join(dir, "config.yml")
			}

			if err := os.MkdirAll(filepath.Dir(configFile), constants.ConfigDirPerm); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}

			if err := viper.WriteConfigAs(configFile); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], configFile)

			return nil
		},
	}
}

// flattenSettings turns nested settings into dotted keys with secrets masked.
func flattenSettings(prefix string, settings map[string]interface{}) map[string]string {
	out := make(map[string]string)

	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := value.(map[string]interface{}); ok {
			for k, v := range flattenSettings(fullKey, nested) {
				out[k] = v
			}

			continue
		}

		text := fmt.Sprint(value)
		if secretKeys[strings.ToLower(fullKey)] && text != "" {
			text = maskToken(text)
		}

		out[fullKey] = text
	}

	return out
}
