package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/windturbine/am"
	"github.com/teranos/windturbine/errors"
)

// AmCmd groups the configuration commands
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Inspect windturbine configuration",
	Long: `Display and validate windturbine configuration.

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/windturbine/windturbine.toml)
3. User config (~/.windturbine/windturbine.toml)
4. Project config (windturbine.toml, searched upward from the working directory)
5. Environment variables (WINDTURBINE_* prefix, e.g. WINDTURBINE_ALERT_THRESHOLD)

--config replaces steps 2-4 with a single file.

Examples:
  windturbine am show                  # Effective configuration as TOML
  windturbine am show --format json    # ... as JSON
  windturbine am get sensor.path       # One value
  windturbine am where                 # Which source set each value
  windturbine am validate              # Check the configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get one configuration value",
	Long:  "Get one configuration value using dot notation (e.g., sensor.path, retry.count)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which source set each value",
	RunE:  runAmWhere,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runAmValidate,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amValidateCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	settings, err := am.SanitizedSettings()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# windturbine configuration\n%s", data)
	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Fprintf(out, "# windturbine configuration\n%s", data)
	default:
		return errors.WithHint(errors.Newf("unsupported format: %s", configFormat), "supported: toml, json, yaml")
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	key := args[0]
	settings, err := am.GetConfigIntrospection()
	if err != nil {
		return err
	}
	for _, s := range settings.Settings {
		if s.Key == key {
			fmt.Fprintln(cmd.OutOrStdout(), s.Value)
			return nil
		}
	}
	return errors.Newf("configuration key %q not found", key)
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return errors.Wrap(err, "failed to get config introspection")
	}

	settings := append([]am.SettingInfo(nil), intro.Settings...)
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })

	data := pterm.TableData{{"Key", "Value", "Source", "From"}}
	for _, s := range settings {
		data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadValidConfig(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}
