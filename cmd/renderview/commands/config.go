package commands

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage RenderView configuration",
	Long:  `View and manage RenderView configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective RenderView configuration.`,
	Example: `  # Show configuration as YAML (default)
  renderview config show

  # Show configuration as JSON
  renderview config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value. The value is parsed as YAML, so
numbers and booleans keep their type and durations are written as "500ms".`,
	Example: `  # Set the control port
  renderview config set control.port 42100

  # Match a different viewport title
  renderview config set viewport.title_pattern "Blender Render"`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a specific configuration value.`,
	Example: `  # Get the control port
  renderview config get control.port`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig("")
	if err != nil {
		return err
	}

	switch formatFlag {
	case "json":
		encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	mgr, _, err := loadConfig("")
	if err != nil {
		return err
	}
	if _, ok := mgr.Lookup(key); !ok {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	var value interface{}
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
		value = raw
	}
	mgr.Set(key, value)

	if _, err := mgr.Get(); err != nil {
		return fmt.Errorf("rejected %s=%s: %w", key, raw, err)
	}
	if err := mgr.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("✅ Configuration updated: %s = %v\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	mgr, _, err := loadConfig("")
	if err != nil {
		return err
	}

	value, ok := mgr.Lookup(args[0])
	if !ok {
		return fmt.Errorf("configuration key not found: %s", args[0])
	}
	fmt.Println(value)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	mgr, _, err := loadConfig("")
	if err != nil {
		return err
	}

	fmt.Println(mgr.GetConfigPath())
	return nil
}
