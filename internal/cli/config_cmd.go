package cli

import (
	"fmt"
	"path/filepath"

	"github.com/lucasnoah/converge/internal/config"
	"github.com/lucasnoah/converge/internal/prompt"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect converge configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate the configuration for a repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(dirArg(args))
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			cmd.Println("Configuration is valid.")
			return nil
		}

		cmd.Println("Validation errors:")
		for _, e := range errs {
			cmd.Printf("  - %s\n", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [dir]",
	Short: "Show the resolved configuration with defaults merged",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(dirArg(args))
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		if cfg.Source != "" {
			cmd.Printf("# source: %s\n", cfg.Source)
		} else {
			cmd.Println("# source: detected from repository contents")
		}
		cmd.Print(string(data))
		return nil
	},
}

var configTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Install the built-in agent prompts under ~/.converge/prompts for editing",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, written, err := prompt.InstallBuiltinTemplates()
		if err != nil {
			return err
		}
		if len(written) == 0 {
			cmd.Printf("All templates already present in %s.\n", dir)
			return nil
		}
		for _, name := range written {
			cmd.Printf("  wrote %s\n", filepath.Join(dir, name))
		}
		return nil
	},
}

func dirArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// loadConfig resolves the configuration for the repository in dir: the
// --config file when given, otherwise the repository's own file or detection.
func loadConfig(dir string) (*config.Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	if configPath == "" {
		return config.LoadDefault(abs)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.EnsureChecks(abs)
	return cfg, nil
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configTemplatesCmd)
}
