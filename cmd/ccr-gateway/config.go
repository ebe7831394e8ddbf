package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccrouter/gateway/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without starting the server.
Checks YAML syntax, required fields, and provider configurations.`,
	RunE: runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	// Determine config path
	configPath := cfgFile
	if configPath == "" {
		configPath = findConfigFileForValidate()
	}

	if err := validateConfigAtPath(configPath); err != nil {
		fmt.Printf("✗ Config validation failed: %s\n", err)
		return err
	}

	fmt.Printf("✓ %s is valid\n", configPath)

	return nil
}

// validateConfigAtPath loads the config at path and runs both the structural
// check (validateConfig) and the scored semantic pass (config.ScoreConfig),
// printing any warnings/issues the scored pass surfaces along the way.
func validateConfigAtPath(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if err := validateConfig(cfg); err != nil {
		return err
	}

	result := config.ScoreConfig(context.Background(), cfg, nil)
	for _, warning := range result.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
	for _, issue := range result.Errors {
		fmt.Printf("  %s: %s\n", issue.Severity, issue.Message)
	}

	return nil
}

// validateConfig performs structural validation beyond YAML parsing.
func validateConfig(cfg *config.Config) error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	if cfg.Server.APIKey == "" {
		return fmt.Errorf("server.api_key is required")
	}

	hasEnabledProvider := false

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Enabled {
			hasEnabledProvider = true
			if len(p.Keys) == 0 {
				return fmt.Errorf("provider %s has no API keys configured", p.Name)
			}
		}
	}

	if !hasEnabledProvider {
		return fmt.Errorf("no enabled providers configured")
	}

	return nil
}

// findConfigFileForValidate searches for config file in default locations.
func findConfigFileForValidate() string {
	home, _ := os.UserHomeDir()
	return findConfigInWithHome(".", home)
}
