package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/redactai/redactai/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "redactai",
	Short: "redactai - sensitive-data risk decisions for AI chat prompts",
	Long: `redactai scores text before it is sent to an AI chat service. A pattern
detector and a semantic classifier feed one SAFE / WARN / BLOCK decision,
every decision is recorded, and proceeding past a risky decision notifies
the user's configured contact.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "redactai.yaml", "Path to redactai config file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
