package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesm/github-mirror/config"
	"github.com/wesm/github-mirror/internal/db"
)

type contextKey string

const cfgKey contextKey = "cfg"

var rootCmd = &cobra.Command{
	Use:   "ghmirror",
	Short: "Mirror your GitHub repositories and their open items locally",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := cmd.Annotations["skipConfig"]; ok {
			return nil
		}
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("%w (run 'ghmirror init' to create one)", err)
		}
		cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "config.toml", "Path to configuration file")
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(initCmd, updateCmd, statusCmd, rateLimitCmd, whoamiCmd)
}

func getCfg(cmd *cobra.Command) *config.Config {
	cfg, _ := cmd.Context().Value(cfgKey).(*config.Config)
	return cfg
}

// openDB opens and initializes the sync metadata database
func openDB(cfg *config.Config) (*db.DB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	database, err := db.New(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Initialize(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, nil
}

var initCmd = &cobra.Command{
	Use:         "init",
	Short:       "Create a default configuration file and data directory",
	Annotations: map[string]string{"skipConfig": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if err := config.CreateDefaultConfig(path); err != nil {
			return fmt.Errorf("failed to create default configuration: %w", err)
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration: %s\n", path)
		fmt.Fprintf(cmd.OutOrStdout(), "Data directory: %s\n", cfg.DataDir)
		if cfg.Token == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Set token in the configuration or the %s environment variable\n", config.EnvToken)
		}
		return nil
	},
}
