package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"staging-backend/config"
	"staging-backend/conn"
	"staging-backend/logging"
	"staging-backend/migrations"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:           "staging-backend",
	Short:         "Credit ledger and billing backend for the virtual staging service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.AddCommand(serveCmd, migrateCmd, reconcileCmd, checkSubscriptionsCmd, grantCmd, resetCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and sets up logging for a command.
func loadConfig() (*config.Config, error) {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "staging-backend"})
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "staging-backend"})
	return cfg, nil
}

// openDB connects to MySQL and applies the schema.
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := conn.NewMySQL(ctx, cfg)
	if err != nil {
		return nil, err
	}
	migrations.Init(db)
	if err := migrations.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// withApp runs fn with a fully wired app and closes the database afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	a, err := newApp(cfg, db)
	if err != nil {
		return err
	}
	log.Debug().Str("command", cmd.Name()).Msg("app ready")
	return fn(ctx, a)
}
