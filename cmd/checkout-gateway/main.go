package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mostafaomar7/tadawi-checkout/internal/config"
	"github.com/mostafaomar7/tadawi-checkout/internal/logger"
	"github.com/mostafaomar7/tadawi-checkout/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configDir string
	env       string
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "checkout-gateway",
		Short:         "Pharmacy cart and checkout gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", "configs", "directory holding base.yaml and environment overlays")
	rootCmd.PersistentFlags().StringVar(&opts.env, "env", os.Getenv("TADAWI_ENV"), "environment overlay to apply (e.g. production)")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(migrateCmd(opts))
	rootCmd.AddCommand(incidentsCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configDir, o.env)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to load config: %w", err)
	}
	l, err := logger.New(cfg.Log, cfg.App.Name)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(l)
	return cfg, l, nil
}

func openRepository(cfg config.Config, l *zap.Logger) (*repository.Repository, error) {
	creds := cfg.Database
	if creds.Driver == repository.DriverSQLite && creds.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(creds.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	repo, err := repository.NewRepository(&creds, l)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(&creds); err != nil {
		_ = repo.Close()
		return nil, err
	}
	l.Info("database migrations completed")
	return repo, nil
}
