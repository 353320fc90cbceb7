package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/krellgit/claude-autonomy-tracker/internal/config"
	"github.com/krellgit/claude-autonomy-tracker/internal/db"
	"github.com/krellgit/claude-autonomy-tracker/internal/logger"
	"github.com/krellgit/claude-autonomy-tracker/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// defaultConfigPath is read when present; without it the built-in defaults
// (a local SQLite file) apply.
const defaultConfigPath = "tracker.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Autonomy Tracker, a leaderboard for autonomous agent sessions",
		Long:  "Records how long coding agents work without human input and ranks the longest runs.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Missing .env is normal outside development.
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newTopCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newDigestCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tracker %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// addConfigFlag registers the shared --config flag on cmd.
func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to tracker config file")
}

// loadConfig reads configPath. A missing file at the default path falls back
// to the built-in defaults; a missing file anywhere else is an error.
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if configPath == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// connectFromConfig loads the config, sets up logging and opens the store.
func connectFromConfig(ctx context.Context, configPath string) (*config.Config, zerolog.Logger, *gorm.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Pretty)

	gormDB, err := db.Connect(ctx, cfg.Database, log)
	if err != nil {
		return nil, log, nil, err
	}
	return cfg, log, gormDB, nil
}

// openStore is connectFromConfig followed by a migration, for commands that
// read or write sessions.
func openStore(ctx context.Context, configPath string) (*config.Config, zerolog.Logger, *store.Store, error) {
	cfg, log, gormDB, err := connectFromConfig(ctx, configPath)
	if err != nil {
		return nil, log, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		_ = db.Close(gormDB)
		return nil, log, nil, err
	}
	return cfg, log, store.New(gormDB), nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
