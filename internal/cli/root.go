// Package cli implements the remindctl operator commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"remindme/internal/config"
	"remindme/internal/db"
	"remindme/internal/logging"
	"remindme/internal/store"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	envFile string
	format  string
}

// NewRootCmd builds the remindctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "remindctl",
		Short:         "Operator tools for the reminder bot",
		Long:          "Inspect and import reminder snapshots and manage the Postgres schema.",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Missing file is fine, the process environment is used as is
			_ = godotenv.Load(opts.envFile)
		},
	}
	root.PersistentFlags().StringVarP(&opts.envFile, "env", "e", ".env", "Environment file to load")
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", "text", "Output format: json or text")

	root.AddCommand(newSnapshotCmd(opts), newMigrateCmd(opts))
	return root
}

// openStore opens the configured store. A read-only store never writes,
// migrates or moves a corrupt snapshot aside.
func openStore(readOnly bool) (*store.Store, *logrus.Logger, error) {
	cfg, err := config.StoreFromEnv()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.GetLogger(cfg.LogLevel, cfg.LogFormat)
	backend, err := store.OpenBackend(store.BackendConfig{
		Kind:         cfg.StoreBackend,
		SnapshotPath: cfg.SnapshotPath,
		SQLitePath:   cfg.SQLitePath,
		DatabaseURL:  cfg.DatabaseURL,
		ReadOnly:     readOnly,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	return store.New(backend, logger), logger, nil
}

func openDB() (*db.DB, error) {
	cfg, err := config.StoreFromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for migrations")
	}
	return db.NewDB(cfg.DatabaseURL)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
