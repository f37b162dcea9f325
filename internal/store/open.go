package store

import (
	"fmt"
	"io"

	"remindme/internal/db"

	"github.com/sirupsen/logrus"
)

var (
	_ Backend = (*FileBackend)(nil)
	_ Backend = (*SQLiteBackend)(nil)
	_ Backend = (*db.DB)(nil)
)

// BackendConfig selects and locates the durable backend.
type BackendConfig struct {
	// Kind is "file", "sqlite" or "postgres".
	Kind         string
	SnapshotPath string
	SQLitePath   string
	DatabaseURL  string
	// ReadOnly opens the backend for inspection: the snapshot file is never
	// written or moved aside and the postgres schema is not migrated.
	ReadOnly bool
}

// OpenBackend opens the configured backend. Unless the backend is read-only
// the postgres schema is migrated to the latest version first.
func OpenBackend(cfg BackendConfig, logger *logrus.Logger) (Backend, error) {
	switch cfg.Kind {
	case "", "file":
		if cfg.ReadOnly {
			return NewReadOnlyFileBackend(cfg.SnapshotPath, logger), nil
		}
		return NewFileBackend(cfg.SnapshotPath, logger)
	case "sqlite":
		return NewSQLiteBackend(cfg.SQLitePath)
	case "postgres":
		conn, err := db.NewDB(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.ReadOnly {
			return conn, nil
		}
		n, err := conn.Migrator().WithOutput(io.Discard).MigrateUp()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		if n > 0 {
			logger.Infof("Applied %d database migrations", n)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Kind)
	}
}
