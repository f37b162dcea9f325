package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := BackendConfig{
		SnapshotPath: filepath.Join(dir, "reminders.json"),
		SQLitePath:   filepath.Join(dir, "reminders.db"),
	}

	for _, kind := range []string{"file", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			cfg := cfg
			cfg.Kind = kind
			b, err := OpenBackend(cfg, quietLogger())
			require.NoError(t, err)
			defer b.Close()
			assert.NoError(t, b.Ping(context.Background()))
		})
	}

	_, err := OpenBackend(BackendConfig{Kind: "redis"}, quietLogger())
	assert.ErrorContains(t, err, "redis")
}
