package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"remindme/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	backend, err := store.NewFileBackend(filepath.Join(t.TempDir(), "reminders.json"), logger)
	require.NoError(t, err)
	return store.New(backend, logger)
}

func TestGenerateRemindersAreValid(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	seeder := NewSeeder(nil, 1, 42)

	rs := seeder.generateReminders(now, 50, 7)
	require.Len(t, rs, 50)
	for _, r := range rs {
		r.Owner = 1
		assert.NoError(t, r.Validate())
		assert.True(t, r.FireAt.After(now))
		assert.False(t, r.FireAt.After(now.Add(7*24*time.Hour)))
		assert.NotEmpty(t, r.ScheduleID)
	}
}

func TestSeedRemindersReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	seeder := NewSeeder(s, 7, 1)

	n, err := seeder.SeedReminders(ctx, now, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = seeder.SeedReminders(ctx, now, 3, 3)
	require.NoError(t, err)
	list, err := s.List(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
