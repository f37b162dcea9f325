package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"remindme/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLiteBackend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	b, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("create sqlite backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, path
}

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	backend, path := newTestSQLite(t)
	s := New(backend, quietLogger())

	at := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	rec := sample("stretch", at)
	rec.Recurrence = model.WeeklyOn(time.Monday, time.Thursday)
	rec.RequiresConfirmation = true
	r, err := s.Add(ctx, 77, rec)
	require.NoError(t, err)

	retryAt := at.Add(30 * time.Minute)
	_, err = s.Update(ctx, 77, r.ID, func(r *model.Reminder) error {
		r.State = model.StateAwaitingConfirmation
		r.RetryScheduleID = "retry-x"
		r.RetryAt = &retryAt
		return nil
	})
	require.NoError(t, err)

	gone, err := s.Add(ctx, 77, sample("gone", at))
	require.NoError(t, err)
	_, err = s.Remove(ctx, 77, gone.ID)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	reopened, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	defer reopened.Close()

	snap, skipped, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, snap[77], 1)

	got := snap[77][0]
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "stretch", got.Text)
	assert.Equal(t, at, got.FireAt)
	assert.Equal(t, model.WeeklyOn(time.Monday, time.Thursday), got.Recurrence)
	assert.True(t, got.RequiresConfirmation)
	assert.Equal(t, 30*time.Minute, got.RetryInterval.Std())
	assert.Equal(t, model.StateAwaitingConfirmation, got.State)
	assert.Equal(t, "retry-x", got.RetryScheduleID)
	require.NotNil(t, got.RetryAt)
	assert.Equal(t, retryAt, *got.RetryAt)
}

func TestSQLiteBackendSaveReplacesEverything(t *testing.T) {
	ctx := context.Background()
	backend, _ := newTestSQLite(t)
	s := New(backend, quietLogger())

	_, err := s.Add(ctx, 1, sample("old", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	keep := sample("new", time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC))
	keep.ID = "fixed-id"
	require.NoError(t, s.Save(ctx, model.Snapshot{2: {keep}}))

	snap, _, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap[1])
	require.Len(t, snap[2], 1)
	assert.Equal(t, "fixed-id", snap[2][0].ID)
	assert.NoError(t, backend.Ping(ctx))
}

func TestSQLiteBackendSkipsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	backend, _ := newTestSQLite(t)
	at := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)

	for _, id := range []string{"a", "b", "c", "d"} {
		r := sample(id, at)
		r.ID = id
		r.Owner = 3
		r.State = model.StateIdle
		r.CreatedAt, r.UpdatedAt = at, at
		require.NoError(t, backend.Upsert(ctx, r))
	}
	_, err := backend.db.ExecContext(ctx, `UPDATE reminders SET fire_at = 'garbage' WHERE id = 'b'`)
	require.NoError(t, err)
	_, err = backend.db.ExecContext(ctx, `UPDATE reminders SET recurrence = '"weekly"' WHERE id = 'c'`)
	require.NoError(t, err)

	snap, skipped, err := backend.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap[3], 2)
	assert.Equal(t, "a", snap[3][0].ID)
	assert.Equal(t, "d", snap[3][1].ID)

	require.Len(t, skipped, 2)
	ids := []string{skipped[0].ID, skipped[1].ID}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
	for _, rerr := range skipped {
		assert.Equal(t, int64(3), rerr.Owner)
	}
}
