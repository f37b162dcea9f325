package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remindme/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackendMissingSnapshotIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reminders.json")
	backend, err := NewFileBackend(path, quietLogger())
	require.NoError(t, err)

	snap, skipped, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
	assert.Empty(t, skipped)
}

func TestCorruptSnapshotYieldsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reminders.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"1": [ {"id": `), 0o644))

	backend, err := NewFileBackend(path, quietLogger())
	require.NoError(t, err)
	s := New(backend, quietLogger())

	snap, err := s.Load(context.Background())
	require.NoError(t, err, "a corrupt snapshot must never fail startup")
	assert.Empty(t, snap)

	matches, err := filepath.Glob(filepath.Join(dir, "reminders.json.corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1, "the corrupt file is kept for inspection")
}

func TestFileBackendReadsLegacySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.json")
	legacy := `{
    "941791842": [
        {"id": "1b4e28ba-2fa1-11d2-883f-0016d3cca427", "time": "2026-10-19T16:30:00+00:00", "text": "Dinner", "user_id": "941791842"},
        {"id": "naive", "time": "2026-10-19T19:30:00", "text": "no zone", "user_id": "941791842"},
        {"id": "moscow", "time": "2026-10-20T10:00:00.250000+03:00", "text": "Meeting", "user_id": "941791842"}
    ],
    "not-a-user": []
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	backend, err := NewFileBackend(path, quietLogger())
	require.NoError(t, err)
	snap, skipped, err := backend.Load(context.Background())
	require.NoError(t, err)

	rs := snap[941791842]
	require.Len(t, rs, 2, "the record with a naive timestamp is skipped")
	require.Len(t, skipped, 2)
	assert.Equal(t, "naive", skipped[0].ID)
	assert.ErrorContains(t, skipped[0], "no zone offset")
	assert.ErrorContains(t, skipped[1], `invalid owner "not-a-user"`)

	assert.Equal(t, "Dinner", rs[0].Text)
	assert.Equal(t, time.Date(2026, 10, 19, 16, 30, 0, 0, time.UTC), rs[0].FireAt)
	assert.Equal(t, time.UTC, rs[0].FireAt.Location())
	assert.Equal(t, rs[0].ID, rs[0].ScheduleID)
	assert.True(t, rs[0].Recurrence.IsNone())
	assert.Equal(t, model.StateIdle, rs[0].State)

	assert.Equal(t, time.Date(2026, 10, 20, 7, 0, 0, 250000000, time.UTC), rs[1].FireAt)
}

func TestFileBackendSkipsUndecodableRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "reminders.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
    "5": [
        {"id": "good", "schedule_id": "s1", "fire_at": "2026-10-19T09:00:00Z", "text": "tea", "recurrence": {"kind": "daily"}},
        {"id": "weekly", "schedule_id": "s2", "fire_at": "2026-10-19T09:00:00Z", "text": "bad", "recurrence": "weekly"},
        {"id": "naive", "schedule_id": "s3", "fire_at": "2099-01-01 10:00:00", "text": "bad"}
    ],
    "6": {"id": "not-a-list"},
    "7": [
        {"id": "other", "schedule_id": "s4", "fire_at": "2026-10-20T09:00:00Z", "text": "walk"}
    ]
}`), 0o644))

	backend, err := NewFileBackend(path, quietLogger())
	require.NoError(t, err)
	snap, skipped, err := backend.Load(ctx)
	require.NoError(t, err)

	require.Len(t, snap[5], 1)
	assert.Equal(t, "good", snap[5][0].ID)
	assert.Equal(t, model.Daily(), snap[5][0].Recurrence)
	require.Len(t, snap[7], 1)

	require.Len(t, skipped, 3)
	assert.Equal(t, model.RecordError{Owner: 5, ID: "weekly", Err: skipped[0].Err}, skipped[0])
	assert.Equal(t, "naive", skipped[1].ID)
	assert.Equal(t, int64(6), skipped[2].Owner)

	// The good records load through the store and the file stays where it is
	s := New(backend, quietLogger())
	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Count())
	_, err = os.Stat(path)
	require.NoError(t, err)
	moved, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Empty(t, moved)
}

func TestReadOnlyFileBackendKeepsCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reminders.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1, 2`), 0o644))

	backend := NewReadOnlyFileBackend(path, quietLogger())
	_, _, err := backend.Load(ctx)
	require.Error(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)

	s := New(backend, quietLogger())
	_, _, err = s.Inspect(ctx)
	assert.Error(t, err)
	_, err = s.Add(ctx, 1, sample("x", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorContains(t, err, ErrReadOnly.Error())
	assert.NoError(t, backend.Ping(ctx))
}

func TestFileBackendWritesCanonicalUTC(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reminders.json")
	backend, err := NewFileBackend(path, quietLogger())
	require.NoError(t, err)
	s := New(backend, quietLogger())

	moscow := time.FixedZone("MSK", 3*60*60)
	_, err = s.Add(ctx, 5, sample("tea", time.Date(2026, 10, 19, 17, 0, 0, 0, moscow)))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"5": [`)
	assert.Contains(t, string(data), `"fire_at": "2026-10-19T14:00:00Z"`)

	leftovers, err := filepath.Glob(path + ".*.tmp")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileBackendDeleteDropsEmptyOwner(t *testing.T) {
	ctx := context.Background()
	s, path := newFileStore(t)

	r, err := s.Add(ctx, 9, sample("once", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	_, err = s.Remove(ctx, 9, r.ID)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
	assert.NoError(t, s.Ping(ctx))
}
