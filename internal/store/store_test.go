package store

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"remindme/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// flakyBackend wraps a backend and fails writes on demand.
type flakyBackend struct {
	Backend
	mu   sync.Mutex
	fail bool
}

func (b *flakyBackend) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

func (b *flakyBackend) failing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fail
}

func (b *flakyBackend) Upsert(ctx context.Context, r model.Reminder) error {
	if b.failing() {
		return errors.New("disk full")
	}
	return b.Backend.Upsert(ctx, r)
}

func (b *flakyBackend) Delete(ctx context.Context, owner int64, id string) error {
	if b.failing() {
		return errors.New("disk full")
	}
	return b.Backend.Delete(ctx, owner, id)
}

func newFileStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reminders.json")
	backend, err := NewFileBackend(path, quietLogger())
	require.NoError(t, err)
	s := New(backend, quietLogger())
	_, err = s.Load(context.Background())
	require.NoError(t, err)
	return s, path
}

func sample(text string, at time.Time) model.Reminder {
	return model.Reminder{
		ScheduleID:    "sched-" + text,
		FireAt:        at,
		Text:          text,
		Recurrence:    model.Once(),
		RetryInterval: model.Duration(30 * time.Minute),
	}
}

func TestAddAssignsIDAndPersists(t *testing.T) {
	ctx := context.Background()
	s, path := newFileStore(t)
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	r, err := s.Add(ctx, 42, sample("water plants", at))
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, int64(42), r.Owner)
	assert.Equal(t, model.StateIdle, r.State)

	other, err := s.Add(ctx, 42, sample("water plants", at))
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, other.ID, "ids are never reused")

	// A fresh store over the same file sees both records
	backend, err := NewFileBackend(path, quietLogger())
	require.NoError(t, err)
	reloaded := New(backend, quietLogger())
	snap, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap[42], 2)

	got, err := reloaded.Get(ctx, 42, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "water plants", got.Text)
	assert.True(t, got.FireAt.Equal(at))
}

func TestAddRollsBackOnPersistenceError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reminders.json")
	fb, err := NewFileBackend(path, quietLogger())
	require.NoError(t, err)
	backend := &flakyBackend{Backend: fb}
	s := New(backend, quietLogger())

	backend.setFail(true)
	_, err = s.Add(ctx, 1, sample("a", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, ErrPersistence)

	list, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUpdateAndRemoveKeepStateOnPersistenceError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reminders.json")
	fb, err := NewFileBackend(path, quietLogger())
	require.NoError(t, err)
	backend := &flakyBackend{Backend: fb}
	s := New(backend, quietLogger())

	r, err := s.Add(ctx, 1, sample("a", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	backend.setFail(true)
	_, err = s.Update(ctx, 1, r.ID, func(r *model.Reminder) error {
		r.Text = "changed"
		return nil
	})
	assert.ErrorIs(t, err, ErrPersistence)

	_, err = s.Remove(ctx, 1, r.ID)
	assert.ErrorIs(t, err, ErrPersistence)

	got, err := s.Get(ctx, 1, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Text)
}

func TestListSortedByFireAtThenID(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)
	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	late, err := s.Add(ctx, 1, sample("late", base.Add(2*time.Hour)))
	require.NoError(t, err)
	tieA, err := s.Add(ctx, 1, sample("tie-a", base))
	require.NoError(t, err)
	tieB, err := s.Add(ctx, 1, sample("tie-b", base))
	require.NoError(t, err)
	_, err = s.Add(ctx, 2, sample("someone else", base))
	require.NoError(t, err)

	list, err := s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 3)

	first, second := tieA.ID, tieB.ID
	if second < first {
		first, second = second, first
	}
	assert.Equal(t, []string{first, second, late.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestGetAndRemoveUnknown(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)

	_, err := s.Get(ctx, 1, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Remove(ctx, 1, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Update(ctx, 1, "missing", func(*model.Reminder) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMutateVerdicts(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)
	r, err := s.Add(ctx, 1, sample("a", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	_, op, err := s.Mutate(ctx, 1, r.ID, func(r *model.Reminder) (Op, error) {
		r.Text = "ignored"
		return OpKeep, nil
	})
	require.NoError(t, err)
	assert.Equal(t, OpKeep, op)
	got, _ := s.Get(ctx, 1, r.ID)
	assert.Equal(t, "a", got.Text, "OpKeep must not commit changes")

	boom := errors.New("boom")
	_, _, err = s.Mutate(ctx, 1, r.ID, func(*model.Reminder) (Op, error) { return OpSave, boom })
	assert.ErrorIs(t, err, boom)

	removed, op, err := s.Mutate(ctx, 1, r.ID, func(*model.Reminder) (Op, error) { return OpDelete, nil })
	require.NoError(t, err)
	assert.Equal(t, OpDelete, op)
	assert.Equal(t, r.ID, removed.ID)

	_, err = s.Get(ctx, 1, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMutationsAreSerializedPerOwner(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)
	r, err := s.Add(ctx, 1, sample("counter", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, 1, r.ID, func(r *model.Reminder) error {
				r.Text += "+"
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, 1, r.ID)
	require.NoError(t, err)
	assert.Len(t, got.Text, len("counter")+20)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)
	rec := sample("weekly", time.Now().Add(time.Hour))
	rec.Recurrence = model.WeeklyOn(time.Monday, time.Thursday)
	r, err := s.Add(ctx, 1, rec)
	require.NoError(t, err)

	r.Recurrence.Days[0] = time.Sunday

	got, err := s.Get(ctx, 1, r.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, got.Recurrence.Days[0])
}

func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, path := newFileStore(t)
	base := time.Date(2026, 10, 19, 9, 0, 0, 123456789, time.UTC)

	_, err := s.Add(ctx, 1, sample("a", base))
	require.NoError(t, err)
	confirm := sample("b", base.Add(time.Minute))
	confirm.RequiresConfirmation = true
	confirm.State = model.StateAwaitingConfirmation
	confirm.Recurrence = model.Daily()
	retryAt := base.Add(30 * time.Minute)
	confirm.RetryAt = &retryAt
	confirm.RetryScheduleID = "retry-1"
	_, err = s.Add(ctx, 2, confirm)
	require.NoError(t, err)

	backend, err := NewFileBackend(path, quietLogger())
	require.NoError(t, err)
	other := New(backend, quietLogger())
	loaded, err := other.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, other.Save(ctx, loaded))
	again, err := other.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, loaded, again)
	assert.Equal(t, s.Snapshot(), again)
}
