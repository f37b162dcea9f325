// Package store keeps reminders in memory, keyed by owner, and writes every
// change through to a durable backend before it is committed.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"remindme/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when the owner has no reminder with that id.
	ErrNotFound = errors.New("reminder not found")
	// ErrPersistence is returned when the durable write failed. The in-memory
	// state is left as it was before the call.
	ErrPersistence = errors.New("failed to persist reminders")
)

// Backend is the durable side of the store.
type Backend interface {
	// Load returns everything that was persisted. A backend that has never
	// been written returns an empty snapshot and no error. Records that
	// cannot be decoded are left out of the snapshot and reported instead.
	Load(ctx context.Context) (model.Snapshot, []model.RecordError, error)
	// Save replaces the whole persisted state.
	Save(ctx context.Context, snap model.Snapshot) error
	Upsert(ctx context.Context, r model.Reminder) error
	Delete(ctx context.Context, owner int64, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// Op is the verdict of a MutateFunc.
type Op int

const (
	// OpKeep leaves the reminder untouched and skips the durable write.
	OpKeep Op = iota
	// OpSave persists the mutated reminder.
	OpSave
	// OpDelete removes the reminder.
	OpDelete
)

// MutateFunc inspects and optionally changes a reminder while the owner is
// locked. Returning an error aborts the mutation and is passed to the caller.
type MutateFunc func(r *model.Reminder) (Op, error)

type ownerRecords struct {
	mu      sync.Mutex
	records map[string]model.Reminder
}

// Store is safe for concurrent use. Mutations of one owner are serialized;
// different owners proceed in parallel up to the backend.
type Store struct {
	backend Backend
	logger  *logrus.Logger
	now     func() time.Time

	mu     sync.RWMutex
	owners map[int64]*ownerRecords
}

func New(backend Backend, logger *logrus.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		owners:  make(map[int64]*ownerRecords),
	}
}

func (s *Store) owner(id int64) *ownerRecords {
	s.mu.RLock()
	o, ok := s.owners[id]
	s.mu.RUnlock()
	if ok {
		return o
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok = s.owners[id]; !ok {
		o = &ownerRecords{records: make(map[string]model.Reminder)}
		s.owners[id] = o
	}
	return o
}

// Add assigns a fresh id to the reminder and persists it.
func (s *Store) Add(ctx context.Context, owner int64, r model.Reminder) (model.Reminder, error) {
	o := s.owner(owner)
	o.mu.Lock()
	defer o.mu.Unlock()

	r = r.Clone()
	r.ID = uuid.NewString()
	r.Owner = owner
	now := s.now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Normalize()

	if err := s.backend.Upsert(ctx, r); err != nil {
		return model.Reminder{}, fmt.Errorf("%w: add %s: %v", ErrPersistence, r.ID, err)
	}
	o.records[r.ID] = r
	return r.Clone(), nil
}

// Get returns a copy of the reminder.
func (s *Store) Get(_ context.Context, owner int64, id string) (model.Reminder, error) {
	o := s.owner(owner)
	o.mu.Lock()
	defer o.mu.Unlock()

	r, ok := o.records[id]
	if !ok {
		return model.Reminder{}, ErrNotFound
	}
	return r.Clone(), nil
}

// List returns the owner's reminders ordered by fire time, ties by id.
func (s *Store) List(_ context.Context, owner int64) ([]model.Reminder, error) {
	o := s.owner(owner)
	o.mu.Lock()
	out := make([]model.Reminder, 0, len(o.records))
	for _, r := range o.records {
		out = append(out, r.Clone())
	}
	o.mu.Unlock()

	sortReminders(out)
	return out, nil
}

// Update applies fn to the reminder and persists the result.
func (s *Store) Update(ctx context.Context, owner int64, id string, fn func(r *model.Reminder) error) (model.Reminder, error) {
	r, _, err := s.Mutate(ctx, owner, id, func(r *model.Reminder) (Op, error) {
		if err := fn(r); err != nil {
			return OpKeep, err
		}
		return OpSave, nil
	})
	return r, err
}

// Remove deletes the reminder and returns what was removed.
func (s *Store) Remove(ctx context.Context, owner int64, id string) (model.Reminder, error) {
	r, _, err := s.Mutate(ctx, owner, id, func(*model.Reminder) (Op, error) {
		return OpDelete, nil
	})
	return r, err
}

// Mutate is an atomic read-modify-write. The returned reminder is the state
// after the operation (or the removed reminder for OpDelete).
func (s *Store) Mutate(ctx context.Context, owner int64, id string, fn MutateFunc) (model.Reminder, Op, error) {
	o := s.owner(owner)
	o.mu.Lock()
	defer o.mu.Unlock()

	current, ok := o.records[id]
	if !ok {
		return model.Reminder{}, OpKeep, ErrNotFound
	}

	next := current.Clone()
	op, err := fn(&next)
	if err != nil {
		return current.Clone(), OpKeep, err
	}

	switch op {
	case OpSave:
		next.ID = current.ID
		next.Owner = current.Owner
		next.UpdatedAt = s.now().UTC()
		next.Normalize()
		if err := s.backend.Upsert(ctx, next); err != nil {
			return current.Clone(), OpKeep, fmt.Errorf("%w: update %s: %v", ErrPersistence, id, err)
		}
		o.records[id] = next
		return next.Clone(), OpSave, nil
	case OpDelete:
		if err := s.backend.Delete(ctx, owner, id); err != nil {
			return current.Clone(), OpKeep, fmt.Errorf("%w: delete %s: %v", ErrPersistence, id, err)
		}
		delete(o.records, id)
		return current.Clone(), OpDelete, nil
	default:
		return current.Clone(), OpKeep, nil
	}
}

// Load replaces the in-memory state with the backend's snapshot. A missing
// or unreadable snapshot is logged and results in an empty store. Records
// that cannot be decoded are logged and skipped.
func (s *Store) Load(ctx context.Context) (model.Snapshot, error) {
	snap, skipped, err := s.backend.Load(ctx)
	if err != nil {
		s.logger.Warnf("Failed to load reminders, starting with an empty store: %v", err)
		snap = model.Snapshot{}
	}
	for _, rerr := range skipped {
		s.logger.WithFields(logrus.Fields{
			"owner":       rerr.Owner,
			"reminder_id": rerr.ID,
		}).Warnf("Skipping undecodable reminder: %v", rerr.Err)
	}

	owners := make(map[int64]*ownerRecords, len(snap))
	clean := make(model.Snapshot, len(snap))
	for owner, rs := range snap {
		o := &ownerRecords{records: make(map[string]model.Reminder, len(rs))}
		for _, r := range rs {
			r = r.Clone()
			r.Owner = owner
			r.Normalize()
			if r.ID == "" {
				s.logger.Warnf("Skipping reminder without id for owner %d", owner)
				continue
			}
			o.records[r.ID] = r
			clean[owner] = append(clean[owner], r.Clone())
		}
		owners[owner] = o
	}

	s.mu.Lock()
	s.owners = owners
	s.mu.Unlock()

	for owner := range clean {
		sortReminders(clean[owner])
	}
	return clean, nil
}

// Save writes the snapshot to the backend and makes it the in-memory state.
func (s *Store) Save(ctx context.Context, snap model.Snapshot) error {
	owners := make(map[int64]*ownerRecords, len(snap))
	clean := make(model.Snapshot, len(snap))
	for owner, rs := range snap {
		o := &ownerRecords{records: make(map[string]model.Reminder, len(rs))}
		for _, r := range rs {
			r = r.Clone()
			r.Owner = owner
			r.Normalize()
			o.records[r.ID] = r
			clean[owner] = append(clean[owner], r)
		}
		owners[owner] = o
	}

	if err := s.backend.Save(ctx, clean); err != nil {
		return fmt.Errorf("%w: save snapshot: %v", ErrPersistence, err)
	}

	s.mu.Lock()
	s.owners = owners
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the in-memory state.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	owners := make(map[int64]*ownerRecords, len(s.owners))
	for id, o := range s.owners {
		owners[id] = o
	}
	s.mu.RUnlock()

	snap := make(model.Snapshot, len(owners))
	for id, o := range owners {
		o.mu.Lock()
		for _, r := range o.records {
			snap[id] = append(snap[id], r.Clone())
		}
		o.mu.Unlock()
		sortReminders(snap[id])
	}
	return snap
}

func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func sortReminders(rs []model.Reminder) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].FireAt.Equal(rs[j].FireAt) {
			return rs[i].FireAt.Before(rs[j].FireAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

// Inspect reads the backend without touching the in-memory state. Unlike
// Load it returns backend errors and the records that were skipped.
func (s *Store) Inspect(ctx context.Context) (model.Snapshot, []model.RecordError, error) {
	snap, skipped, err := s.backend.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	for owner := range snap {
		sortReminders(snap[owner])
	}
	return snap, skipped, nil
}
