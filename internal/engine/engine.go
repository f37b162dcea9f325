// Package engine ties the reminder store, the timer and the dispatcher
// together. It owns the confirmation state machine and startup recovery.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindme/internal/metrics"
	"remindme/internal/model"
	"remindme/internal/notify"
	"remindme/internal/scheduler"
	"remindme/internal/store"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_RETRY_INTERVAL   = 30 * time.Minute
	DEFAULT_DISPATCH_TIMEOUT = 10 * time.Second
	DEFAULT_DISPLAY_TIMEZONE = "Europe/Moscow"
)

var (
	// ErrValidation is returned for malformed requests. Nothing is created.
	ErrValidation = errors.New("invalid reminder")
	// ErrAlreadyHandled is returned when an action no longer applies, for
	// example a skip after the reminder was confirmed.
	ErrAlreadyHandled = errors.New("reminder already handled")
	// ErrSchedule is returned when a stored reminder could not be armed. The
	// record is rolled back.
	ErrSchedule = errors.New("failed to schedule reminder")
)

// IsBenign reports whether err is one of the "nothing to do" outcomes that
// callers should show to the user instead of treating as a failure.
func IsBenign(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrAlreadyHandled)
}

type Options struct {
	Now                  func() time.Time
	DispatchTimeout      time.Duration
	DefaultRetryInterval time.Duration
	// Location is the display zone used when rendering times.
	Location *time.Location
	Metrics  *metrics.Metrics
}

type pendingKey struct {
	owner int64
	id    string
}

type Engine struct {
	store      *store.Store
	timer      scheduler.Timer
	dispatcher notify.Dispatcher
	logger     *logrus.Logger
	metrics    *metrics.Metrics

	now             func() time.Time
	dispatchTimeout time.Duration
	retryInterval   time.Duration
	loc             *time.Location

	locks ownerLocks

	pendingMu sync.Mutex
	// (owner, id) -> schedule id of the fire that asked for confirmation
	pending map[pendingKey]string
}

func New(s *store.Store, timer scheduler.Timer, dispatcher notify.Dispatcher, logger *logrus.Logger, opts Options) *Engine {
	e := &Engine{
		store:           s,
		timer:           timer,
		dispatcher:      dispatcher,
		logger:          logger,
		metrics:         opts.Metrics,
		now:             opts.Now,
		dispatchTimeout: opts.DispatchTimeout,
		retryInterval:   opts.DefaultRetryInterval,
		loc:             opts.Location,
		locks:           ownerLocks{m: make(map[int64]*sync.Mutex)},
		pending:         make(map[pendingKey]string),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.dispatchTimeout <= 0 {
		e.dispatchTimeout = DEFAULT_DISPATCH_TIMEOUT
	}
	if e.retryInterval <= 0 {
		e.retryInterval = DEFAULT_RETRY_INTERVAL
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.metrics == nil {
		e.metrics = metrics.NewNoop()
	}
	return e
}

// Location returns the display zone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// CreateRequest is an inbound scheduling request. FireAt may carry any zone;
// it is stored in UTC.
type CreateRequest struct {
	Owner                int64
	FireAt               time.Time
	Text                 string
	Recurrence           model.Recurrence
	RequiresConfirmation bool
	// Zero means the configured default.
	RetryInterval time.Duration
}

// CreateReminder validates, stores and arms a new reminder. A recurring
// reminder whose first occurrence already passed starts at the next one; a
// one-shot in the past is rejected.
func (e *Engine) CreateReminder(ctx context.Context, req CreateRequest) (model.Reminder, error) {
	now := e.now().UTC()
	rec, err := e.buildReminder(req, now)
	if err != nil {
		e.metrics.Action(ctx, "create", "invalid")
		return model.Reminder{}, err
	}

	unlock := e.locks.lock(req.Owner)
	defer unlock()

	created, err := e.store.Add(ctx, req.Owner, rec)
	if err != nil {
		e.metrics.Action(ctx, "create", "failed")
		return model.Reminder{}, err
	}

	if err := e.armPrimary(created); err != nil {
		// Keep store and timer in agreement
		if _, rerr := e.store.Remove(ctx, created.Owner, created.ID); rerr != nil {
			e.logger.WithField("reminder_id", created.ID).Errorf("Failed to roll back unarmed reminder: %v", rerr)
		}
		e.metrics.Action(ctx, "create", "failed")
		return model.Reminder{}, fmt.Errorf("%w: %v", ErrSchedule, err)
	}

	e.logger.WithFields(logrus.Fields{
		"owner":       created.Owner,
		"reminder_id": created.ID,
		"schedule_id": created.ScheduleID,
		"fire_at":     created.FireAt,
		"recurrence":  created.Recurrence.Kind,
	}).Info("Reminder created")
	e.metrics.Action(ctx, "create", "ok")
	return created, nil
}

func (e *Engine) buildReminder(req CreateRequest, now time.Time) (model.Reminder, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return model.Reminder{}, fmt.Errorf("%w: text is empty", ErrValidation)
	}
	if req.FireAt.IsZero() {
		return model.Reminder{}, fmt.Errorf("%w: fire time is missing", ErrValidation)
	}
	if req.RetryInterval < 0 {
		return model.Reminder{}, fmt.Errorf("%w: retry interval is negative", ErrValidation)
	}
	if err := req.Recurrence.Validate(); err != nil {
		return model.Reminder{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	recurrence := req.Recurrence
	if recurrence.Kind == "" {
		recurrence = model.Once()
	}
	fireAt := req.FireAt.UTC()
	if !fireAt.After(now) {
		if recurrence.IsNone() {
			return model.Reminder{}, fmt.Errorf("%w: %s is in the past", ErrValidation, e.FormatTime(fireAt))
		}
		fireAt = model.NextOccurrence(fireAt, recurrence, now)
	}
	if recurrence.Kind == model.RecurrenceWeeklyOnDays {
		// Start at the first selected weekday, not at the anchor's own day
		fireAt = model.NextOccurrence(fireAt, recurrence, fireAt.Add(-time.Nanosecond))
	}

	retry := req.RetryInterval
	if retry == 0 {
		retry = e.retryInterval
	}

	return model.Reminder{
		ScheduleID:           scheduler.NewScheduleID(),
		FireAt:               fireAt,
		Text:                 text,
		Recurrence:           recurrence,
		RequiresConfirmation: req.RequiresConfirmation,
		RetryInterval:        model.Duration(retry),
		State:                model.StateIdle,
	}, nil
}

// ListReminders returns the owner's reminders ordered by fire time.
func (e *Engine) ListReminders(ctx context.Context, owner int64) ([]model.Reminder, error) {
	return e.store.List(ctx, owner)
}

// Pending returns the ids of the owner's reminders that wait for a confirm
// or a skip.
func (e *Engine) Pending(owner int64) []string {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	var ids []string
	for k := range e.pending {
		if k.owner == owner {
			ids = append(ids, k.id)
		}
	}
	return ids
}

func (e *Engine) isPending(owner int64, id string) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	_, ok := e.pending[pendingKey{owner, id}]
	return ok
}

func (e *Engine) setPending(owner int64, id, scheduleID string) {
	e.pendingMu.Lock()
	e.pending[pendingKey{owner, id}] = scheduleID
	e.pendingMu.Unlock()
}

func (e *Engine) clearPending(owner int64, id string) {
	e.pendingMu.Lock()
	delete(e.pending, pendingKey{owner, id})
	e.pendingMu.Unlock()
}

func (e *Engine) armPrimary(r model.Reminder) error {
	return e.timer.Arm(scheduler.Trigger{
		ScheduleID: r.ScheduleID,
		Owner:      r.Owner,
		ReminderID: r.ID,
		FireAt:     r.FireAt,
		Recurrence: r.Recurrence,
	}, e.HandleFire)
}

func (e *Engine) armRetry(r model.Reminder) error {
	if r.RetryScheduleID == "" || r.RetryAt == nil {
		return errors.New("no retry trigger to arm")
	}
	return e.timer.Arm(scheduler.Trigger{
		ScheduleID: r.RetryScheduleID,
		Owner:      r.Owner,
		ReminderID: r.ID,
		FireAt:     *r.RetryAt,
		Recurrence: model.Once(),
	}, e.HandleFire)
}

func (e *Engine) disarm(ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := e.timer.Disarm(id); err != nil && !errors.Is(err, scheduler.ErrNotArmed) {
			e.logger.WithField("schedule_id", id).Errorf("Failed to disarm trigger: %v", err)
		}
	}
}

// ownerLocks serializes fires and user actions of one owner.
type ownerLocks struct {
	mu sync.Mutex
	m  map[int64]*sync.Mutex
}

func (l *ownerLocks) lock(owner int64) func() {
	l.mu.Lock()
	m, ok := l.m[owner]
	if !ok {
		m = &sync.Mutex{}
		l.m[owner] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
