package engine

import (
	"context"
	"errors"
	"time"

	"remindme/internal/model"
	"remindme/internal/scheduler"
	"remindme/internal/store"

	"github.com/sirupsen/logrus"
)

type fireOutcome string

const (
	outcomeStale     fireOutcome = "stale"
	outcomeRetired   fireOutcome = "retired"
	outcomeRecurring fireOutcome = "recurring"
	outcomeAwaiting  fireOutcome = "awaiting"
	outcomeFailed    fireOutcome = "failed"
)

// HandleFire is the FireFunc of every trigger armed by the engine. The
// reminder is looked up again under the owner lock; a fire whose schedule id
// is no longer the reminder's is dropped.
func (e *Engine) HandleFire(ctx context.Context, ev scheduler.FireEvent) {
	outcome := e.handleFire(ctx, ev)
	e.metrics.Fired(context.WithoutCancel(ctx), string(outcome))
}

func (e *Engine) handleFire(ctx context.Context, ev scheduler.FireEvent) fireOutcome {
	unlock := e.locks.lock(ev.Owner)
	defer unlock()

	// Persistence must finish even if the scheduler is shutting down
	persistCtx := context.WithoutCancel(ctx)
	log := e.logger.WithFields(logrus.Fields{
		"owner":       ev.Owner,
		"reminder_id": ev.ID,
		"schedule_id": ev.ScheduleID,
	})

	rec, err := e.store.Get(persistCtx, ev.Owner, ev.ID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("Fired reminder no longer exists")
		return outcomeStale
	}
	if err != nil {
		log.Errorf("Failed to look up fired reminder: %v", err)
		return outcomeFailed
	}

	retryFire := false
	switch ev.ScheduleID {
	case rec.ScheduleID:
	case rec.RetryScheduleID:
		retryFire = true
	default:
		log.Debug("Ignoring fire of a replaced trigger")
		return outcomeStale
	}

	due := ev.At
	if due.IsZero() {
		due = rec.FireAt
	}
	e.dispatch(ctx, rec, due, log)

	now := e.now().UTC()
	switch {
	case !rec.RequiresConfirmation && rec.IsOneShot():
		if _, err := e.store.Remove(persistCtx, rec.Owner, rec.ID); err != nil {
			// The record stays and is delivered again by the next recovery
			log.Errorf("Failed to retire reminder: %v", err)
			return outcomeFailed
		}
		e.clearPending(rec.Owner, rec.ID)
		log.Info("One-shot reminder retired")
		return outcomeRetired

	case !rec.RequiresConfirmation:
		next := model.NextOccurrence(rec.FireAt, rec.Recurrence, latest(now, ev.At))
		if _, err := e.store.Update(persistCtx, rec.Owner, rec.ID, func(r *model.Reminder) error {
			r.FireAt = next
			return nil
		}); err != nil {
			log.Errorf("Failed to refresh fire time: %v", err)
			return outcomeFailed
		}
		return outcomeRecurring

	case rec.IsOneShot():
		return e.awaitOneShot(persistCtx, rec, now, log)

	default:
		return e.awaitRecurring(persistCtx, rec, ev, retryFire, now, log)
	}
}

// dispatch sends the reminder. due is the instant the trigger was set for,
// which is earlier than now when a missed reminder is delivered late.
func (e *Engine) dispatch(ctx context.Context, rec model.Reminder, due time.Time, log *logrus.Entry) {
	dctx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
	defer cancel()

	start := time.Now()
	err := e.dispatcher.Send(dctx, rec.Owner, e.renderFired(rec, due))
	e.metrics.Dispatched(context.WithoutCancel(ctx), time.Since(start).Seconds(), err)
	if err != nil {
		log.Warnf("Failed to dispatch reminder: %v", err)
	}
}

// awaitOneShot moves the one-shot trigger forward by the retry interval; the
// retry is the reminder's only trigger, so it takes a new schedule id.
func (e *Engine) awaitOneShot(ctx context.Context, rec model.Reminder, now time.Time, log *logrus.Entry) fireOutcome {
	retryAt := now.Add(rec.RetryInterval.Std())
	updated, err := e.store.Update(ctx, rec.Owner, rec.ID, func(r *model.Reminder) error {
		r.State = model.StateAwaitingConfirmation
		r.ScheduleID = scheduler.NewScheduleID()
		r.FireAt = retryAt
		return nil
	})
	if err != nil {
		log.Errorf("Failed to persist confirmation state: %v", err)
		// Re-arm under the id the store still knows so the reminder is not lost
		rec.FireAt = retryAt
		updated = rec
	}

	if err := e.armPrimary(updated); err != nil {
		log.Errorf("Failed to arm confirmation retry: %v", err)
		return outcomeFailed
	}
	e.setPending(updated.Owner, updated.ID, updated.ScheduleID)
	log.WithField("retry_at", retryAt).Info("Reminder awaiting confirmation")
	return outcomeAwaiting
}

// awaitRecurring keeps the recurring trigger running and arms a separate
// one-shot retry trigger for the unconfirmed occurrence.
func (e *Engine) awaitRecurring(ctx context.Context, rec model.Reminder, ev scheduler.FireEvent, retryFire bool, now time.Time, log *logrus.Entry) fireOutcome {
	retryAt := now.Add(rec.RetryInterval.Std())
	previousRetry := rec.RetryScheduleID

	updated, err := e.store.Update(ctx, rec.Owner, rec.ID, func(r *model.Reminder) error {
		r.State = model.StateAwaitingConfirmation
		r.RetryScheduleID = scheduler.NewScheduleID()
		r.RetryAt = &retryAt
		if !retryFire {
			r.FireAt = model.NextOccurrence(r.FireAt, r.Recurrence, latest(now, ev.At))
		}
		return nil
	})
	if err != nil {
		log.Errorf("Failed to persist confirmation state: %v", err)
		if previousRetry == "" {
			return outcomeFailed
		}
		// Keep the old retry id alive so the store and the timer still agree
		rec.RetryAt = &retryAt
		updated = rec
	} else if !retryFire {
		// A new occurrence replaces the retry of the previous one
		e.disarm(previousRetry)
	}

	if err := e.armRetry(updated); err != nil {
		log.Errorf("Failed to arm confirmation retry: %v", err)
		return outcomeFailed
	}
	e.setPending(updated.Owner, updated.ID, ev.ScheduleID)
	log.WithField("retry_at", retryAt).Info("Recurring reminder awaiting confirmation")
	return outcomeAwaiting
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
