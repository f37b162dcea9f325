package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"remindme/internal/model"
	"remindme/internal/scheduler"
	"remindme/internal/store"

	"github.com/sirupsen/logrus"
)

// ActionKind names an explicit user operation on an existing reminder.
type ActionKind string

const (
	ActionConfirm ActionKind = "done"
	ActionSkip    ActionKind = "skip"
	ActionDelete  ActionKind = "delete"
)

const actionPrefix = "rem."

// Action is an inbound operation on one reminder.
type Action struct {
	Kind  ActionKind
	Owner int64
	ID    string
}

// Data encodes the action for an inline button, e.g. "rem.skip.<id>".
func (a Action) Data() string {
	return actionPrefix + string(a.Kind) + "." + a.ID
}

// ParseAction decodes button data produced by Action.Data.
func ParseAction(owner int64, data string) (Action, error) {
	rest, ok := strings.CutPrefix(data, actionPrefix)
	if !ok {
		return Action{}, fmt.Errorf("%w: unknown action %q", ErrValidation, data)
	}
	kind, id, ok := strings.Cut(rest, ".")
	if !ok || id == "" {
		return Action{}, fmt.Errorf("%w: malformed action %q", ErrValidation, data)
	}
	switch ActionKind(kind) {
	case ActionConfirm, ActionSkip, ActionDelete:
	default:
		return Action{}, fmt.Errorf("%w: unknown action %q", ErrValidation, kind)
	}
	return Action{Kind: ActionKind(kind), Owner: owner, ID: id}, nil
}

// Execute runs the action. store.ErrNotFound and ErrAlreadyHandled mean the
// action no longer applies; see IsBenign.
func (e *Engine) Execute(ctx context.Context, a Action) (model.Reminder, error) {
	var (
		r   model.Reminder
		err error
	)
	switch a.Kind {
	case ActionConfirm:
		r, err = e.ConfirmReminder(ctx, a.Owner, a.ID)
	case ActionSkip:
		r, err = e.SkipReminder(ctx, a.Owner, a.ID)
	case ActionDelete:
		r, err = e.DeleteReminder(ctx, a.Owner, a.ID)
	default:
		return model.Reminder{}, fmt.Errorf("%w: unknown action %q", ErrValidation, a.Kind)
	}
	return r, err
}

// DeleteReminder removes the reminder and every trigger armed for it.
func (e *Engine) DeleteReminder(ctx context.Context, owner int64, id string) (model.Reminder, error) {
	unlock := e.locks.lock(owner)
	defer unlock()

	removed, err := e.store.Remove(ctx, owner, id)
	if err != nil {
		e.actionResult(ctx, ActionDelete, err)
		return model.Reminder{}, err
	}
	e.disarm(removed.ScheduleID, removed.RetryScheduleID)
	e.clearPending(owner, id)

	e.actionLog(ActionDelete, removed).Info("Reminder deleted")
	e.actionResult(ctx, ActionDelete, nil)
	return removed, nil
}

// ConfirmReminder acknowledges the reminder. A one-shot is done and removed;
// a recurring reminder goes back to waiting for its next occurrence.
func (e *Engine) ConfirmReminder(ctx context.Context, owner int64, id string) (model.Reminder, error) {
	unlock := e.locks.lock(owner)
	defer unlock()

	var retryID string
	r, op, err := e.store.Mutate(ctx, owner, id, func(r *model.Reminder) (store.Op, error) {
		if r.IsOneShot() {
			return store.OpDelete, nil
		}
		if !r.IsAwaiting() {
			return store.OpKeep, ErrAlreadyHandled
		}
		retryID = r.RetryScheduleID
		r.State = model.StateIdle
		r.RetryScheduleID = ""
		r.RetryAt = nil
		return store.OpSave, nil
	})
	if err != nil {
		e.actionResult(ctx, ActionConfirm, err)
		return model.Reminder{}, err
	}

	if op == store.OpDelete {
		e.disarm(r.ScheduleID)
	} else {
		e.disarm(retryID)
	}
	e.clearPending(owner, id)

	e.actionLog(ActionConfirm, r).Info("Reminder confirmed")
	e.actionResult(ctx, ActionConfirm, nil)
	return r, nil
}

// SkipReminder postpones an unconfirmed reminder by its retry interval under a
// fresh schedule id. The reminder keeps waiting for confirmation.
func (e *Engine) SkipReminder(ctx context.Context, owner int64, id string) (model.Reminder, error) {
	unlock := e.locks.lock(owner)
	defer unlock()

	var previous string
	retryAt := e.now().UTC()
	updated, err := e.store.Update(ctx, owner, id, func(r *model.Reminder) error {
		if !r.IsAwaiting() {
			return ErrAlreadyHandled
		}
		retryAt = retryAt.Add(r.RetryInterval.Std())
		if r.IsOneShot() {
			previous = r.ScheduleID
			r.ScheduleID = scheduler.NewScheduleID()
			r.FireAt = retryAt
		} else {
			previous = r.RetryScheduleID
			r.RetryScheduleID = scheduler.NewScheduleID()
			r.RetryAt = &retryAt
		}
		return nil
	})
	if err != nil {
		e.actionResult(ctx, ActionSkip, err)
		return model.Reminder{}, err
	}

	e.disarm(previous)
	if updated.IsOneShot() {
		err = e.armPrimary(updated)
	} else {
		err = e.armRetry(updated)
	}
	if err != nil {
		// The stored retry instant is re-armed by the next recovery
		e.actionLog(ActionSkip, updated).Errorf("Failed to arm retry trigger: %v", err)
	}
	e.clearPending(owner, id)

	e.actionLog(ActionSkip, updated).WithField("retry_at", retryAt).Info("Reminder skipped")
	e.actionResult(ctx, ActionSkip, nil)
	return updated, nil
}

func (e *Engine) actionLog(kind ActionKind, r model.Reminder) *logrus.Entry {
	return e.logger.WithFields(logrus.Fields{
		"action":      kind,
		"owner":       r.Owner,
		"reminder_id": r.ID,
		"schedule_id": r.ScheduleID,
	})
}

func (e *Engine) actionResult(ctx context.Context, kind ActionKind, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsBenign(err):
		outcome = "stale"
	case errors.Is(err, store.ErrPersistence):
		outcome = "failed"
	default:
		outcome = "error"
	}
	e.metrics.Action(ctx, string(kind), outcome)
}
