package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"remindme/internal/model"
	"remindme/internal/scheduler"

	"github.com/sirupsen/logrus"
)

// RecoveryReport counts what Recover did with each loaded reminder.
type RecoveryReport struct {
	Loaded int
	// Armed counts reminders whose trigger was re-armed as stored.
	Armed int
	// RolledForward counts recurring reminders whose anchor had passed.
	RolledForward int
	// Retrying counts reminders awaiting confirmation whose retry was re-armed.
	Retrying int
	// Missed counts one-shots that came due while the process was down.
	Missed int
	Failed int
}

func (r RecoveryReport) String() string {
	return fmt.Sprintf("loaded=%d armed=%d rolled=%d retrying=%d missed=%d failed=%d",
		r.Loaded, r.Armed, r.RolledForward, r.Retrying, r.Missed, r.Failed)
}

// Recover loads the store and re-arms every trigger. One-shots that came due
// during downtime are delivered once through the normal fire path. A record
// that cannot be recovered is logged and skipped.
func (e *Engine) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	snap, err := e.store.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("load reminders: %w", err)
	}

	owners := make([]int64, 0, len(snap))
	for owner := range snap {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	now := e.now().UTC()
	var missed []scheduler.FireEvent
	for _, owner := range owners {
		for _, r := range snap[owner] {
			report.Loaded++
			ev, err := e.recoverOne(ctx, r, now, &report)
			if err != nil {
				report.Failed++
				e.logger.WithFields(logrus.Fields{
					"owner":       r.Owner,
					"reminder_id": r.ID,
				}).Errorf("Failed to recover reminder: %v", err)
				continue
			}
			if ev != nil {
				missed = append(missed, *ev)
			}
		}
	}

	for _, ev := range missed {
		e.HandleFire(ctx, ev)
	}

	e.metrics.Recovered(ctx, "armed", report.Armed)
	e.metrics.Recovered(ctx, "rolled_forward", report.RolledForward)
	e.metrics.Recovered(ctx, "retrying", report.Retrying)
	e.metrics.Recovered(ctx, "missed", report.Missed)
	e.metrics.Recovered(ctx, "failed", report.Failed)
	e.logger.Infof("Recovery finished: %s", report)
	return report, nil
}

// recoverOne arms the triggers of one record. It returns a fire event when the
// record is a missed one-shot that has to be delivered now.
func (e *Engine) recoverOne(ctx context.Context, r model.Reminder, now time.Time, report *RecoveryReport) (*scheduler.FireEvent, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.ScheduleID == "" {
		return nil, fmt.Errorf("reminder has no schedule id")
	}

	unlock := e.locks.lock(r.Owner)
	defer unlock()

	if r.IsOneShot() {
		switch {
		case r.FireAt.After(now):
			if err := e.armPrimary(r); err != nil {
				return nil, err
			}
			if r.IsAwaiting() {
				e.setPending(r.Owner, r.ID, r.ScheduleID)
				report.Retrying++
			} else {
				report.Armed++
			}
			return nil, nil

		case r.IsAwaiting():
			// The retry came due while down: ask again after a full interval
			updated, err := e.store.Update(ctx, r.Owner, r.ID, func(rec *model.Reminder) error {
				rec.FireAt = now.Add(rec.RetryInterval.Std())
				return nil
			})
			if err != nil {
				return nil, err
			}
			if err := e.armPrimary(updated); err != nil {
				return nil, err
			}
			e.setPending(r.Owner, r.ID, r.ScheduleID)
			report.Retrying++
			return nil, nil

		default:
			report.Missed++
			return &scheduler.FireEvent{Owner: r.Owner, ID: r.ID, ScheduleID: r.ScheduleID, At: r.FireAt}, nil
		}
	}

	if !r.FireAt.After(now) {
		next := model.NextOccurrence(r.FireAt, r.Recurrence, now)
		updated, err := e.store.Update(ctx, r.Owner, r.ID, func(rec *model.Reminder) error {
			rec.FireAt = next
			return nil
		})
		if err != nil {
			return nil, err
		}
		r = updated
		report.RolledForward++
	} else {
		report.Armed++
	}
	if err := e.armPrimary(r); err != nil {
		return nil, err
	}

	if r.RetryScheduleID == "" {
		return nil, nil
	}
	if r.RetryAt == nil || !r.RetryAt.After(now) {
		retryAt := now.Add(r.RetryInterval.Std())
		updated, err := e.store.Update(ctx, r.Owner, r.ID, func(rec *model.Reminder) error {
			rec.RetryAt = &retryAt
			return nil
		})
		if err != nil {
			return nil, err
		}
		r = updated
	}
	if err := e.armRetry(r); err != nil {
		return nil, err
	}
	e.setPending(r.Owner, r.ID, r.ScheduleID)
	report.Retrying++
	return nil, nil
}
