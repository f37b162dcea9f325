package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"remindme/internal/model"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_MAX_CONCURRENT_FIRES = 4
	// Triggers closer than this are pushed out so gocron does not see a start
	// time that has already passed by the time the job is registered.
	MIN_LEAD = 500 * time.Millisecond
)

type jobState struct {
	next   time.Time
	period time.Duration
}

type entry struct {
	trigger Trigger
	gen     uint64
	// keyed by job tag: the schedule id itself, or a child id per weekday
	jobs map[string]*jobState
}

// Scheduler is a Timer backed by gocron. Every trigger is one gocron job
// tagged with its schedule id; a multi-weekday trigger is one weekly job per
// weekday, tagged with both the child and the parent id.
type Scheduler struct {
	cron   *gocron.Scheduler
	logger *logrus.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	seq     uint64
	entries map[string]*entry
}

func NewScheduler(logger *logrus.Logger, maxConcurrentFires int) *Scheduler {
	// Create scheduler with UTC timezone
	s := gocron.NewScheduler(time.UTC)
	if maxConcurrentFires <= 0 {
		maxConcurrentFires = DEFAULT_MAX_CONCURRENT_FIRES
	}
	s.SetMaxConcurrentJobs(maxConcurrentFires, gocron.WaitMode)

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    s,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

func (s *Scheduler) Start() {
	s.cron.StartAsync()
	s.logger.Info("Scheduler started successfully")
}

// Stop cancels the context handed to running callbacks and stops gocron.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	s.logger.Info("Scheduler stopped")
}

// Jobs returns the number of gocron jobs currently registered.
func (s *Scheduler) Jobs() int {
	return s.cron.Len()
}

func (s *Scheduler) Arm(t Trigger, fn FireFunc) error {
	if err := t.validate(); err != nil {
		return fmt.Errorf("arm %s: %w", t.ScheduleID, err)
	}
	if fn == nil {
		return fmt.Errorf("arm %s: nil callback", t.ScheduleID)
	}
	t.FireAt = t.FireAt.UTC()
	t.Recurrence = cloneRecurrence(t.Recurrence)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[t.ScheduleID]; ok {
		s.removeJobs(t.ScheduleID)
		delete(s.entries, t.ScheduleID)
	}

	s.seq++
	e := &entry{trigger: t, gen: s.seq, jobs: make(map[string]*jobState)}
	now := s.now().UTC()

	var err error
	if t.Recurrence.Kind == model.RecurrenceWeeklyOnDays {
		for _, d := range t.Recurrence.Days {
			child := ChildScheduleID(t.ScheduleID, d)
			at := model.NextWeekday(t.FireAt, d, now)
			if err = s.schedule(e, child, s.lead(at, now), 7*24*time.Hour, fn); err != nil {
				break
			}
		}
	} else {
		at := t.FireAt
		if !at.After(now) {
			at = model.NextOccurrence(t.FireAt, t.Recurrence, now)
			s.logger.WithFields(logrus.Fields{
				"schedule_id": t.ScheduleID,
				"fire_at":     t.FireAt,
				"next":        at,
			}).Warn("Fire time already passed, rolling forward")
		}
		period := 24 * time.Hour
		if t.Recurrence.Kind == model.RecurrenceWeekly {
			period = 7 * 24 * time.Hour
		}
		err = s.schedule(e, t.ScheduleID, s.lead(at, now), period, fn)
	}
	if err != nil {
		s.removeJobs(t.ScheduleID)
		return fmt.Errorf("arm %s: %w", t.ScheduleID, err)
	}

	s.entries[t.ScheduleID] = e
	s.logger.WithFields(logrus.Fields{
		"owner":       t.Owner,
		"reminder_id": t.ReminderID,
		"schedule_id": t.ScheduleID,
		"recurrence":  t.Recurrence.Kind,
		"jobs":        len(e.jobs),
	}).Debug("Trigger armed")
	return nil
}

func (s *Scheduler) lead(at, now time.Time) time.Time {
	if earliest := now.Add(MIN_LEAD); at.Before(earliest) {
		return earliest
	}
	return at
}

// schedule registers one gocron job. Callers hold s.mu, which also keeps the
// gocron builder chain from interleaving.
func (s *Scheduler) schedule(e *entry, tag string, at time.Time, period time.Duration, fn FireFunc) error {
	parent := e.trigger.ScheduleID
	gen := e.gen

	chain := s.cron.Every(1)
	if period == 7*24*time.Hour {
		chain = chain.Week()
	} else {
		chain = chain.Day()
	}
	chain = chain.StartAt(at)
	if tag == parent {
		chain = chain.Tag(parent)
	} else {
		chain = chain.Tag(tag, parent)
	}
	if e.trigger.Recurrence.IsNone() {
		chain = chain.LimitRunsTo(1)
	}

	if _, err := chain.Do(func() { s.fire(parent, tag, gen, fn) }); err != nil {
		return err
	}
	e.jobs[tag] = &jobState{next: at, period: period}
	return nil
}

func (s *Scheduler) fire(scheduleID, tag string, gen uint64, fn FireFunc) {
	s.mu.Lock()
	e, ok := s.entries[scheduleID]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		s.logger.WithField("schedule_id", scheduleID).Debug("Ignoring fire of replaced trigger")
		return
	}
	job, ok := e.jobs[tag]
	if !ok {
		s.mu.Unlock()
		return
	}
	planned := job.next
	if e.trigger.Recurrence.IsNone() {
		delete(s.entries, scheduleID)
		// The job would otherwise stay registered until its next daily slot
		s.removeJobs(tag)
	} else {
		job.next = planned.Add(job.period)
	}
	t := e.trigger
	s.mu.Unlock()

	fn(s.ctx, FireEvent{
		Owner:      t.Owner,
		ID:         t.ReminderID,
		ScheduleID: t.ScheduleID,
		At:         planned,
	})
}

// Disarm removes the trigger. A child id of a multi-weekday trigger removes
// only that weekday; the parent id removes all of them.
func (s *Scheduler) Disarm(scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[scheduleID]; ok {
		s.removeJobs(scheduleID)
		delete(s.entries, scheduleID)
		return nil
	}

	parent := ParentScheduleID(scheduleID)
	if e, ok := s.entries[parent]; ok {
		if _, ok := e.jobs[scheduleID]; ok {
			s.removeJobs(scheduleID)
			delete(e.jobs, scheduleID)
			if len(e.jobs) == 0 {
				delete(s.entries, parent)
			}
			return nil
		}
	}
	return ErrNotArmed
}

func (s *Scheduler) removeJobs(tag string) {
	err := s.cron.RemoveByTag(tag)
	if err != nil && !errors.Is(err, gocron.ErrJobNotFoundWithTag) {
		s.logger.WithField("schedule_id", tag).Errorf("Failed to remove jobs: %v", err)
	}
}

func (s *Scheduler) Armed(scheduleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[scheduleID]; ok {
		return true
	}
	if e, ok := s.entries[ParentScheduleID(scheduleID)]; ok {
		_, ok = e.jobs[scheduleID]
		return ok
	}
	return false
}

// NextRun returns the earliest planned fire of the trigger, across all
// weekdays for a multi-weekday trigger.
func (s *Scheduler) NextRun(scheduleID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[scheduleID]; ok {
		var next time.Time
		for _, j := range e.jobs {
			if next.IsZero() || j.next.Before(next) {
				next = j.next
			}
		}
		return next, !next.IsZero()
	}
	if e, ok := s.entries[ParentScheduleID(scheduleID)]; ok {
		if j, ok := e.jobs[scheduleID]; ok {
			return j.next, true
		}
	}
	return time.Time{}, false
}

func cloneRecurrence(r model.Recurrence) model.Recurrence {
	if r.Days != nil {
		r.Days = append([]time.Weekday(nil), r.Days...)
	}
	return r
}
