package main

import (
	"context"
	"fmt"
	"time"

	"remindme/internal/model"
	"remindme/internal/scheduler"
	"remindme/internal/store"

	"github.com/brianvoe/gofakeit/v6"
)

var retryIntervals = []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute, time.Hour}

type Seeder struct {
	store *store.Store
	owner int64
	faker *gofakeit.Faker
}

func NewSeeder(s *store.Store, owner int64, seed int64) *Seeder {
	return &Seeder{
		store: s,
		owner: owner,
		faker: gofakeit.New(seed),
	}
}

// SeedReminders replaces the owner's reminders with count generated ones.
func (s *Seeder) SeedReminders(ctx context.Context, now time.Time, count, days int) (int, error) {
	if _, err := s.store.Load(ctx); err != nil {
		return 0, err
	}
	existing, err := s.store.List(ctx, s.owner)
	if err != nil {
		return 0, err
	}
	fmt.Printf("Deleting %d existing reminders...\n", len(existing))
	for _, r := range existing {
		if _, err := s.store.Remove(ctx, s.owner, r.ID); err != nil {
			return 0, fmt.Errorf("failed to delete reminder %s: %w", r.ID, err)
		}
	}

	for i, r := range s.generateReminders(now, count, days) {
		if _, err := s.store.Add(ctx, s.owner, r); err != nil {
			return i, fmt.Errorf("failed to add reminder: %w", err)
		}
	}
	return count, nil
}

func (s *Seeder) generateReminders(now time.Time, count, days int) []model.Reminder {
	end := now.Add(time.Duration(days) * 24 * time.Hour)
	out := make([]model.Reminder, 0, count)

	for i := 0; i < count; i++ {
		// Whole minutes, like typed input
		at := s.faker.DateRange(now.Add(time.Hour), end).UTC().Truncate(time.Minute)

		r := model.Reminder{
			ScheduleID:    scheduler.NewScheduleID(),
			FireAt:        at,
			Text:          s.generateText(),
			Recurrence:    s.generateRecurrence(at),
			RetryInterval: model.Duration(retryIntervals[s.faker.Number(0, len(retryIntervals)-1)]),
			State:         model.StateIdle,
		}
		// Roughly a third ask for confirmation
		r.RequiresConfirmation = s.faker.Number(1, 3) == 1
		out = append(out, r)
	}
	return out
}

func (s *Seeder) generateText() string {
	switch s.faker.Number(0, 3) {
	case 0:
		return "Call " + s.faker.FirstName()
	case 1:
		return "Buy " + s.faker.Noun()
	case 2:
		return s.faker.RandomString([]string{"Take pills", "Water the plants", "Stand-up meeting", "Pay rent", "Gym"})
	default:
		return "Trip to " + s.faker.City()
	}
}

func (s *Seeder) generateRecurrence(at time.Time) model.Recurrence {
	switch s.faker.Number(0, 5) {
	case 0:
		return model.Daily()
	case 1:
		return model.Weekly()
	case 2:
		other := time.Weekday((int(at.Weekday()) + s.faker.Number(1, 6)) % 7)
		return model.WeeklyOn(at.Weekday(), other)
	default:
		return model.Once()
	}
}
