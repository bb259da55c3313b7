package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/pullpilot/pkg/schemas"
)

func TestOnceSchedule(t *testing.T) {
	at := time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC)
	s := onceSchedule{At: at}

	assert.Equal(t, at, s.Next(at.Add(-time.Hour)))
	assert.True(t, s.Next(at).IsZero())
	assert.True(t, s.Next(at.Add(time.Minute)).IsZero())
}

func TestNewSchedulerInvalidTimezone(t *testing.T) {
	_, err := NewScheduler("Mars/Olympus_Mons")
	assert.ErrorIs(t, err, schemas.ErrInvalidArgument)
}

func TestSchedulerParse(t *testing.T) {
	s, err := NewScheduler("Europe/Zurich")
	require.NoError(t, err)

	for _, tt := range []struct {
		name  string
		entry schemas.ScheduleEntry
		valid bool
	}{
		{"daily cron", schemas.ScheduleEntry{Kind: schemas.TriggerKindCron, Expression: "0 4 * * *"}, true},
		{"weekly cron", schemas.ScheduleEntry{Kind: schemas.TriggerKindCron, Expression: "30 2 * * sun"}, true},
		{"descriptor", schemas.ScheduleEntry{Kind: schemas.TriggerKindCron, Expression: "@daily"}, true},
		{"six fields", schemas.ScheduleEntry{Kind: schemas.TriggerKindCron, Expression: "0 0 4 * * *"}, false},
		{"garbage cron", schemas.ScheduleEntry{Kind: schemas.TriggerKindCron, Expression: "every day"}, false},
		{"out of range", schemas.ScheduleEntry{Kind: schemas.TriggerKindCron, Expression: "0 25 * * *"}, false},
		{"rfc3339 date", schemas.ScheduleEntry{Kind: schemas.TriggerKindDate, Expression: "2030-06-01T10:00:00Z"}, true},
		{"local date", schemas.ScheduleEntry{Kind: schemas.TriggerKindDate, Expression: "2030-06-01T10:00"}, true},
		{"spaced date", schemas.ScheduleEntry{Kind: schemas.TriggerKindDate, Expression: "2030-06-01 10:00:00"}, true},
		{"garbage date", schemas.ScheduleEntry{Kind: schemas.TriggerKindDate, Expression: "tomorrow"}, false},
		{"unknown kind", schemas.ScheduleEntry{Kind: "interval", Expression: "5m"}, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Parse(tt.entry)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, schemas.ErrInvalidArgument)
			}
		})
	}
}

func TestSchedulerParseDateUsesLocation(t *testing.T) {
	s, err := NewScheduler("Europe/Zurich")
	require.NoError(t, err)

	sched, err := s.Parse(schemas.ScheduleEntry{Kind: schemas.TriggerKindDate, Expression: "2030-06-01T10:00"})
	require.NoError(t, err)

	// summer time in Zurich is UTC+2
	assert.True(t, time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC).Equal(sched.(onceSchedule).At))

	sched, err = s.Parse(schemas.ScheduleEntry{Kind: schemas.TriggerKindDate, Expression: "2030-06-01T10:00:00+00:00"})
	require.NoError(t, err)
	assert.True(t, time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC).Equal(sched.(onceSchedule).At))
}

func TestSchedulerReplace(t *testing.T) {
	s, err := NewScheduler("UTC")
	require.NoError(t, err)
	t.Cleanup(func() { <-s.Stop().Done() })

	entries := schemas.ScheduleEntries{
		{ID: 1, Target: schemas.AllDeployments(), Kind: schemas.TriggerKindCron, Expression: "0 4 * * *", Active: true},
		{ID: 2, Target: schemas.SingleDeployment("alpha"), Kind: schemas.TriggerKindCron, Expression: "not a cron", Active: true},
		{ID: 3, Target: schemas.SingleDeployment("alpha"), Kind: schemas.TriggerKindDate, Expression: "2001-01-01T00:00:00Z", Active: true},
		{ID: 4, Target: schemas.SingleDeployment("beta"), Kind: schemas.TriggerKindDate, Expression: time.Now().Add(time.Hour).UTC().Format(time.RFC3339), Active: true},
	}

	count := s.Replace(context.Background(), entries, func(schemas.ScheduleEntry) {})
	assert.Equal(t, 2, count)
	assert.Equal(t, []int64{1, 4}, s.Registered())

	next := s.NextRuns()
	require.Len(t, next, 2)
	assert.Equal(t, 4, next[1].Hour())
	assert.Zero(t, next[1].Minute())
	assert.WithinDuration(t, time.Now().Add(time.Hour), next[4], time.Second)

	// replacing drops what is no longer listed
	count = s.Replace(context.Background(), entries[:1], func(schemas.ScheduleEntry) {})
	assert.Equal(t, 1, count)
	assert.Equal(t, []int64{1}, s.Registered())
}

func TestSchedulerFiresDateTrigger(t *testing.T) {
	s, err := NewScheduler("UTC")
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() { <-s.Stop().Done() })

	fired := make(chan schemas.ScheduleEntry, 1)
	at := time.Now().Add(1100 * time.Millisecond).UTC().Format(time.RFC3339Nano)

	s.Replace(context.Background(), schemas.ScheduleEntries{
		{ID: 7, Target: schemas.SingleDeployment("alpha"), Kind: schemas.TriggerKindDate, Expression: at, Active: true},
	}, func(e schemas.ScheduleEntry) { fired <- e })

	select {
	case e := <-fired:
		assert.Equal(t, int64(7), e.ID)
		assert.Equal(t, "alpha", e.Target.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("date trigger did not fire")
	}
}
