package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	logger "github.com/helvethink/pullpilot/internal/logging"
	"github.com/helvethink/pullpilot/pkg/schemas"
)

// dateLayouts are tried, in order, on date triggers carrying no offset.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Scheduler turns schedule entries into calendar triggers.
type Scheduler struct {
	Location *time.Location

	cron    *cron.Cron
	parser  cron.Parser
	mutex   sync.Mutex
	entries map[int64]cron.EntryID
}

// onceSchedule fires a single time, at At.
type onceSchedule struct {
	At time.Time
}

// Next implements cron.Schedule. The zero time tells cron there is nothing left to run.
func (s onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.At) {
		return s.At
	}
	return time.Time{}
}

// NewScheduler returns a stopped scheduler evaluating triggers in timezone.
func NewScheduler(timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", schemas.ErrInvalidArgument, timezone, err)
	}

	l := logger.Logr("cron: ", log.DebugLevel)

	return &Scheduler{
		Location: loc,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l)),
		),
		entries: make(map[int64]cron.EntryID),
	}, nil
}

// Start starts firing the registered triggers.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing triggers. The returned context is done once the running
// callbacks returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Parse validates the trigger of e and returns its schedule.
func (s *Scheduler) Parse(e schemas.ScheduleEntry) (cron.Schedule, error) {
	switch e.Kind {
	case schemas.TriggerKindCron:
		sched, err := s.parser.Parse(strings.TrimSpace(e.Expression))
		if err != nil {
			return nil, fmt.Errorf("%w: cron expression %q: %v", schemas.ErrInvalidArgument, e.Expression, err)
		}
		return sched, nil

	case schemas.TriggerKindDate:
		at, err := s.parseDate(e.Expression)
		if err != nil {
			return nil, err
		}
		return onceSchedule{At: at}, nil
	}

	return nil, fmt.Errorf("%w: unknown trigger kind %q", schemas.ErrInvalidArgument, e.Kind)
}

func (s *Scheduler) parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)

	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, s.Location); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: date %q is not an ISO-8601 timestamp", schemas.ErrInvalidArgument, v)
}

// Replace removes every registered trigger and registers one per entry.
// Entries that cannot be parsed, and date entries already past, are logged and
// skipped. It returns the amount of registered triggers.
func (s *Scheduler) Replace(ctx context.Context, entries schemas.ScheduleEntries, fire func(schemas.ScheduleEntry)) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for id, eid := range s.entries {
		s.cron.Remove(eid)
		delete(s.entries, id)
	}

	now := time.Now()

	for _, e := range entries {
		logFields := log.Fields{
			"schedule-id":         e.ID,
			"schedule-target":     e.Target.String(),
			"schedule-kind":       e.Kind,
			"schedule-expression": e.Expression,
		}

		sched, err := s.Parse(e)
		if err != nil {
			log.WithContext(ctx).
				WithFields(logFields).
				WithError(err).
				Warn("skipping malformed schedule")

			continue
		}

		if once, ok := sched.(onceSchedule); ok && !once.At.After(now) {
			log.WithContext(ctx).
				WithFields(logFields).
				Info("skipping schedule, its date is already past")

			continue
		}

		entry := e
		s.entries[e.ID] = s.cron.Schedule(sched, cron.FuncJob(func() { fire(entry) }))
	}

	return len(s.entries)
}

// Registered returns the ids of the registered triggers, sorted.
func (s *Scheduler) Registered() []int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// NextRuns returns the next fire time of every registered trigger, by schedule id.
func (s *Scheduler) NextRuns() map[int64]time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	next := make(map[int64]time.Time, len(s.entries))
	now := time.Now()

	for id, eid := range s.entries {
		e := s.cron.Entry(eid)
		if !e.Valid() {
			continue
		}

		// Entry.Next is only computed once the cron loop runs
		n := e.Next
		if n.IsZero() {
			n = e.Schedule.Next(now.In(s.Location))
		}

		if !n.IsZero() {
			next[id] = n
		}
	}

	return next
}
