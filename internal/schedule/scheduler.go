// Package schedule drives recurring research-and-notify work: it
// persists schedule entries, computes cadence boundaries, and turns
// due entries into dispatcher tasks.
package schedule

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"agentflow/internal/domain"
	"agentflow/internal/worker"
)

// Submitter is the slice of the dispatcher the scheduler needs.
type Submitter interface {
	Submit(t domain.Task) (string, error)
}

// Scheduler scans enabled entries on a fixed tick and fires the due
// ones. lastFiredAt is persisted immediately after submission, before
// delivery confirmation, so a crash between firing and delivery counts
// as fired (at-most-once fire per period).
type Scheduler struct {
	store      Store
	dispatcher Submitter
	interval   time.Duration
	now        func() time.Time

	tickMu sync.Mutex // one scan-and-fire pass at a time
	stop   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects the time source, for deterministic cadence tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(store Store, dispatcher Submitter, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		interval:   interval,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stop)
}

// Tick performs one scan-and-fire pass. Failures local to one entry
// are logged and never abort the pass.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	entries, err := s.store.ListEnabled(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list schedule entries")
		return
	}

	for _, e := range entries {
		if err := s.fireIfDue(ctx, e, now); err != nil {
			log.Error().Err(err).Str("schedule_id", e.ID).Msg("failed to fire schedule entry")
		}
	}
}

func (s *Scheduler) fireIfDue(ctx context.Context, e domain.ScheduleEntry, now time.Time) error {
	boundary, err := Boundary(e, now)
	if err != nil {
		// malformed entry: warn and move on, the scan continues
		log.Warn().Err(err).Str("schedule_id", e.ID).Str("topic", e.Topic).Msg("skipping malformed schedule entry")
		return nil
	}
	if boundary.IsZero() || now.Before(boundary) {
		return nil
	}
	if e.LastFiredAt != nil && !e.LastFiredAt.Before(boundary) {
		return nil // already fired this period
	}

	payload, err := json.Marshal(worker.BriefingPayload{
		Topic:           e.Topic,
		Recipient:       e.Recipient,
		SubjectTemplate: e.SubjectTemplate,
		ScheduleID:      e.ID,
	})
	if err != nil {
		return err
	}

	taskID, err := s.dispatcher.Submit(domain.Task{
		Kind:    domain.KindGenerateAndDeliver,
		Payload: payload,
		Decision: &domain.RoutingDecision{
			WorkerType: domain.WorkerNotifier,
			Confidence: 1.0,
			Rationale:  "scheduled generate-and-deliver",
			Source:     domain.SourceFallback,
		},
	})
	if err != nil {
		// fire aborted; lastFiredAt untouched so the next tick retries
		return err
	}

	if err := s.store.SetLastFired(ctx, e.ID, boundary); err != nil {
		log.Error().Err(err).Str("schedule_id", e.ID).Str("task_id", taskID).
			Msg("fired but failed to persist last_fired_at, entry may refire next tick")
		return err
	}

	log.Info().Str("schedule_id", e.ID).Str("task_id", taskID).
		Str("topic", e.Topic).Str("recipient", e.Recipient).
		Time("boundary", boundary).Msg("schedule entry fired")
	return nil
}
