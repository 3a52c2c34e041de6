package schedule_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"agentflow/internal/domain"
	"agentflow/internal/schedule"
	"agentflow/internal/worker"
)

type fakeSubmitter struct {
	tasks []domain.Task
	err   error
}

func (f *fakeSubmitter) Submit(t domain.Task) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if t.ID == "" {
		t.ID = domain.NewTaskID()
	}
	f.tasks = append(f.tasks, t)
	return t.ID, nil
}

func mustCreate(t *testing.T, st schedule.Store, e domain.ScheduleEntry) string {
	t.Helper()
	id, err := st.Create(context.Background(), e)
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return id
}

func TestTickFiresOncePerPeriod(t *testing.T) {
	st := newStore(t)
	sub := &fakeSubmitter{}
	s := schedule.NewScheduler(st, sub, time.Minute)
	ctx := context.Background()

	e := sampleEntry()
	yesterday := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	e.LastFiredAt = &yesterday
	id := mustCreate(t, st, e)

	// tick shortly past the boundary
	s.Tick(ctx, time.Date(2026, 3, 10, 9, 0, 30, 0, time.UTC))
	if len(sub.tasks) != 1 {
		t.Fatalf("fired %d tasks, want 1", len(sub.tasks))
	}

	got, _ := st.Get(ctx, id)
	boundary := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if got.LastFiredAt == nil || !got.LastFiredAt.Equal(boundary) {
		t.Errorf("LastFiredAt = %v, want boundary %v", got.LastFiredAt, boundary)
	}

	// a second tick in the same period must not refire
	s.Tick(ctx, time.Date(2026, 3, 10, 9, 1, 0, 0, time.UTC))
	if len(sub.tasks) != 1 {
		t.Errorf("second tick refired: %d tasks", len(sub.tasks))
	}

	// next day it fires again
	s.Tick(ctx, time.Date(2026, 3, 11, 9, 0, 10, 0, time.UTC))
	if len(sub.tasks) != 2 {
		t.Errorf("next-day tick fired %d tasks total, want 2", len(sub.tasks))
	}
}

func TestTickSyntheticTaskShape(t *testing.T) {
	st := newStore(t)
	sub := &fakeSubmitter{}
	s := schedule.NewScheduler(st, sub, time.Minute)

	id := mustCreate(t, st, sampleEntry())
	s.Tick(context.Background(), time.Date(2026, 3, 10, 9, 0, 5, 0, time.UTC))

	if len(sub.tasks) != 1 {
		t.Fatalf("fired %d tasks, want 1", len(sub.tasks))
	}
	task := sub.tasks[0]
	if task.Kind != domain.KindGenerateAndDeliver {
		t.Errorf("kind = %q", task.Kind)
	}
	if task.Decision == nil || task.Decision.WorkerType != domain.WorkerNotifier {
		t.Errorf("decision = %+v, want pre-routed notifier", task.Decision)
	}
	var p worker.BriefingPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Topic != "quantum computing" || p.Recipient != "a@example.com" || p.ScheduleID != id {
		t.Errorf("payload = %+v", p)
	}
}

func TestTickSkipsDisabled(t *testing.T) {
	st := newStore(t)
	sub := &fakeSubmitter{}
	s := schedule.NewScheduler(st, sub, time.Minute)
	ctx := context.Background()

	e := sampleEntry()
	e.Enabled = false
	id := mustCreate(t, st, e)

	// far past any boundary
	s.Tick(ctx, time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	if len(sub.tasks) != 0 {
		t.Fatalf("disabled entry fired %d tasks", len(sub.tasks))
	}
	got, _ := st.Get(ctx, id)
	if got.LastFiredAt != nil {
		t.Error("disabled entry must not update LastFiredAt")
	}
}

func TestTickSkipsMalformedEntry(t *testing.T) {
	st := newStore(t)
	sub := &fakeSubmitter{}
	s := schedule.NewScheduler(st, sub, time.Minute)

	bad := sampleEntry()
	bad.TimeOfDay = "99:99"
	mustCreate(t, st, bad)
	mustCreate(t, st, sampleEntry())

	// malformed entry is skipped with a warning, the scan continues
	s.Tick(context.Background(), time.Date(2026, 3, 10, 9, 0, 5, 0, time.UTC))
	if len(sub.tasks) != 1 {
		t.Fatalf("fired %d tasks, want 1 (good entry only)", len(sub.tasks))
	}
}

func TestTickSubmitFailureRetriesNextTick(t *testing.T) {
	st := newStore(t)
	sub := &fakeSubmitter{err: errors.New("queue full")}
	s := schedule.NewScheduler(st, sub, time.Minute)
	ctx := context.Background()

	id := mustCreate(t, st, sampleEntry())

	s.Tick(ctx, time.Date(2026, 3, 10, 9, 0, 5, 0, time.UTC))
	got, _ := st.Get(ctx, id)
	if got.LastFiredAt != nil {
		t.Fatal("LastFiredAt must stay unset when submission fails")
	}

	// submission recovers; the same period fires on the next tick
	sub.err = nil
	s.Tick(ctx, time.Date(2026, 3, 10, 9, 1, 5, 0, time.UTC))
	if len(sub.tasks) != 1 {
		t.Fatalf("fired %d tasks after recovery, want 1", len(sub.tasks))
	}
}

func TestTickCatchUpAfterRestart(t *testing.T) {
	// Entry fired yesterday; the process was down over today's boundary.
	// A tick later the same day still fires once for the current period.
	st := newStore(t)
	sub := &fakeSubmitter{}
	s := schedule.NewScheduler(st, sub, time.Minute)

	e := sampleEntry()
	yesterday := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	e.LastFiredAt = &yesterday
	mustCreate(t, st, e)

	s.Tick(context.Background(), time.Date(2026, 3, 10, 16, 20, 0, 0, time.UTC))
	if len(sub.tasks) != 1 {
		t.Fatalf("catch-up fired %d tasks, want 1", len(sub.tasks))
	}
}
