package schedule_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"agentflow/internal/delivery"
	"agentflow/internal/dispatch"
	"agentflow/internal/domain"
	"agentflow/internal/routing"
	"agentflow/internal/schedule"
	"agentflow/internal/worker"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []delivery.Message
}

func (r *recordingTransport) Send(_ context.Context, msg delivery.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

type cannedGen struct{}

func (cannedGen) Generate(_ context.Context, prompt, _ string) (string, error) {
	return "latest findings: " + prompt, nil
}

// Full pipeline: due schedule entry -> synthetic task -> notifier
// worker -> generated content delivered to the recipient, with the
// attempt recorded against the entry.
func TestScheduledBriefingEndToEnd(t *testing.T) {
	st := newStore(t)
	transport := &recordingTransport{}
	pipeline := delivery.NewPipeline(transport, delivery.DefaultPolicy(), st)
	registry := worker.NewRegistry(cannedGen{}, pipeline, worker.Config{})
	engine := routing.NewEngine(nil, time.Second)
	d := dispatch.New(engine, registry, 2, 16, 0)
	s := schedule.NewScheduler(st, d, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	e := sampleEntry() // quantum computing -> a@example.com, daily 09:00
	yesterday := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	e.LastFiredAt = &yesterday
	id := mustCreate(t, st, e)

	s.Tick(ctx, time.Date(2026, 3, 10, 9, 0, 5, 0, time.UTC))
	d.Wait()

	tasks := d.List()
	if len(tasks) != 1 {
		t.Fatalf("dispatcher saw %d tasks, want 1", len(tasks))
	}
	task := tasks[0]
	if task.Status != domain.TaskDone {
		t.Fatalf("task status = %q (err=%q)", task.Status, task.Error)
	}
	if task.Result == nil || task.Result.Content == "" {
		t.Fatal("worker produced no content")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.sent) != 1 {
		t.Fatalf("transport sent %d messages, want 1", len(transport.sent))
	}
	msg := transport.sent[0]
	if msg.To != "a@example.com" {
		t.Errorf("delivered to %q", msg.To)
	}
	if msg.Subject == "" || msg.Body == "" {
		t.Errorf("empty subject or body: %+v", msg)
	}

	attempts, err := st.ListAttempts(ctx, id)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != domain.AttemptSuccess {
		t.Errorf("attempts = %+v, want one success", attempts)
	}

	// second tick the same day: no new task, no new delivery
	s.Tick(ctx, time.Date(2026, 3, 10, 9, 1, 0, 0, time.UTC))
	d.Wait()
	if got := len(d.List()); got != 1 {
		t.Errorf("refire produced %d tasks", got)
	}
}
