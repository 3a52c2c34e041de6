package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentflow/internal/domain"
)

type fakeTransport struct {
	failures  int // transient failures before succeeding
	permanent bool
	calls     int
}

func (f *fakeTransport) Send(_ context.Context, _ Message) error {
	f.calls++
	if f.permanent {
		return Permanent(errors.New("authentication rejected"))
	}
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

type memRecorder struct {
	attempts []domain.DeliveryAttempt
}

func (m *memRecorder) RecordAttempt(_ context.Context, a domain.DeliveryAttempt) error {
	m.attempts = append(m.attempts, a)
	return nil
}

func newTestPipeline(tr Transport, rec Recorder, maxAttempts int) *Pipeline {
	p := NewPipeline(tr, Policy{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: maxAttempts}, rec)
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestDeliverFirstTry(t *testing.T) {
	rec := &memRecorder{}
	p := newTestPipeline(&fakeTransport{}, rec, 4)

	a, err := p.Deliver(context.Background(), "sch_1", Message{To: "a@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Outcome != domain.AttemptSuccess || a.Number != 1 {
		t.Errorf("attempt = %+v", a)
	}
	if len(rec.attempts) != 1 {
		t.Errorf("recorded %d attempts, want 1", len(rec.attempts))
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	rec := &memRecorder{}
	tr := &fakeTransport{failures: 2}
	p := newTestPipeline(tr, rec, 4)

	a, err := p.Deliver(context.Background(), "sch_1", Message{To: "a@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// k transient failures then success => exactly k+1 attempts.
	if len(rec.attempts) != 3 {
		t.Fatalf("recorded %d attempts, want 3", len(rec.attempts))
	}
	if a.Outcome != domain.AttemptSuccess || a.Number != 3 {
		t.Errorf("final attempt = %+v", a)
	}
	for i, at := range rec.attempts[:2] {
		if at.Outcome != domain.AttemptTransientFailure {
			t.Errorf("attempt %d outcome = %q", i+1, at.Outcome)
		}
	}
}

func TestDeliverExhaustsBudget(t *testing.T) {
	rec := &memRecorder{}
	p := newTestPipeline(&fakeTransport{failures: 100}, rec, 3)

	a, err := p.Deliver(context.Background(), "sch_1", Message{To: "a@example.com"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if len(rec.attempts) != 3 {
		t.Errorf("recorded %d attempts, want 3", len(rec.attempts))
	}
	if a.Outcome != domain.AttemptTransientFailure {
		t.Errorf("final outcome = %q", a.Outcome)
	}
}

func TestDeliverPermanentNoRetry(t *testing.T) {
	rec := &memRecorder{}
	tr := &fakeTransport{permanent: true}
	p := newTestPipeline(tr, rec, 4)

	a, err := p.Deliver(context.Background(), "sch_1", Message{To: "a@example.com"})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if tr.calls != 1 {
		t.Errorf("transport called %d times, want 1", tr.calls)
	}
	if len(rec.attempts) != 1 || a.Outcome != domain.AttemptPermanentFailure {
		t.Errorf("attempts = %d, outcome = %q", len(rec.attempts), a.Outcome)
	}
}

func TestDeliverAbandonedOnCancel(t *testing.T) {
	rec := &memRecorder{}
	p := NewPipeline(&fakeTransport{failures: 100}, Policy{Initial: time.Millisecond, MaxAttempts: 5}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Deliver(ctx, "sch_1", Message{To: "a@example.com"})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if len(rec.attempts) != 1 {
		t.Errorf("recorded %d attempts, want 1", len(rec.attempts))
	}
}

func TestPolicyNext(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 10 * time.Second, MaxAttempts: 5}

	tests := []struct {
		attempt int
		delay   time.Duration
		retry   bool
	}{
		{1, time.Second, true},
		{2, 2 * time.Second, true},
		{3, 4 * time.Second, true},
		{4, 8 * time.Second, true},
		{5, 0, false},
		{6, 0, false},
	}
	for _, tt := range tests {
		d, ok := p.Next(tt.attempt)
		if d != tt.delay || ok != tt.retry {
			t.Errorf("Next(%d) = (%v, %v), want (%v, %v)", tt.attempt, d, ok, tt.delay, tt.retry)
		}
	}
}

func TestPolicyNextCapped(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 3 * time.Second, MaxAttempts: 10}
	d, ok := p.Next(5)
	if !ok || d != 3*time.Second {
		t.Errorf("Next(5) = (%v, %v), want capped at 3s", d, ok)
	}
}

func TestSMTPMalformedDestination(t *testing.T) {
	tr := NewSMTPTransport("smtp.example.com", 587, "s@example.com", "svc", "pw")
	err := tr.Send(context.Background(), Message{To: "not-an-address"})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error for malformed destination, got %v", err)
	}
}
