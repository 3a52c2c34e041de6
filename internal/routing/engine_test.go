package routing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentflow/internal/capability"
	"agentflow/internal/domain"
	"agentflow/internal/routing"
)

type stubClassifier struct {
	cl    capability.Classification
	err   error
	delay time.Duration
}

func (s *stubClassifier) Classify(ctx context.Context, _ string) (capability.Classification, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return capability.Classification{}, ctx.Err()
		}
	}
	return s.cl, s.err
}

func TestClassifyPrimary(t *testing.T) {
	e := routing.NewEngine(&stubClassifier{
		cl: capability.Classification{Label: "research", Confidence: 0.87},
	}, time.Second)

	d := e.Classify(context.Background(), "tsk_1", "what is new in fusion power")
	if d.Source != domain.SourcePrimary {
		t.Fatalf("Source = %q, want primary", d.Source)
	}
	if d.WorkerType != domain.WorkerResearch {
		t.Errorf("WorkerType = %q, want research", d.WorkerType)
	}
	if d.Confidence != 0.87 {
		t.Errorf("Confidence = %v, want 0.87", d.Confidence)
	}
	if d.TaskID != "tsk_1" {
		t.Errorf("TaskID = %q", d.TaskID)
	}
}

func TestClassifyFallbackOnError(t *testing.T) {
	e := routing.NewEngine(&stubClassifier{err: errors.New("backend down")}, time.Second)

	d := e.Classify(context.Background(), "tsk_2", "please research quantum computing trends")
	if d.Source != domain.SourceFallback {
		t.Fatalf("Source = %q, want fallback", d.Source)
	}
	if d.WorkerType != domain.WorkerResearch {
		t.Errorf("WorkerType = %q, want research", d.WorkerType)
	}
	if d.Confidence != 1.0 {
		t.Errorf("fallback Confidence = %v, want 1.0", d.Confidence)
	}
}

func TestClassifyFallbackOnTimeout(t *testing.T) {
	e := routing.NewEngine(&stubClassifier{
		cl:    capability.Classification{Label: "generalist", Confidence: 0.9},
		delay: time.Second,
	}, 20*time.Millisecond)

	d := e.Classify(context.Background(), "tsk_3", "send the weekly report to bob")
	if d.Source != domain.SourceFallback {
		t.Fatalf("Source = %q, want fallback", d.Source)
	}
	if d.WorkerType != domain.WorkerNotifier {
		t.Errorf("WorkerType = %q, want notifier", d.WorkerType)
	}
}

func TestFallbackKeywordRules(t *testing.T) {
	e := routing.NewEngine(nil, time.Second)

	tests := []struct {
		text string
		want domain.WorkerType
	}{
		{"notify the team about the outage", domain.WorkerNotifier},
		{"Send an EMAIL to alice", domain.WorkerNotifier},
		{"investigate the memory leak", domain.WorkerResearch},
		{"analyze last month's numbers", domain.WorkerResearch},
		{"tell me a joke", domain.WorkerGeneralist},
		{"", domain.WorkerGeneralist},
		// notifier rules win over research rules when both match
		{"research the incident and send a summary", domain.WorkerNotifier},
	}
	for _, tt := range tests {
		d := e.Classify(context.Background(), "tsk", tt.text)
		if d.WorkerType != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.text, d.WorkerType, tt.want)
		}
		if d.Source != domain.SourceFallback {
			t.Errorf("Classify(%q) source = %q, want fallback", tt.text, d.Source)
		}
	}
}

func TestFallbackDeterministic(t *testing.T) {
	e := routing.NewEngine(nil, time.Second)
	const text = "research the incident and deliver a summary"

	first := e.Classify(context.Background(), "tsk", text)
	for i := 0; i < 10; i++ {
		d := e.Classify(context.Background(), "tsk", text)
		if d != first {
			t.Fatalf("run %d differed: %+v vs %+v", i, d, first)
		}
	}
}
