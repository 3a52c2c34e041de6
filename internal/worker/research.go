package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agentflow/internal/domain"
)

const researchSystem = "You are a research assistant. Ground answers in current, verifiable information and cite what you relied on."

const deepSuffix = "\n\nProvide a deep analysis covering background, current state, open problems and likely near-term developments."

// Research produces a research summary for a query using the
// capability backend. The Deep flag (per payload or registry default)
// widens the prompt.
type Research struct {
	gen  Generator
	deep bool
}

func NewResearch(gen Generator, deep bool) *Research {
	return &Research{gen: gen, deep: deep}
}

func (r *Research) Type() domain.WorkerType { return domain.WorkerResearch }

func (r *Research) Handle(ctx context.Context, payload json.RawMessage) (domain.Result, error) {
	var req RequestPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return domain.Result{}, fmt.Errorf("research payload: %w", err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return domain.Result{}, fmt.Errorf("research payload: empty query")
	}

	prompt := "Provide the latest information and findings on: " + req.Text
	if req.Deep || r.deep {
		prompt += deepSuffix
	}

	start := time.Now()
	content, err := r.gen.Generate(ctx, prompt, researchSystem)
	if err != nil {
		return domain.Result{}, fmt.Errorf("research generation: %w", err)
	}
	return domain.Result{
		Content:  content,
		Worker:   string(domain.WorkerResearch),
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}, nil
}
