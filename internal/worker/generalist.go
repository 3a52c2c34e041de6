package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agentflow/internal/domain"
)

// Generalist handles anything the other workers do not claim.
type Generalist struct {
	gen Generator
}

func NewGeneralist(gen Generator) *Generalist {
	return &Generalist{gen: gen}
}

func (g *Generalist) Type() domain.WorkerType { return domain.WorkerGeneralist }

func (g *Generalist) Handle(ctx context.Context, payload json.RawMessage) (domain.Result, error) {
	var req RequestPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return domain.Result{}, fmt.Errorf("generalist payload: %w", err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return domain.Result{}, fmt.Errorf("generalist payload: empty request")
	}

	start := time.Now()
	content, err := g.gen.Generate(ctx, req.Text, "")
	if err != nil {
		return domain.Result{}, fmt.Errorf("generalist generation: %w", err)
	}
	return domain.Result{
		Content:  content,
		Worker:   string(domain.WorkerGeneralist),
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}, nil
}
