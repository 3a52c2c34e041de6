// Package worker holds the worker variants the dispatcher invokes and
// the registry that constructs and caches them.
package worker

import (
	"context"
	"encoding/json"

	"agentflow/internal/domain"
)

// Worker is a polymorphic unit that turns a task payload into a
// structured result. Implementations must be stateless per call so one
// cached instance can serve concurrent invocations.
type Worker interface {
	Type() domain.WorkerType
	Handle(ctx context.Context, payload json.RawMessage) (domain.Result, error)
}

// Generator is the slice of the capability client workers need.
type Generator interface {
	Generate(ctx context.Context, prompt, system string) (string, error)
}

// RequestPayload is the payload of an externally submitted task.
type RequestPayload struct {
	Text string `json:"text"`
	Deep bool   `json:"deep,omitempty"`
}

// BriefingPayload is the payload of a scheduler-generated
// generate-and-deliver task.
type BriefingPayload struct {
	Topic           string `json:"topic"`
	Recipient       string `json:"recipient"`
	SubjectTemplate string `json:"subject_template"`
	ScheduleID      string `json:"schedule_id,omitempty"`
}
