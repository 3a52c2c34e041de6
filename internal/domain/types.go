package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskStatus tracks a task through the dispatcher.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRouted  TaskStatus = "routed"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Task kinds. External requests arrive as KindRequest; the scheduler
// submits KindGenerateAndDeliver.
const (
	KindRequest            = "request"
	KindGenerateAndDeliver = "generate_and_deliver"
)

type Task struct {
	ID        string
	Kind      string
	Payload   json.RawMessage
	Status    TaskStatus
	Decision  *RoutingDecision
	Result    *Result
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewTaskID() string { return "tsk_" + uuid.NewString() }

// WorkerType enumerates the worker variants the registry can build.
type WorkerType string

const (
	WorkerResearch   WorkerType = "research"
	WorkerNotifier   WorkerType = "notifier"
	WorkerGeneralist WorkerType = "generalist"
)

// DecisionSource tags which strategy produced a routing decision.
type DecisionSource string

const (
	SourcePrimary  DecisionSource = "primary"
	SourceFallback DecisionSource = "fallback"
)

// RoutingDecision is immutable once produced; exactly one is attached
// to a task before dispatch.
type RoutingDecision struct {
	TaskID     string
	WorkerType WorkerType
	Confidence float64
	Rationale  string
	Source     DecisionSource
}

// Result is the structured output of a worker invocation.
type Result struct {
	Content  string `json:"content"`
	Worker   string `json:"worker"`
	Duration string `json:"duration,omitempty"`
}

// CadenceKind names the recurrence pattern of a schedule entry.
type CadenceKind string

const (
	CadenceDaily   CadenceKind = "daily"
	CadenceWeekly  CadenceKind = "weekly"
	CadenceMonthly CadenceKind = "monthly"
	// CadenceCron carries a raw 5-field cron expression for
	// recurrences the fixed kinds cannot express.
	CadenceCron CadenceKind = "cron"
)

type Cadence struct {
	Kind CadenceKind `json:"kind"`
	// DayOfWeek is used by weekly cadences (0 = Sunday, matching time.Weekday).
	DayOfWeek int `json:"day_of_week,omitempty"`
	// DayOfMonth is used by monthly cadences; clamped to the last
	// valid day in shorter months.
	DayOfMonth int `json:"day_of_month,omitempty"`
	// Expr is the cron expression for CadenceCron.
	Expr string `json:"expr,omitempty"`
}

// ScheduleEntry is a persisted recurring research-and-notify job.
// TimeOfDay is "HH:MM" 24h local time; it is ignored for cron cadences.
type ScheduleEntry struct {
	ID              string
	Topic           string
	Recipient       string
	TimeOfDay       string
	Cadence         Cadence
	SubjectTemplate string
	Enabled         bool
	LastFiredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func NewScheduleID() string { return "sch_" + uuid.NewString() }

// AttemptOutcome classifies a single delivery attempt.
type AttemptOutcome string

const (
	AttemptSuccess          AttemptOutcome = "success"
	AttemptTransientFailure AttemptOutcome = "transient_failure"
	AttemptPermanentFailure AttemptOutcome = "permanent_failure"
)

// DeliveryAttempt records one send attempt against the transport.
type DeliveryAttempt struct {
	ID         int64
	RefID      string // schedule entry or task id
	Number     int
	OccurredAt time.Time
	Outcome    AttemptOutcome
	Error      string
}
