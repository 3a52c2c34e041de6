package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agentflow/internal/delivery"
	"agentflow/internal/domain"
)

// Deliverer is the slice of the delivery pipeline the notifier needs.
type Deliverer interface {
	Deliver(ctx context.Context, refID string, msg delivery.Message) (domain.DeliveryAttempt, error)
}

const composeSystem = "You compose clear, concise notification emails. Output only the message body."

// Notifier composes notification content and, when the payload names a
// recipient, pushes it through the delivery pipeline. Scheduled
// generate-and-deliver tasks land here.
type Notifier struct {
	gen      Generator
	pipeline Deliverer
}

func NewNotifier(gen Generator, pipeline Deliverer) *Notifier {
	return &Notifier{gen: gen, pipeline: pipeline}
}

func (n *Notifier) Type() domain.WorkerType { return domain.WorkerNotifier }

func (n *Notifier) Handle(ctx context.Context, payload json.RawMessage) (domain.Result, error) {
	var briefing BriefingPayload
	if err := json.Unmarshal(payload, &briefing); err == nil && briefing.Recipient != "" {
		return n.handleBriefing(ctx, briefing)
	}

	var req RequestPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return domain.Result{}, fmt.Errorf("notifier payload: %w", err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return domain.Result{}, fmt.Errorf("notifier payload: empty request")
	}

	// No recipient: compose a draft only, sending stays with the caller.
	start := time.Now()
	content, err := n.gen.Generate(ctx, "Draft a notification message for: "+req.Text, composeSystem)
	if err != nil {
		return domain.Result{}, fmt.Errorf("notification draft: %w", err)
	}
	return domain.Result{
		Content:  content,
		Worker:   string(domain.WorkerNotifier),
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}, nil
}

func (n *Notifier) handleBriefing(ctx context.Context, b BriefingPayload) (domain.Result, error) {
	if b.Topic == "" {
		return domain.Result{}, fmt.Errorf("briefing payload: empty topic")
	}
	start := time.Now()

	research, err := n.gen.Generate(ctx,
		"Provide the latest information and findings on: "+b.Topic,
		researchSystem)
	if err != nil {
		return domain.Result{}, fmt.Errorf("briefing generation: %w", err)
	}
	if strings.TrimSpace(research) == "" {
		return domain.Result{}, fmt.Errorf("briefing generation: empty content for %q", b.Topic)
	}

	subject := RenderSubject(b.SubjectTemplate, b.Topic, time.Now())
	body := composeBriefing(subject, b.Topic, research)

	refID := b.ScheduleID
	if refID == "" {
		refID = b.Recipient
	}
	attempt, err := n.pipeline.Deliver(ctx, refID, delivery.Message{
		To:      b.Recipient,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return domain.Result{}, fmt.Errorf("briefing delivery (attempt %d): %w", attempt.Number, err)
	}

	return domain.Result{
		Content:  body,
		Worker:   string(domain.WorkerNotifier),
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}, nil
}

// RenderSubject substitutes {date} in a subject template. An empty
// template falls back to a plain dated subject for the topic.
func RenderSubject(template, topic string, now time.Time) string {
	date := now.Format("2006-01-02")
	if template == "" {
		return fmt.Sprintf("%s briefing - %s", topic, date)
	}
	return strings.ReplaceAll(template, "{date}", date)
}

func composeBriefing(subject, topic, research string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", subject)
	sb.WriteString("## Research summary\n\n")
	sb.WriteString(research)
	sb.WriteString("\n\n---\n")
	fmt.Fprintf(&sb, "Generated at %s for topic %q\n", time.Now().Format(time.RFC3339), topic)
	return sb.String()
}
