// Package delivery pushes composed content through an unreliable
// external transport with bounded retries and an audit trail of every
// attempt.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"agentflow/internal/domain"
)

// Message is what the transport boundary accepts.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Transport is the external send boundary (email-style).
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// PermanentError marks a failure that retrying cannot fix
// (authentication rejected, malformed destination). Transports wrap
// such failures so the pipeline gives up immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is a
// PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Recorder persists delivery attempts for auditability.
type Recorder interface {
	RecordAttempt(ctx context.Context, a domain.DeliveryAttempt) error
}

// Pipeline retries transient transport failures per its policy and
// records every attempt. It does not deduplicate sends; avoiding
// repeated identical sends is the caller's responsibility.
type Pipeline struct {
	transport Transport
	policy    Policy
	recorder  Recorder
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewPipeline builds a pipeline. recorder may be nil (attempts are
// then only logged).
func NewPipeline(transport Transport, policy Policy, recorder Recorder) *Pipeline {
	if policy.MaxAttempts < 1 {
		policy = DefaultPolicy()
	}
	return &Pipeline{
		transport: transport,
		policy:    policy,
		recorder:  recorder,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deliver sends msg, retrying transient failures with backoff up to
// the policy's attempt budget. The returned attempt is the last one
// made; err is nil only on success.
func (p *Pipeline) Deliver(ctx context.Context, refID string, msg Message) (domain.DeliveryAttempt, error) {
	var last domain.DeliveryAttempt
	for attempt := 1; ; attempt++ {
		err := p.transport.Send(ctx, msg)

		last = domain.DeliveryAttempt{
			RefID:      refID,
			Number:     attempt,
			OccurredAt: time.Now().UTC(),
		}
		switch {
		case err == nil:
			last.Outcome = domain.AttemptSuccess
		case IsPermanent(err):
			last.Outcome = domain.AttemptPermanentFailure
			last.Error = err.Error()
		default:
			last.Outcome = domain.AttemptTransientFailure
			last.Error = err.Error()
		}
		p.record(ctx, last)

		if err == nil {
			log.Info().Str("ref_id", refID).Str("to", msg.To).Int("attempt", attempt).Msg("delivery succeeded")
			return last, nil
		}
		if IsPermanent(err) {
			log.Error().Err(err).Str("ref_id", refID).Str("to", msg.To).Msg("permanent delivery failure, not retrying")
			return last, err
		}

		delay, retry := p.policy.Next(attempt)
		if !retry {
			log.Error().Err(err).Str("ref_id", refID).Int("attempts", attempt).Msg("delivery gave up after retry budget")
			return last, fmt.Errorf("delivery failed after %d attempts: %w", attempt, err)
		}
		log.Warn().Err(err).Str("ref_id", refID).Int("attempt", attempt).Dur("retry_in", delay).Msg("transient delivery failure")

		if serr := p.sleep(ctx, delay); serr != nil {
			log.Warn().Str("ref_id", refID).Int("attempts", attempt).Msg("delivery retry sequence abandoned on shutdown")
			return last, fmt.Errorf("delivery abandoned after %d attempts: %w", attempt, serr)
		}
	}
}

func (p *Pipeline) record(ctx context.Context, a domain.DeliveryAttempt) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordAttempt(ctx, a); err != nil {
		log.Error().Err(err).Str("ref_id", a.RefID).Msg("failed to record delivery attempt")
	}
}
