// Package routing classifies free-form requests into worker types.
// Two independent strategies sit behind one interface: the primary
// capability-backed classifier, and a deterministic keyword fallback
// that takes over on any primary failure or timeout.
package routing

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"agentflow/internal/capability"
	"agentflow/internal/domain"
)

// Classifier is the primary classification strategy.
// *capability.Client satisfies it.
type Classifier interface {
	Classify(ctx context.Context, text string) (capability.Classification, error)
}

// Engine produces exactly one RoutingDecision per request. It never
// returns an error: unclassifiable input routes to the generalist.
type Engine struct {
	primary Classifier
	timeout time.Duration
}

// NewEngine builds an engine. primary may be nil, in which case every
// decision comes from the fallback rule set.
func NewEngine(primary Classifier, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{primary: primary, timeout: timeout}
}

// Classify routes a request text to a worker type.
func (e *Engine) Classify(ctx context.Context, taskID, text string) domain.RoutingDecision {
	if e.primary != nil {
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		cl, err := e.primary.Classify(cctx, text)
		cancel()
		if err == nil {
			d := domain.RoutingDecision{
				TaskID:     taskID,
				WorkerType: domain.WorkerType(cl.Label),
				Confidence: cl.Confidence,
				Rationale:  "primary classifier",
				Source:     domain.SourcePrimary,
			}
			log.Debug().Str("task_id", taskID).Str("worker", cl.Label).Float64("confidence", cl.Confidence).Msg("routed via primary classifier")
			return d
		}
		log.Warn().Err(err).Str("task_id", taskID).Msg("primary classifier unavailable, using fallback")
	}

	d := classifyKeywords(text)
	d.TaskID = taskID
	log.Debug().Str("task_id", taskID).Str("worker", string(d.WorkerType)).Str("rationale", d.Rationale).Msg("routed via fallback")
	return d
}

// Keyword rule sets, evaluated in fixed priority order so fallback
// routing is deterministic: notifier beats research beats generalist.
var (
	notifierKeywords = []string{"send", "deliver", "notify", "email", "mail", "write to", "message"}
	researchKeywords = []string{"research", "investigate", "analyze", "analyse", "search", "find out", "look up", "study", "summarize"}
)

// classifyKeywords is the deterministic fallback strategy. Fallback
// decisions always carry confidence 1.0: the rule set is deterministic,
// not probabilistic, so downstream logic need not special-case them.
func classifyKeywords(text string) domain.RoutingDecision {
	lower := strings.ToLower(text)

	if kw, ok := matchAny(lower, notifierKeywords); ok {
		return domain.RoutingDecision{
			WorkerType: domain.WorkerNotifier,
			Confidence: 1.0,
			Rationale:  "keyword match: " + kw,
			Source:     domain.SourceFallback,
		}
	}
	if kw, ok := matchAny(lower, researchKeywords); ok {
		return domain.RoutingDecision{
			WorkerType: domain.WorkerResearch,
			Confidence: 1.0,
			Rationale:  "keyword match: " + kw,
			Source:     domain.SourceFallback,
		}
	}
	return domain.RoutingDecision{
		WorkerType: domain.WorkerGeneralist,
		Confidence: 1.0,
		Rationale:  "no keyword match",
		Source:     domain.SourceFallback,
	}
}

func matchAny(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}
