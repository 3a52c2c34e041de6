package worker

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"agentflow/internal/domain"
)

// Config carries the type-specific settings the registry injects at
// construction time.
type Config struct {
	// ResearchDeep turns on deep analysis for the research worker.
	ResearchDeep bool
}

// Registry constructs and caches one worker instance per type. It is
// the single point where capability-client wiring happens; workers
// never build their own client. Safe for concurrent use.
type Registry struct {
	gen      Generator
	pipeline Deliverer
	cfg      Config

	mu    sync.RWMutex
	cache map[domain.WorkerType]Worker
}

// NewRegistry builds a registry. pipeline may be nil when delivery is
// not configured; resolving the notifier then fails at first use.
func NewRegistry(gen Generator, pipeline Deliverer, cfg Config) *Registry {
	return &Registry{
		gen:      gen,
		pipeline: pipeline,
		cfg:      cfg,
		cache:    make(map[domain.WorkerType]Worker),
	}
}

// Resolve returns the cached instance for the type, constructing it on
// first use. Construction failures are reported to the caller and not
// silently retried with different inputs: a missing dependency keeps
// failing until configuration is fixed and Invalidate is called.
func (r *Registry) Resolve(t domain.WorkerType) (Worker, error) {
	r.mu.RLock()
	w, ok := r.cache[t]
	r.mu.RUnlock()
	if ok {
		return w, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.cache[t]; ok {
		return w, nil
	}

	w, err := r.construct(t)
	if err != nil {
		return nil, err
	}
	r.cache[t] = w
	log.Info().Str("worker", string(t)).Msg("worker instance constructed")
	return w, nil
}

func (r *Registry) construct(t domain.WorkerType) (Worker, error) {
	if r.gen == nil {
		return nil, fmt.Errorf("construct %s worker: capability client is not configured", t)
	}
	switch t {
	case domain.WorkerResearch:
		return NewResearch(r.gen, r.cfg.ResearchDeep), nil
	case domain.WorkerNotifier:
		if r.pipeline == nil {
			return nil, fmt.Errorf("construct notifier worker: delivery pipeline is not configured (check SENDER_EMAIL/SENDER_PASSWORD)")
		}
		return NewNotifier(r.gen, r.pipeline), nil
	case domain.WorkerGeneralist:
		return NewGeneralist(r.gen), nil
	default:
		return nil, fmt.Errorf("unknown worker type %q", t)
	}
}

// Invalidate drops the cached instance for a type so the next Resolve
// rebuilds it. In-flight invocations keep the reference they started
// with and run to completion.
func (r *Registry) Invalidate(t domain.WorkerType) {
	r.mu.Lock()
	delete(r.cache, t)
	r.mu.Unlock()
	log.Info().Str("worker", string(t)).Msg("worker instance invalidated")
}

// SetConfig replaces the injected configuration for future
// constructions. Call Invalidate for the affected types afterwards.
func (r *Registry) SetConfig(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}
