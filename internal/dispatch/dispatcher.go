// Package dispatch owns the in-memory task queue: it routes unrouted
// tasks, resolves workers through the registry, and runs invocations
// on a bounded pool.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"agentflow/internal/domain"
	"agentflow/internal/routing"
	"agentflow/internal/worker"
)

// Dispatcher processes submitted tasks FIFO with at most `concurrency`
// worker invocations in flight. Task records live in memory for the
// process lifetime; the task queue is not persisted.
type Dispatcher struct {
	engine        *routing.Engine
	registry      *worker.Registry
	queue         chan string
	sem           chan struct{}
	invokeTimeout time.Duration

	mu    sync.RWMutex
	tasks map[string]*domain.Task

	inflight sync.WaitGroup
}

// New builds a dispatcher. concurrency bounds simultaneous worker
// invocations; queueSize bounds Submit before it starts rejecting.
func New(engine *routing.Engine, registry *worker.Registry, concurrency, queueSize int, invokeTimeout time.Duration) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = 256
	}
	return &Dispatcher{
		engine:        engine,
		registry:      registry,
		queue:         make(chan string, queueSize),
		sem:           make(chan struct{}, concurrency),
		invokeTimeout: invokeTimeout,
		tasks:         make(map[string]*domain.Task),
	}
}

// Submit enqueues a task. Kind and Payload must be set; ID and
// timestamps are filled in. A pre-attached Decision skips routing.
func (d *Dispatcher) Submit(t domain.Task) (string, error) {
	if t.Kind == "" {
		return "", fmt.Errorf("submit: task kind is required")
	}
	if len(t.Payload) == 0 {
		return "", fmt.Errorf("submit: task payload is required")
	}
	if t.ID == "" {
		t.ID = domain.NewTaskID()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Status = domain.TaskPending
	if t.Decision != nil {
		t.Decision.TaskID = t.ID
		t.Status = domain.TaskRouted
	}

	d.mu.Lock()
	d.tasks[t.ID] = &t
	d.mu.Unlock()

	d.inflight.Add(1)
	select {
	case d.queue <- t.ID:
	default:
		d.inflight.Done()
		d.mu.Lock()
		delete(d.tasks, t.ID)
		d.mu.Unlock()
		return "", fmt.Errorf("submit: queue full")
	}
	log.Info().Str("task_id", t.ID).Str("kind", t.Kind).Msg("task submitted")
	return t.ID, nil
}

// SubmitRequest wraps a free-form request text as a task.
func (d *Dispatcher) SubmitRequest(text string) (string, error) {
	payload, err := json.Marshal(worker.RequestPayload{Text: text})
	if err != nil {
		return "", err
	}
	return d.Submit(domain.Task{Kind: domain.KindRequest, Payload: payload})
}

// Run is the processing loop. It exits when ctx is cancelled,
// discarding (and logging) tasks still waiting in the queue.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.discardPending()
			return
		case id := <-d.queue:
			select {
			case d.sem <- struct{}{}:
			case <-ctx.Done():
				d.inflight.Done()
				d.setFailed(id, "shutdown before invocation")
				d.discardPending()
				return
			}
			go func(id string) {
				defer func() { <-d.sem }()
				defer d.inflight.Done()
				d.process(ctx, id)
			}(id)
		}
	}
}

// Wait blocks until every submitted task has finished processing.
// Meant for batch-style drivers that submit then drain.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) discardPending() {
	n := 0
	for {
		select {
		case id := <-d.queue:
			d.inflight.Done()
			d.setFailed(id, "discarded on shutdown")
			n++
		default:
			if n > 0 {
				log.Warn().Int("discarded", n).Msg("pending tasks discarded on shutdown")
			}
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, id string) {
	t, ok := d.snapshot(id)
	if !ok {
		return
	}

	if t.Decision == nil {
		decision := d.engine.Classify(ctx, t.ID, requestText(t.Payload))
		d.update(id, func(t *domain.Task) {
			t.Decision = &decision
			t.Status = domain.TaskRouted
		})
		t.Decision = &decision
	}

	w, err := d.registry.Resolve(t.Decision.WorkerType)
	if err != nil {
		log.Error().Err(err).Str("task_id", id).Str("worker", string(t.Decision.WorkerType)).Msg("worker construction failed")
		d.setFailed(id, err.Error())
		return
	}

	d.update(id, func(t *domain.Task) { t.Status = domain.TaskRunning })

	ictx := ctx
	if d.invokeTimeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, d.invokeTimeout)
		defer cancel()
	}
	result, err := w.Handle(ictx, t.Payload)
	if err != nil {
		log.Error().Err(err).Str("task_id", id).Str("worker", string(t.Decision.WorkerType)).Msg("worker invocation failed")
		d.setFailed(id, err.Error())
		return
	}

	d.update(id, func(t *domain.Task) {
		t.Status = domain.TaskDone
		t.Result = &result
	})
	log.Info().Str("task_id", id).Str("worker", result.Worker).Msg("task completed")
}

// requestText pulls the text field out of a request payload for
// classification; other payload shapes classify on their raw JSON.
func requestText(payload json.RawMessage) string {
	var req worker.RequestPayload
	if err := json.Unmarshal(payload, &req); err == nil && req.Text != "" {
		return req.Text
	}
	return string(payload)
}

// Get returns a copy of the task record.
func (d *Dispatcher) Get(id string) (domain.Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return *t, true
}

// List returns copies of all task records, newest first.
func (d *Dispatcher) List() []domain.Task {
	d.mu.RLock()
	out := make([]domain.Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, *t)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (d *Dispatcher) snapshot(id string) (domain.Task, bool) {
	return d.Get(id)
}

func (d *Dispatcher) update(id string, fn func(*domain.Task)) {
	d.mu.Lock()
	if t, ok := d.tasks[id]; ok {
		fn(t)
		t.UpdatedAt = time.Now().UTC()
	}
	d.mu.Unlock()
}

func (d *Dispatcher) setFailed(id, reason string) {
	d.update(id, func(t *domain.Task) {
		t.Status = domain.TaskFailed
		t.Error = reason
	})
}
