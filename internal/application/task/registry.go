package task

import (
	"fmt"
	"sync"

	domain "github.com/here-xyz/tasked-step-engine/internal/domain/task"
)

// Registry is the single-consumer-queue wrapper spec.md §9 calls for: the
// engine itself assumes serialized delivery of Execute/OnAsyncUpdate and
// does not lock its own counters, so any caller that cannot already
// guarantee that (e.g. an HTTP server receiving concurrent progress
// webhooks for the same step) must go through a Registry instead of
// holding an *Engine directly.
type Registry struct {
	mu      sync.Mutex
	engines map[StepID]*entry
}

type entry struct {
	mu     sync.Mutex
	engine *Engine
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[StepID]*entry)}
}

// Put registers a freshly constructed engine under its step id.
func (r *Registry) Put(engine *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[engine.stepID] = &entry{engine: engine}
}

// ErrUnknownStep is returned by With when no engine is registered for the
// given step id.
var ErrUnknownStep = fmt.Errorf("unknown step id")

// With runs fn against the engine for stepID while holding that step's
// own lock, serializing every caller against each other without blocking
// unrelated steps.
func (r *Registry) With(stepID StepID, fn func(*Engine) error) error {
	r.mu.Lock()
	e, ok := r.engines[stepID]
	r.mu.Unlock()
	if !ok {
		return domain.ValidationErrorf(ErrUnknownStep, "step %q", stepID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.engine)
}

// Remove drops a step's engine once it reaches a terminal state and its
// bookkeeping has been persisted; the Registry is a live-step cache, not
// a history store.
func (r *Registry) Remove(stepID StepID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, stepID)
}
