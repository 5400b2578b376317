package tasks

import (
	"sync"
	"time"

	"github.com/byte4ever/tagpromoter/gitops/promoter"
)

// State is the lifecycle step of a task.
type State string

// Task states.
const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Finished reports whether s is terminal.
func (s State) Finished() bool {
	return s == StateDone || s == StateFailed
}

// Task is a snapshot of one submitted promotion.
type Task struct {
	ID        string
	State     State
	Request   promoter.Request
	Outcome   promoter.Outcome
	Submitted time.Time
	Started   time.Time
	Finished  time.Time
}

// Registry stores tasks by id. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Get returns a copy of task id.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}

	return *t, true
}

// Prune drops finished tasks older than retention and
// returns how many were dropped.
func (r *Registry) Prune(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-retention)
	pruned := 0

	for id, t := range r.tasks {
		if t.State.Finished() && t.Finished.Before(cutoff) {
			delete(r.tasks, id)
			pruned++
		}
	}

	return pruned
}

func (r *Registry) add(id string, req promoter.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[id] = &Task{
		ID:        id,
		State:     StatePending,
		Request:   req,
		Submitted: r.now(),
	}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tasks, id)
}

func (r *Registry) start(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tasks[id]; ok {
		t.State = StateRunning
		t.Started = r.now()
	}
}

func (r *Registry) finish(id string, out promoter.Outcome) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := StateDone
	if out.Kind == promoter.KindFailed {
		state = StateFailed
	}

	if t, ok := r.tasks[id]; ok {
		t.State = state
		t.Outcome = out
		t.Finished = r.now()
	}

	return state
}
