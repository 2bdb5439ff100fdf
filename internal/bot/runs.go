package bot

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// run is one in-flight pipeline execution.
type run struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	discarded atomic.Bool
}

// runRegistry tracks at most one in-flight run per user.
type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*run
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*run)}
}

// start registers a new run derived from parent. It returns false when the
// user already has one in flight.
func (r *runRegistry) start(parent context.Context, userID string) (*run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.runs[userID]; busy {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	rn := &run{id: uuid.NewString(), ctx: ctx, cancel: cancel}
	r.runs[userID] = rn
	return rn, true
}

func (r *runRegistry) finish(userID string, rn *run) {
	rn.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.runs[userID]; ok && cur == rn {
		delete(r.runs, userID)
	}
}

// discard marks the user's in-flight run so its result is dropped and frees
// the slot for a new run. Calls already in flight are left to complete.
func (r *runRegistry) discard(userID string) bool {
	r.mu.Lock()
	rn, ok := r.runs[userID]
	delete(r.runs, userID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	rn.discarded.Store(true)
	return true
}

func (r *runRegistry) active(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[userID]
	return ok
}

func (r *runRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
