package task

import (
	"context"
	"sync"
)

// Handle is the cancellation signal of one running task.
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHandle(parent context.Context) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{ctx: ctx, cancel: cancel}
}

// Context is canceled once the handle is canceled.
func (h *Handle) Context() context.Context { return h.ctx }

func (h *Handle) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Handle) Cancel() { h.cancel() }

// Registry maps running tasks to their cancellation handles. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	handles map[TaskID]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[TaskID]*Handle)}
}

// Register stores h under id, replacing any previous handle.
func (r *Registry) Register(id TaskID, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = h
}

// Cancel removes the handle of id and signals it. It reports whether a handle
// was registered.
func (r *Registry) Cancel(id TaskID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return false
	}
	delete(r.handles, id)
	h.Cancel()
	return true
}

func (r *Registry) Get(id TaskID) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// Remove drops the handle of id without signaling it. Missing ids are ignored.
func (r *Registry) Remove(id TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// IDs returns a snapshot of the registered task ids.
func (r *Registry) IDs() []TaskID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]TaskID, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}
