package tasks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Runner starts named background goroutines. Tasks are fire-and-forget:
// a failure is logged by the task itself and never retried.
type Runner struct {
	mu      sync.Mutex
	parent  context.Context
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner derives every task context from parent.
func NewRunner(parent context.Context) *Runner {
	return &Runner{parent: parent, cancels: make(map[uuid.UUID]context.CancelFunc)}
}

// Go runs fn in a new goroutine. The returned func cancels its context.
func (r *Runner) Go(name string, fn func(ctx context.Context)) context.CancelFunc {
	ctx, cancel := context.WithCancel(r.parent)
	id := uuid.New()

	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.forget(id)
		defer func() {
			if p := recover(); p != nil {
				log.WithField("task", name).Errorf("Task panicked: %v", p)
			}
		}()
		fn(ctx)
	}()
	return cancel
}

func (r *Runner) forget(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[id]; ok {
		cancel()
		delete(r.cancels, id)
	}
}

// Running returns the number of live tasks.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// Shutdown cancels every task and waits for them to return.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
