// Package interrupt delivers cancellation and timeout interrupts to trees of
// worker goroutines and waits for them to confirm. Cooperative code watches
// the worker's context; code blocked outside Go's control registers an
// Interrupter that unblocks it (closing a connection, killing a process).
package interrupt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrCanceled is the context cause of a cancelled worker.
	ErrCanceled = errors.New("interrupted: canceled")

	// ErrTimeout is the context cause of a worker that ran past its deadline.
	ErrTimeout = errors.New("interrupted: timed out")

	// ErrInterruptUnconfirmed is returned when a worker neither acknowledged
	// an interrupt nor exited before the caller stopped waiting.
	ErrInterruptUnconfirmed = errors.New("interrupt not confirmed")

	// ErrWorkerNotFound is returned when registering under an unknown parent.
	ErrWorkerNotFound = errors.New("worker not found")
)

// Interrupter unblocks work that does not watch its context. It may be
// called more than once.
type Interrupter func()

// Worker is a goroutine that can be interrupted.
type Worker struct {
	id       string
	parentID string

	ctx    context.Context
	cancel context.CancelCauseFunc

	done     chan struct{}
	doneOnce sync.Once
	acked    atomic.Bool

	mu           sync.Mutex
	interrupters []Interrupter

	registry *Registry
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// ParentID returns the id of the parent worker, or "" for a root.
func (w *Worker) ParentID() string { return w.parentID }

// Context is cancelled, with the interrupt as its cause, when the worker is interrupted.
func (w *Worker) Context() context.Context { return w.ctx }

// Interrupted reports whether an interrupt has been delivered.
func (w *Worker) Interrupted() bool { return w.ctx.Err() != nil }

// Cause returns the interrupt delivered to the worker, or nil.
func (w *Worker) Cause() error { return context.Cause(w.ctx) }

// Acknowledge confirms that the worker observed the interrupt and is unwinding.
func (w *Worker) Acknowledge() { w.acked.Store(true) }

// Acknowledged reports whether the worker acknowledged an interrupt.
func (w *Worker) Acknowledged() bool { return w.acked.Load() }

// Done is closed once the worker has finished.
func (w *Worker) Done() <-chan struct{} { return w.done }

// RegisterInterrupter adds fn to the functions run on every interrupt delivery.
func (w *Worker) RegisterInterrupter(fn Interrupter) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.interrupters = append(w.interrupters, fn)
}

// Finish marks the worker done and removes it from its registry. It is safe
// to call more than once.
func (w *Worker) Finish() {
	w.doneOnce.Do(func() {
		close(w.done)
		w.registry.remove(w)
		// Release the context's resources; the cause recorded by an earlier
		// interrupt is kept.
		w.cancel(context.Canceled)
	})
}

func (w *Worker) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *Worker) confirmed() bool { return w.Acknowledged() || w.finished() }

// deliver cancels the worker's context with cause and runs its interrupters.
// Interrupter panics are recovered and returned as the second value.
func (w *Worker) deliver(cause error) (panics []any) {
	w.cancel(cause)

	w.mu.Lock()
	fns := append([]Interrupter(nil), w.interrupters...)
	w.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					panics = append(panics, r)
				}
			}()
			fn()
		}()
	}
	return panics
}
