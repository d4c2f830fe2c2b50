package interrupt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/dispatch/pkg/common/logger"
)

// DefaultPollInterval is how often an unconfirmed interrupt is re-delivered.
const DefaultPollInterval = 50 * time.Millisecond

var errNotConfirmed = errors.New("worker has not confirmed")

// Registry tracks live workers and their parent/child relationships.
type Registry struct {
	mu       sync.Mutex
	workers  map[string]*Worker
	children map[string]map[string]*Worker

	pollInterval time.Duration
	logger       *logger.Logger
}

// NewRegistry creates an empty registry. A non-positive pollInterval selects
// DefaultPollInterval.
func NewRegistry(pollInterval time.Duration, log *logger.Logger) *Registry {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Registry{
		workers:      make(map[string]*Worker),
		children:     make(map[string]map[string]*Worker),
		pollInterval: pollInterval,
		logger:       log.With("component", "interrupt_registry"),
	}
}

// Register creates a worker. A root worker (parentID "") derives its context
// from ctx; a child derives it from its parent's, so interrupting a parent
// also cancels the child's context.
func (r *Registry) Register(ctx context.Context, id, parentID string) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[id]; exists {
		return nil, fmt.Errorf("worker %s already registered", id)
	}

	base := ctx
	if parentID != "" {
		parent, ok := r.workers[parentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent %s", ErrWorkerNotFound, parentID)
		}
		base = parent.ctx
	}

	wctx, cancel := context.WithCancelCause(base)
	w := &Worker{
		id:       id,
		parentID: parentID,
		ctx:      wctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		registry: r,
	}
	r.workers[id] = w
	if parentID != "" {
		if r.children[parentID] == nil {
			r.children[parentID] = make(map[string]*Worker)
		}
		r.children[parentID][id] = w
	}
	return w, nil
}

// Go runs fn on a new goroutine registered as a child of parent. The child
// finishes when fn returns.
func (r *Registry) Go(parent *Worker, id string, fn func(ctx context.Context)) (*Worker, error) {
	w, err := r.Register(parent.ctx, id, parent.id)
	if err != nil {
		return nil, err
	}
	go func() {
		defer w.Finish()
		fn(w.ctx)
	}()
	return w, nil
}

// Get returns a live worker by id.
func (r *Registry) Get(id string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	return w, ok
}

// Children returns the live direct children of a worker.
func (r *Registry) Children(id string) []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Worker, 0, len(r.children[id]))
	for _, c := range r.children[id] {
		out = append(out, c)
	}
	return out
}

// Len returns the number of live workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

func (r *Registry) remove(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, w.id)
	if w.parentID != "" {
		delete(r.children[w.parentID], w.id)
		if len(r.children[w.parentID]) == 0 {
			delete(r.children, w.parentID)
		}
	}
}

// RaiseException interrupts w and all of its descendants with cause, then
// waits until each has acknowledged or finished. Descendants are interrupted
// first. Unconfirmed workers get the interrupt re-delivered every poll
// interval until they confirm or ctx ends, in which case
// ErrInterruptUnconfirmed is returned.
func (r *Registry) RaiseException(ctx context.Context, w *Worker, cause error) error {
	if cause == nil {
		cause = ErrCanceled
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, child := range r.Children(w.id) {
		child := child
		g.Go(func() error { return r.RaiseException(gctx, child, cause) })
	}
	childErr := g.Wait()

	if err := r.interruptOne(ctx, w, cause); err != nil {
		return err
	}
	return childErr
}

func (r *Registry) interruptOne(ctx context.Context, w *Worker, cause error) error {
	if w.finished() {
		return nil
	}

	attempts := 0
	op := func() error {
		if w.confirmed() {
			return nil
		}
		attempts++
		for _, p := range w.deliver(cause) {
			r.logger.Warn(ctx, "interrupter panicked", "worker_id", w.id, "panic", p)
		}
		if w.confirmed() {
			return nil
		}
		return errNotConfirmed
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(r.pollInterval), ctx)
	if err := backoff.Retry(op, b); err != nil {
		r.logger.Warn(ctx, "worker did not confirm interrupt",
			"worker_id", w.id,
			"cause", cause.Error(),
			"attempts", attempts,
		)
		return fmt.Errorf("worker %s: %w", w.id, ErrInterruptUnconfirmed)
	}

	r.logger.Debug(ctx, "worker confirmed interrupt", "worker_id", w.id, "attempts", attempts)
	return nil
}

// Cancel interrupts w with ErrCanceled.
func (r *Registry) Cancel(ctx context.Context, w *Worker) error {
	return r.RaiseException(ctx, w, ErrCanceled)
}

// Timeout interrupts w with ErrTimeout.
func (r *Registry) Timeout(ctx context.Context, w *Worker) error {
	return r.RaiseException(ctx, w, ErrTimeout)
}
