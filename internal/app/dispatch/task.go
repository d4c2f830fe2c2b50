package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/dispatch/internal/app/interrupt"
	domain "github.com/ahrav/dispatch/internal/domain/dispatch"
)

// task wraps one call request and its report while the call moves through
// the coordinator.
//
// Fields under mu are the report and the runner bookkeeping. Fields marked
// "guarded by Coordinator.mu" may only be touched while holding the
// coordinator's lock. Lock order is Coordinator.mu, then task.mu.
type task struct {
	req     *domain.CallRequest
	seq     uint64
	groupID string

	// ctx carries the submitter's values without its cancellation.
	ctx context.Context

	mu       sync.Mutex
	report   domain.CallReport
	worker   *interrupt.Worker
	exited   bool
	released bool

	// waitCtx is cancelled when the call is cancelled before it runs, so a
	// runner blocked on concurrency weight gives up.
	waitCtx    context.Context
	waitCancel context.CancelFunc

	started     chan struct{}
	startedOnce sync.Once
	done        chan struct{}
	doneOnce    sync.Once

	timedOut atomic.Bool

	// Guarded by Coordinator.mu.
	granted     bool
	queued      bool
	pendingDeps map[string]struct{}
	completedAt time.Time
	weight      int64
}

func newTask(ctx context.Context, req *domain.CallRequest, groupID string, seq uint64) *task {
	waitCtx, waitCancel := context.WithCancel(context.Background())
	t := &task{
		req:         req,
		seq:         seq,
		groupID:     groupID,
		ctx:         context.WithoutCancel(ctx),
		report:      domain.NewCallReport(req, uuid.New().String(), groupID),
		waitCtx:     waitCtx,
		waitCancel:  waitCancel,
		started:     make(chan struct{}),
		done:        make(chan struct{}),
		pendingDeps: make(map[string]struct{}),
	}
	for id := range req.Dependencies() {
		t.pendingDeps[id] = struct{}{}
	}
	return t
}

func (t *task) id() string { return t.req.ID() }

// snapshot returns a copy of the report safe to hand out.
func (t *task) snapshot() domain.CallReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report.Clone()
}

func (t *task) state() domain.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report.State
}

// transitionLocked moves the report to target. An illegal transition is a
// bookkeeping defect and panics. t.mu must be held.
func (t *task) transitionLocked(target domain.TaskState) {
	if err := t.report.State.ValidateTransition(target); err != nil {
		panic(fmt.Sprintf("call request %s: %v", t.id(), err))
	}
	t.report.State = target

	now := time.Now().UTC()
	switch {
	case target == domain.TaskStateRunning:
		t.report.StartTime = &now
		t.startedOnce.Do(func() { close(t.started) })
	case target.IsTerminal():
		t.report.FinishTime = &now
		t.startedOnce.Do(func() { close(t.started) })
		t.doneOnce.Do(func() { close(t.done) })
	}
}

// skipLocked ends a call that will never run. t.mu must be held.
func (t *task) skipLocked() {
	t.transitionLocked(domain.TaskStateSkipped)
	t.waitCancel()
}

// conduit is the callable's handle on its own call.
type conduit struct {
	c    *Coordinator
	t    *task
	w    *interrupt.Worker
	kids atomic.Int64
}

var _ domain.Conduit = (*conduit)(nil)

func (cd *conduit) Args() []any                   { return cd.t.req.Args() }
func (cd *conduit) Kwargs() map[string]any        { return cd.t.req.Kwargs() }
func (cd *conduit) Cancelled() bool               { return cd.w.Interrupted() }
func (cd *conduit) Acknowledge()                  { cd.w.Acknowledge() }
func (cd *conduit) RegisterInterrupter(fn func()) { cd.w.RegisterInterrupter(fn) }

func (cd *conduit) ReportProgress(progress map[string]any) {
	cd.c.reportProgress(cd.t.ctx, cd.t, progress)
}

func (cd *conduit) Spawn(name string, fn func(ctx context.Context)) {
	id := fmt.Sprintf("%s/%s-%d", cd.w.ID(), name, cd.kids.Add(1))
	if _, err := cd.c.registry.Go(cd.w, id, fn); err != nil {
		cd.c.logger.Error(cd.t.ctx, "failed to spawn child worker",
			"call_request_id", cd.t.id(),
			"worker_id", id,
			"error", err,
		)
	}
}

// invocation is the outcome of running a callable once.
type invocation struct {
	result    any
	err       error
	panicked  bool
	traceback string
}

// invoke runs the callable, converting a panic into an error.
func invoke(ctx context.Context, call domain.Callable, cd domain.Conduit) (out invocation) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			out = invocation{err: err, panicked: true, traceback: string(debug.Stack())}
		}
	}()

	result, err := call(ctx, cd)
	if err != nil {
		return invocation{err: err, traceback: errorChain(err)}
	}
	return invocation{result: result}
}

// errorChain renders each error in err's Unwrap chain on its own line.
func errorChain(err error) string {
	var out string
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%T: %s", err, err.Error())
		err = errors.Unwrap(err)
	}
	return out
}
