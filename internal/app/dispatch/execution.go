package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/dispatch/internal/app/interrupt"
	domain "github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/domain/events"
	"github.com/ahrav/dispatch/internal/infra/eventbus/reliability"
)

// run drives a granted task: it waits for concurrency weight, moves the
// call to RUNNING and invokes the callable. Resources are released once the
// runner has exited and the call is terminal.
func (c *Coordinator) run(ctx context.Context, t *task) {
	defer c.exit(t)

	if t.weight > 0 {
		if err := c.sem.Acquire(t.waitCtx, t.weight); err != nil {
			// Cancelled while waiting for weight.
			return
		}
		defer c.sem.Release(t.weight)
	}

	t.mu.Lock()
	if t.report.State != domain.TaskStateWaiting {
		t.mu.Unlock()
		return
	}
	worker, err := c.registry.Register(ctx, t.id(), "")
	if err != nil {
		t.mu.Unlock()
		panic(fmt.Sprintf("call request %s: %v", t.id(), err))
	}
	t.worker = worker
	t.transitionLocked(domain.TaskStateRunning)
	report := t.report.Clone()
	t.mu.Unlock()

	defer worker.Finish()

	c.metrics.IncRunningCalls(ctx)
	defer c.metrics.DecRunningCalls(ctx)

	c.logger.Debug(ctx, "call started",
		"call_request_id", t.id(),
		"callable_name", report.CallableName,
		"weight", t.weight,
	)
	c.publish(ctx, t.id(), domain.NewCallStartedEvent(report))

	if d := t.req.Timeout(); d > 0 {
		timer := time.AfterFunc(d, func() { c.timeout(t, worker) })
		defer timer.Stop()
	}

	cd := &conduit{c: c, t: t, w: worker}
	c.settle(ctx, t, invoke(worker.Context(), t.req.Call(), cd))
}

// settle records the outcome of the callable.
func (c *Coordinator) settle(ctx context.Context, t *task, out invocation) {
	var hooks []domain.ExecutionHook

	t.mu.Lock()
	switch t.report.State {
	case domain.TaskStateRunning:
		switch {
		case t.timedOut.Load():
			t.report.Exception = &domain.ExecutionError{CallRequestID: t.id(), Err: timeoutError(t, out.err)}
			t.report.Traceback = out.traceback
			t.transitionLocked(domain.TaskStateError)
			hooks = failureHooks
		case out.err != nil:
			t.report.Exception = &domain.ExecutionError{CallRequestID: t.id(), Panicked: out.panicked, Err: out.err}
			t.report.Traceback = out.traceback
			t.transitionLocked(domain.TaskStateError)
			hooks = failureHooks
		case t.req.IsAsynchronous():
			// The callable only dispatched the work; completion is reported
			// through CompleteCallSuccess or CompleteCallFailure.
			t.mu.Unlock()
			return
		default:
			t.report.Result = out.result
			t.transitionLocked(domain.TaskStateFinished)
			hooks = successHooks
		}
	case domain.TaskStateSuspended:
		// The callable returned after a cancel was requested.
		t.transitionLocked(domain.TaskStateCanceled)
		hooks = completeHooks
	default:
		// Already ended by an unconfirmed cancel or by the timeout.
		t.mu.Unlock()
		return
	}
	report := t.report.Clone()
	t.mu.Unlock()

	c.complete(ctx, t, report, hooks...)
}

var (
	successHooks  = []domain.ExecutionHook{domain.ExecutionHookFinish, domain.ExecutionHookComplete}
	failureHooks  = []domain.ExecutionHook{domain.ExecutionHookFinish, domain.ExecutionHookError, domain.ExecutionHookComplete}
	completeHooks = []domain.ExecutionHook{domain.ExecutionHookComplete}
)

func timeoutError(t *task, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w after %s", interrupt.ErrTimeout, t.req.Timeout())
	}
	return fmt.Errorf("%w after %s: %w", interrupt.ErrTimeout, t.req.Timeout(), cause)
}

// timeout interrupts a call that ran past its timeout. A call that does not
// return in response is still ended in ERROR.
func (c *Coordinator) timeout(t *task, w *interrupt.Worker) {
	t.timedOut.Store(true)

	ctx, cancel := context.WithTimeout(t.ctx, c.cfg.CancelTimeout)
	defer cancel()

	c.logger.Warn(ctx, "call timed out",
		"call_request_id", t.id(),
		"timeout", t.req.Timeout().String(),
	)
	if err := c.registry.Timeout(ctx, w); err != nil {
		c.logger.Warn(ctx, "timed out call did not confirm interrupt",
			"call_request_id", t.id(),
			"error", err,
		)
	}

	t.mu.Lock()
	if t.report.State != domain.TaskStateRunning {
		t.mu.Unlock()
		return
	}
	t.report.Exception = &domain.ExecutionError{CallRequestID: t.id(), Err: timeoutError(t, nil)}
	t.transitionLocked(domain.TaskStateError)
	report := t.report.Clone()
	t.mu.Unlock()

	c.complete(ctx, t, report, failureHooks...)
}

// exit marks the runner of t gone.
func (c *Coordinator) exit(t *task) {
	t.mu.Lock()
	t.exited = true
	t.mu.Unlock()
	c.maybeRelease(t)
}

// complete runs the execution hooks of a call that just became terminal and
// performs the coordinator's completion bookkeeping.
func (c *Coordinator) complete(ctx context.Context, t *task, report domain.CallReport, hooks ...domain.ExecutionHook) {
	c.runHooks(ctx, t, report, hooks...)

	c.mu.Lock()
	t.completedAt = c.timeProvider.Now()
	start, skipped := c.promoteLocked()
	c.mu.Unlock()

	c.metrics.IncCallsCompleted(ctx, report.State)
	if d := report.Duration(); d > 0 {
		c.metrics.ObserveCallDuration(ctx, report.CallableName, d)
	}
	c.logger.Info(ctx, "call completed",
		"call_request_id", report.CallRequestID,
		"callable_name", report.CallableName,
		"state", report.State.String(),
		"response", report.Response.String(),
		"duration", report.Duration().String(),
	)
	c.publish(ctx, t.id(), domain.NewCallCompletedEvent(report))

	if t.req.Archive() && c.archive != nil {
		if err := c.archive.Archive(ctx, report); err != nil {
			c.logger.Error(ctx, "failed to archive call report",
				"call_request_id", report.CallRequestID,
				"error", err,
			)
		}
	}

	c.startTasks(start)
	c.finishSkipped(skipped)
	c.maybeRelease(t)
}

// maybeRelease returns the resources of t once it is terminal and its runner
// has exited, then admits whatever was waiting on them.
func (c *Coordinator) maybeRelease(t *task) {
	t.mu.Lock()
	if t.released || !t.exited || !t.report.State.IsTerminal() {
		t.mu.Unlock()
		return
	}
	t.released = true
	t.mu.Unlock()

	c.mu.Lock()
	if t.granted {
		c.releaseLocked(t)
	}
	start, skipped := c.promoteLocked()
	c.mu.Unlock()

	c.startTasks(start)
	c.finishSkipped(skipped)
}

func (c *Coordinator) startTasks(tasks []*task) {
	for _, t := range tasks {
		t := t
		c.runners.Add(1)
		go func() {
			defer c.runners.Done()
			c.run(t.ctx, t)
		}()
	}
}

func (c *Coordinator) finishSkipped(tasks []*task) {
	for _, t := range tasks {
		c.complete(t.ctx, t, t.snapshot(), completeHooks...)
	}
}

// runHooks runs the execution hooks registered for each lifecycle point in
// order. A panicking hook is logged and does not stop the others.
func (c *Coordinator) runHooks(ctx context.Context, t *task, report domain.CallReport, hooks ...domain.ExecutionHook) {
	for _, hook := range hooks {
		for _, fn := range t.req.ExecutionHooks(hook) {
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logger.Error(ctx, "execution hook panicked",
							"call_request_id", t.id(),
							"hook", string(hook),
							"panic", fmt.Sprint(r),
						)
					}
				}()
				fn(ctx, t.req, report.Clone())
			}()
		}
	}
}

// callControlHook runs a control hook, converting a panic into an error.
func (c *Coordinator) callControlHook(ctx context.Context, fn domain.ControlHookFunc, t *task, report domain.CallReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("control hook panicked: %v", r)
		}
	}()
	return fn(ctx, t.req, report)
}

// reportProgress replaces the progress of a running call.
func (c *Coordinator) reportProgress(ctx context.Context, t *task, progress map[string]any) {
	t.mu.Lock()
	t.report.Progress = make(map[string]any, len(progress))
	for k, v := range progress {
		t.report.Progress[k] = v
	}
	report := t.report.Clone()
	t.mu.Unlock()

	if hook := t.req.ControlHook(domain.ControlHookProgress); hook != nil {
		if err := c.callControlHook(ctx, hook, t, report); err != nil {
			c.logger.Warn(ctx, "progress hook failed",
				"call_request_id", t.id(),
				"error", err,
			)
		}
	}

	if c.progressLimiter.Allow() {
		c.publish(ctx, t.id(), domain.NewCallProgressedEvent(t.id(), report.Progress))
	}
}

func (c *Coordinator) publish(ctx context.Context, callRequestID string, evt events.DomainEvent) {
	if c.publisher == nil {
		return
	}
	err := c.publisher.PublishDomainEvent(ctx, evt, events.WithKey(callRequestID))
	if err == nil {
		return
	}
	attrs := []any{
		"call_request_id", callRequestID,
		"event_type", string(evt.EventType()),
		"error", err,
	}
	if reliability.IsCriticalEvent(evt.EventType()) {
		c.logger.Error(ctx, "failed to publish call event", attrs...)
		return
	}
	c.logger.Debug(ctx, "dropped call event", attrs...)
}
