// Package dispatch schedules call requests against the resources they touch.
// The Coordinator admits, queues or rejects each call, runs admitted calls
// under a global concurrency weight and drives them through their lifecycle.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ahrav/dispatch/internal/app/interrupt"
	domain "github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/domain/events"
	"github.com/ahrav/dispatch/pkg/common"
	"github.com/ahrav/dispatch/pkg/common/logger"
)

// Config tunes a Coordinator.
type Config struct {
	// ConcurrencyThreshold is the total weight of calls that may run at once.
	// A call heavier than the threshold is treated as weighing exactly the threshold.
	ConcurrencyThreshold int64

	// CompletedCallLifetime is how long a completed call stays queryable.
	CompletedCallLifetime time.Duration

	// CullInterval is how often expired completed calls are dropped.
	CullInterval time.Duration

	// CancelTimeout bounds how long a cancel or timeout waits for the call to
	// confirm it stopped.
	CancelTimeout time.Duration

	// InterruptPollInterval is how often an unconfirmed interrupt is re-delivered.
	InterruptPollInterval time.Duration

	// ProgressEventsPerSecond and ProgressEventBurst limit the progress
	// events published across all calls.
	ProgressEventsPerSecond float64
	ProgressEventBurst      int
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		ConcurrencyThreshold:    9,
		CompletedCallLifetime:   5 * time.Minute,
		CullInterval:            30 * time.Second,
		CancelTimeout:           10 * time.Second,
		InterruptPollInterval:   interrupt.DefaultPollInterval,
		ProgressEventsPerSecond: 10,
		ProgressEventBurst:      10,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.ConcurrencyThreshold <= 0 {
		cfg.ConcurrencyThreshold = def.ConcurrencyThreshold
	}
	if cfg.CompletedCallLifetime <= 0 {
		cfg.CompletedCallLifetime = def.CompletedCallLifetime
	}
	if cfg.CullInterval <= 0 {
		cfg.CullInterval = def.CullInterval
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = def.CancelTimeout
	}
	if cfg.InterruptPollInterval <= 0 {
		cfg.InterruptPollInterval = def.InterruptPollInterval
	}
	if cfg.ProgressEventsPerSecond <= 0 {
		cfg.ProgressEventsPerSecond = def.ProgressEventsPerSecond
	}
	if cfg.ProgressEventBurst <= 0 {
		cfg.ProgressEventBurst = def.ProgressEventBurst
	}
	return cfg
}

type timeProvider interface {
	Now() time.Time
}

// realTimeProvider is a real implementation of the timeProvider interface.
type realTimeProvider struct{}

// Now returns the current time.
func (realTimeProvider) Now() time.Time { return time.Now() }

// Option configures optional Coordinator collaborators.
type Option func(*Coordinator)

// WithEventPublisher publishes call lifecycle events through p.
func WithEventPublisher(p events.DomainEventPublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithCallReportRepository archives completed calls that request it.
func WithCallReportRepository(r domain.CallReportRepository) Option {
	return func(c *Coordinator) { c.archive = r }
}

// WithInterruptRegistry shares an interrupt registry with other components.
func WithInterruptRegistry(r *interrupt.Registry) Option {
	return func(c *Coordinator) { c.registry = r }
}

func withTimeProvider(tp timeProvider) Option {
	return func(c *Coordinator) { c.timeProvider = tp }
}

// Coordinator admits call requests, serializing access to the resources they
// tag. All admission decisions and every resource reservation and release
// happen under one mutex; callables always run outside it.
type Coordinator struct {
	cfg Config

	mu      sync.Mutex
	seq     uint64
	calls   map[string]*task
	holders map[domain.ResourceKey]map[*task]domain.ResourceTag
	waiting []*task

	sem             *semaphore.Weighted
	registry        *interrupt.Registry
	progressLimiter *common.RateLimiter

	publisher events.DomainEventPublisher
	archive   domain.CallReportRepository

	timeProvider timeProvider
	metrics      CoordinatorMetrics
	logger       *logger.Logger
	tracer       trace.Tracer

	runners  sync.WaitGroup
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	cullDone chan struct{}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	cfg Config,
	metrics CoordinatorMetrics,
	tracer trace.Tracer,
	log *logger.Logger,
	opts ...Option,
) *Coordinator {
	cfg = cfg.withDefaults()
	log = log.With("component", "dispatch_coordinator")

	c := &Coordinator{
		cfg:             cfg,
		calls:           make(map[string]*task),
		holders:         make(map[domain.ResourceKey]map[*task]domain.ResourceTag),
		sem:             semaphore.NewWeighted(cfg.ConcurrencyThreshold),
		progressLimiter: common.NewRateLimiter(cfg.ProgressEventsPerSecond, cfg.ProgressEventBurst),
		timeProvider:    realTimeProvider{},
		metrics:         metrics,
		logger:          log,
		tracer:          tracer,
		stop:            make(chan struct{}),
		cullDone:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = interrupt.NewRegistry(cfg.InterruptPollInterval, log)
	}
	return c
}

// Start begins culling completed calls older than CompletedCallLifetime.
// It returns immediately.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.logger.Info(ctx, "starting dispatch coordinator",
		"concurrency_threshold", c.cfg.ConcurrencyThreshold,
		"completed_call_lifetime", c.cfg.CompletedCallLifetime.String(),
	)

	go func() {
		defer close(c.cullDone)
		ticker := time.NewTicker(c.cfg.CullInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.cullCompleted(ctx)
			}
		}
	}()
}

// Stop ends the culling loop and waits for running calls to return or for
// ctx to end.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started.Load() {
		select {
		case <-c.cullDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		c.runners.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cullCompleted drops completed calls older than the configured lifetime.
func (c *Coordinator) cullCompleted(ctx context.Context) int {
	cutoff := c.timeProvider.Now().Add(-c.cfg.CompletedCallLifetime)

	c.mu.Lock()
	culled := 0
	for id, t := range c.calls {
		if !t.completedAt.IsZero() && t.completedAt.Before(cutoff) {
			delete(c.calls, id)
			culled++
		}
	}
	c.mu.Unlock()

	if culled > 0 {
		c.logger.Debug(ctx, "culled completed calls", "count", culled)
	}
	return culled
}

// ExecuteCall submits req and blocks until it reaches a terminal state. An
// admitted call with no conflicts runs on the caller's goroutine; a
// postponed call runs once the calls ahead of it release. A rejected call
// returns its SKIPPED report along with a *RejectedError. A failing callable
// never makes ExecuteCall return an error; the failure is in the report.
//
// The call is detached from ctx once admitted: ending ctx never cancels it,
// use CancelCall for that. If ctx ends while the call is still incomplete,
// the current snapshot is returned with ctx.Err() and the call carries on.
func (c *Coordinator) ExecuteCall(ctx context.Context, req *domain.CallRequest) (domain.CallReport, error) {
	ctx, span := c.startSpan(ctx, "coordinator.execute_call", req)
	defer span.End()

	t, adm, err := c.submit(ctx, req, true)
	if err != nil {
		return domain.CallReport{}, spanError(span, err, "failed to submit call")
	}
	if adm == admitRejected {
		report := t.snapshot()
		return report, spanError(span, rejectedError(report), "call rejected")
	}
	if adm == admitReady {
		c.run(t.ctx, t)
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		select {
		case <-t.done:
		default:
			return t.snapshot(), spanError(span, ctx.Err(), "context done while waiting for call")
		}
	}

	report := t.snapshot()
	span.SetAttributes(attribute.String("state", report.State.String()))
	return report, nil
}

// ExecuteCallAsynchronously submits req and returns at once. The report's
// response is ACCEPTED or POSTPONED; a POSTPONED report lists the tags it is
// waiting on. A rejected call returns its report along with a *RejectedError.
func (c *Coordinator) ExecuteCallAsynchronously(ctx context.Context, req *domain.CallRequest) (domain.CallReport, error) {
	ctx, span := c.startSpan(ctx, "coordinator.execute_call_asynchronously", req)
	defer span.End()

	t, adm, err := c.submit(ctx, req, false)
	if err != nil {
		return domain.CallReport{}, spanError(span, err, "failed to submit call")
	}
	report := t.snapshot()
	if adm == admitRejected {
		return report, spanError(span, rejectedError(report), "call rejected")
	}
	span.SetAttributes(attribute.String("response", report.Response.String()))
	return report, nil
}

// ExecuteCallSynchronously submits req asynchronously and waits up to
// timeout for it to start. If it is still waiting after timeout a
// *StillQueuedError is returned and the call stays queued; otherwise it
// waits for the call to complete.
func (c *Coordinator) ExecuteCallSynchronously(
	ctx context.Context,
	req *domain.CallRequest,
	timeout time.Duration,
) (domain.CallReport, error) {
	ctx, span := c.startSpan(ctx, "coordinator.execute_call_synchronously", req)
	defer span.End()

	t, adm, err := c.submit(ctx, req, false)
	if err != nil {
		return domain.CallReport{}, spanError(span, err, "failed to submit call")
	}
	if adm == admitRejected {
		report := t.snapshot()
		return report, spanError(span, rejectedError(report), "call rejected")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.started:
	case <-timer.C:
		if report := t.snapshot(); report.State == domain.TaskStateWaiting {
			err := &domain.StillQueuedError{
				CallRequestID: report.CallRequestID,
				Timeout:       timeout,
				Reasons:       report.Reasons,
			}
			return report, spanError(span, err, "call still queued")
		}
	case <-ctx.Done():
		return t.snapshot(), spanError(span, ctx.Err(), "context done while waiting for call to start")
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		select {
		case <-t.done:
		default:
			return t.snapshot(), spanError(span, ctx.Err(), "context done while waiting for call")
		}
	}
	return t.snapshot(), nil
}

// ExecuteMultipleCalls submits a call group. If any member conflicts with a
// call already holding or waiting on a resource, every member is rejected
// and a *RejectedError is returned. Otherwise the members share a group id
// and are admitted in dependency order, so a member overlapping an earlier
// member queues behind it. All members run asynchronously.
func (c *Coordinator) ExecuteMultipleCalls(ctx context.Context, reqs []*domain.CallRequest) ([]domain.CallReport, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.execute_multiple_calls",
		trace.WithAttributes(attribute.Int("group_size", len(reqs))))
	defer span.End()

	if len(reqs) == 0 {
		return nil, nil
	}
	for _, req := range reqs {
		if req == nil {
			return nil, spanError(span, errors.New("call group contains a nil call request"), "invalid call group")
		}
	}
	sorted, err := sortByDependencies(reqs)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("ordering call group: %w", err), "invalid call group")
	}
	for _, req := range sorted {
		if req.Submitted() {
			err := fmt.Errorf("%w: %s", domain.ErrAlreadySubmitted, req.ID())
			return nil, spanError(span, err, "failed to submit call group")
		}
	}
	for i, req := range sorted {
		if err := req.MarkSubmitted(); err != nil {
			for _, prev := range sorted[:i] {
				prev.UnmarkSubmitted()
			}
			return nil, spanError(span, err, "failed to submit call group")
		}
	}

	groupID := uuid.New().String()
	span.SetAttributes(attribute.String("call_request_group_id", groupID))

	c.mu.Lock()
	conflicted := false
	reasons := make([][]domain.ResourceTag, len(sorted))
	for i, req := range sorted {
		var response domain.Response
		response, reasons[i] = c.assessLocked(req, groupID)
		if response != domain.ResponseAccepted {
			conflicted = true
		}
	}

	tasks := make([]*task, len(sorted))
	admissions := make([]admission, len(sorted))
	for i, req := range sorted {
		if conflicted {
			t := c.registerLocked(ctx, req, groupID)
			t.mu.Lock()
			t.report.Response = domain.ResponseRejected
			t.report.Reasons = reasons[i]
			t.skipLocked()
			t.exited = true
			t.mu.Unlock()
			tasks[i], admissions[i] = t, admitRejected
			continue
		}
		tasks[i], admissions[i] = c.admitLocked(ctx, req, groupID)
	}
	c.mu.Unlock()

	for i, t := range tasks {
		c.afterAdmit(ctx, t, admissions[i], false)
	}

	reports := make([]domain.CallReport, len(tasks))
	for i, t := range tasks {
		reports[i] = t.snapshot()
	}

	if conflicted {
		rejected := &domain.RejectedError{}
		seen := make(map[domain.ResourceTag]struct{})
		for i, report := range reports {
			rejected.CallRequestIDs = append(rejected.CallRequestIDs, report.CallRequestID)
			for _, tag := range reasons[i] {
				if _, ok := seen[tag]; !ok {
					seen[tag] = struct{}{}
					rejected.Reasons = append(rejected.Reasons, tag)
				}
			}
		}
		return reports, spanError(span, rejected, "call group rejected")
	}
	return reports, nil
}

// submit admits a single call. A ready call is started on a new goroutine
// unless inline is set, in which case the caller must run it.
func (c *Coordinator) submit(ctx context.Context, req *domain.CallRequest, inline bool) (*task, admission, error) {
	if req == nil {
		return nil, 0, errors.New("call request is nil")
	}
	if err := req.MarkSubmitted(); err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	t, adm := c.admitLocked(ctx, req, "")
	c.mu.Unlock()

	c.afterAdmit(ctx, t, adm, inline)
	return t, adm, nil
}

func (c *Coordinator) afterAdmit(ctx context.Context, t *task, adm admission, inline bool) {
	report := t.snapshot()
	c.metrics.IncCallsSubmitted(ctx, report.Response)
	c.logger.Info(ctx, "call submitted",
		"call_request_id", report.CallRequestID,
		"callable_name", report.CallableName,
		"response", report.Response.String(),
		"reasons", len(report.Reasons),
	)
	c.publish(ctx, t.id(), domain.NewCallEnqueuedEvent(report))

	switch adm {
	case admitQueued:
		c.metrics.AddQueuedCalls(ctx, 1)
	case admitRejected, admitSkipped:
		c.complete(ctx, t, report, completeHooks...)
	case admitReady:
		if !inline {
			c.startTasks([]*task{t})
		}
	}
}

// CancelCall cancels a call. A waiting call is removed from the queue and
// ends CANCELED at once. For a running call the CANCEL control hook runs
// first; if it fails a *CancellationError is returned and the call keeps
// running. Otherwise the call is interrupted and ends CANCELED. If it does
// not confirm within CancelTimeout it still ends CANCELED, keeps its
// resources until the callable actually returns, and a *CancellationError
// matching ErrCancellationUnconfirmed is returned.
func (c *Coordinator) CancelCall(ctx context.Context, callRequestID string) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.cancel_call",
		trace.WithAttributes(attribute.String("call_request_id", callRequestID)))
	defer span.End()

	t, err := c.lookup(callRequestID)
	if err != nil {
		return spanError(span, err, "call not found")
	}
	if err := c.cancel(ctx, t); err != nil {
		return spanError(span, err, "failed to cancel call")
	}
	return nil
}

// CancelMultipleCalls cancels every incomplete call of a group.
func (c *Coordinator) CancelMultipleCalls(ctx context.Context, groupID string) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.cancel_multiple_calls",
		trace.WithAttributes(attribute.String("call_request_group_id", groupID)))
	defer span.End()

	if groupID == "" {
		return spanError(span, errors.New("call request group id is empty"), "invalid call group")
	}

	c.mu.Lock()
	var members []*task
	for _, t := range c.calls {
		if t.groupID == groupID {
			members = append(members, t)
		}
	}
	c.mu.Unlock()

	if len(members) == 0 {
		return spanError(span, fmt.Errorf("%w: group %s", domain.ErrCallNotFound, groupID), "call group not found")
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	var errs []error
	for _, t := range members {
		if err := c.cancel(ctx, t); err != nil && !errors.Is(err, domain.ErrCallComplete) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return spanError(span, err, "failed to cancel call group")
	}
	return nil
}

func (c *Coordinator) cancel(ctx context.Context, t *task) error {
	c.mu.Lock()
	t.mu.Lock()
	state := t.report.State
	switch {
	case state == domain.TaskStateWaiting:
		t.transitionLocked(domain.TaskStateCanceled)
		t.waitCancel()
		if t.queued {
			c.removeWaitingLocked(t)
			t.exited = true
		}
		report := t.report.Clone()
		t.mu.Unlock()
		start, skipped := c.promoteLocked()
		c.mu.Unlock()

		c.logger.Info(ctx, "cancelled waiting call", "call_request_id", t.id())
		c.startTasks(start)
		c.finishSkipped(skipped)
		c.complete(ctx, t, report, completeHooks...)
		return nil

	case state.IsTerminal():
		t.mu.Unlock()
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", domain.ErrCallComplete, t.id(), state)

	case state == domain.TaskStateSuspended:
		// A cancellation is already in progress.
		t.mu.Unlock()
		c.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	c.mu.Unlock()

	return c.cancelRunning(ctx, t)
}

func (c *Coordinator) cancelRunning(ctx context.Context, t *task) error {
	if hook := t.req.ControlHook(domain.ControlHookCancel); hook != nil {
		if err := c.callControlHook(ctx, hook, t, t.snapshot()); err != nil {
			c.logger.Warn(ctx, "cancel hook refused cancellation",
				"call_request_id", t.id(),
				"error", err,
			)
			return &domain.CancellationError{CallRequestID: t.id(), Err: err}
		}
	}

	t.mu.Lock()
	if state := t.report.State; state != domain.TaskStateRunning {
		t.mu.Unlock()
		if state.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", domain.ErrCallComplete, t.id(), state)
		}
		return nil
	}
	t.transitionLocked(domain.TaskStateSuspended)
	worker := t.worker
	t.mu.Unlock()

	c.logger.Info(ctx, "cancelling running call", "call_request_id", t.id())

	rctx, cancel := context.WithTimeout(ctx, c.cfg.CancelTimeout)
	defer cancel()
	raiseErr := c.registry.Cancel(rctx, worker)
	c.metrics.IncCancellations(ctx, raiseErr == nil)

	t.mu.Lock()
	if t.report.State == domain.TaskStateSuspended {
		t.transitionLocked(domain.TaskStateCanceled)
		report := t.report.Clone()
		t.mu.Unlock()
		c.complete(ctx, t, report, completeHooks...)
	} else {
		t.mu.Unlock()
	}

	if raiseErr != nil {
		c.logger.Warn(ctx, "cancelled call did not confirm; its resources stay reserved until it returns",
			"call_request_id", t.id(),
			"cancel_timeout", c.cfg.CancelTimeout.String(),
		)
		return &domain.CancellationError{
			CallRequestID: t.id(),
			Err:           fmt.Errorf("%w: %w", domain.ErrCancellationUnconfirmed, raiseErr),
		}
	}
	return nil
}

// CompleteCallSuccess finishes an asynchronous call whose remote work
// succeeded. Completing a call that has not started running panics.
func (c *Coordinator) CompleteCallSuccess(ctx context.Context, callRequestID string, result any) error {
	return c.completeExternally(ctx, callRequestID, func(r *domain.CallReport) domain.TaskState {
		r.Result = result
		return domain.TaskStateFinished
	})
}

// CompleteCallFailure fails an asynchronous call whose remote work failed.
// Completing a call that has not started running panics.
func (c *Coordinator) CompleteCallFailure(ctx context.Context, callRequestID string, failure error, traceback string) error {
	if failure == nil {
		failure = errors.New("asynchronous call failed")
	}
	return c.completeExternally(ctx, callRequestID, func(r *domain.CallReport) domain.TaskState {
		r.Exception = &domain.ExecutionError{CallRequestID: callRequestID, Err: failure}
		r.Traceback = traceback
		return domain.TaskStateError
	})
}

func (c *Coordinator) completeExternally(
	ctx context.Context,
	callRequestID string,
	apply func(*domain.CallReport) domain.TaskState,
) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.complete_call",
		trace.WithAttributes(attribute.String("call_request_id", callRequestID)))
	defer span.End()

	t, err := c.lookup(callRequestID)
	if err != nil {
		return spanError(span, err, "call not found")
	}
	if !t.req.IsAsynchronous() {
		return spanError(span, fmt.Errorf("%w: %s", domain.ErrNotAsynchronous, callRequestID), "call not asynchronous")
	}

	t.mu.Lock()
	switch state := t.report.State; {
	case state == domain.TaskStateWaiting:
		t.mu.Unlock()
		panic(fmt.Sprintf("call request %s completed before it started running", callRequestID))
	case state == domain.TaskStateSuspended:
		// Being cancelled; the cancellation decides the final state.
		t.mu.Unlock()
		return nil
	case state.IsTerminal():
		t.mu.Unlock()
		return spanError(span, fmt.Errorf("%w: %s is %s", domain.ErrCallComplete, callRequestID, state), "call already complete")
	}

	target := apply(&t.report)
	t.transitionLocked(target)
	report := t.report.Clone()
	t.mu.Unlock()

	hooks := successHooks
	if target == domain.TaskStateError {
		hooks = failureHooks
	}
	c.complete(ctx, t, report, hooks...)
	return nil
}

// ReportCallProgress replaces the progress of a running call.
func (c *Coordinator) ReportCallProgress(ctx context.Context, callRequestID string, progress map[string]any) error {
	t, err := c.lookup(callRequestID)
	if err != nil {
		return err
	}
	if state := t.state(); state != domain.TaskStateRunning {
		return fmt.Errorf("call request %s is %s, not running", callRequestID, state)
	}
	c.reportProgress(ctx, t, progress)
	return nil
}

// FindCallReports returns snapshots of the known calls matching filter in
// submission order.
func (c *Coordinator) FindCallReports(ctx context.Context, filter domain.CallReportFilter) ([]domain.CallReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	tasks := make([]*task, 0, len(c.calls))
	for _, t := range c.calls {
		tasks = append(tasks, t)
	}
	c.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].seq < tasks[j].seq })

	var reports []domain.CallReport
	for _, t := range tasks {
		if report := t.snapshot(); filter.Matches(t.req, report) {
			reports = append(reports, report)
		}
	}
	return reports, nil
}

// PurgeCallReport forgets a completed call.
func (c *Coordinator) PurgeCallReport(ctx context.Context, callRequestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.calls[callRequestID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCallNotFound, callRequestID)
	}
	if state := t.state(); !state.IsTerminal() {
		return fmt.Errorf("call request %s is %s: only completed calls can be purged", callRequestID, state)
	}
	delete(c.calls, callRequestID)
	c.logger.Debug(ctx, "purged call report", "call_request_id", callRequestID)
	return nil
}

func (c *Coordinator) lookup(callRequestID string) (*task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.calls[callRequestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCallNotFound, callRequestID)
	}
	return t, nil
}

func (c *Coordinator) startSpan(ctx context.Context, name string, req *domain.CallRequest) (context.Context, trace.Span) {
	var attrs []attribute.KeyValue
	if req != nil {
		attrs = append(attrs,
			attribute.String("call_request_id", req.ID()),
			attribute.String("callable_name", req.CallableName()),
			attribute.Int("resource_count", len(req.Resources())),
		)
	}
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func spanError(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}

func rejectedError(report domain.CallReport) *domain.RejectedError {
	return &domain.RejectedError{
		CallRequestIDs: []string{report.CallRequestID},
		Reasons:        report.Reasons,
	}
}
