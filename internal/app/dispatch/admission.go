package dispatch

import (
	"context"
	"fmt"
	"sort"

	domain "github.com/ahrav/dispatch/internal/domain/dispatch"
)

// admission is the outcome of submitting one call.
type admission int

const (
	// admitRejected: refused outright, already SKIPPED.
	admitRejected admission = iota
	// admitQueued: waiting on conflicting calls or on dependencies.
	admitQueued
	// admitReady: holds its resources and needs a runner.
	admitReady
	// admitSkipped: a dependency already ended in a state it does not accept.
	admitSkipped
)

// admitLocked registers req and decides whether it runs, waits or is
// refused. Conflict detection and resource reservation happen together here,
// so c.mu must be held.
func (c *Coordinator) admitLocked(ctx context.Context, req *domain.CallRequest, groupID string) (*task, admission) {
	t := c.registerLocked(ctx, req, groupID)

	response, reasons := c.assessLocked(req, groupID)
	t.mu.Lock()
	t.report.Response = response
	t.report.Reasons = reasons
	if response == domain.ResponseRejected {
		t.skipLocked()
		t.exited = true
		t.mu.Unlock()
		return t, admitRejected
	}
	t.mu.Unlock()

	if c.resolveDepsLocked(t) {
		t.mu.Lock()
		t.skipLocked()
		t.exited = true
		t.mu.Unlock()
		return t, admitSkipped
	}

	if response == domain.ResponsePostponed || len(t.pendingDeps) > 0 {
		t.queued = true
		c.waiting = append(c.waiting, t)
		return t, admitQueued
	}

	c.grantLocked(t)
	return t, admitReady
}

func (c *Coordinator) registerLocked(ctx context.Context, req *domain.CallRequest, groupID string) *task {
	c.seq++
	t := newTask(ctx, req, groupID, c.seq)
	c.calls[req.ID()] = t
	return t
}

// assessLocked computes the response to req against every call holding or
// queued on the resources it names, and the tags responsible for it. A
// conflict with an earlier member of the same call group never rejects; the
// member queues behind it instead.
func (c *Coordinator) assessLocked(req *domain.CallRequest, groupID string) (domain.Response, []domain.ResourceTag) {
	response := domain.ResponseAccepted
	var reasons []domain.ResourceTag
	seen := make(map[domain.ResourceTag]struct{})

	note := func(proposed, other domain.ResourceTag, owner *task) {
		r := proposed.ResponseTo(other)
		if r == domain.ResponseAccepted {
			return
		}
		if r == domain.ResponseRejected && groupID != "" && owner.groupID == groupID {
			r = domain.ResponsePostponed
		}
		response = response.Max(r)
		if _, ok := seen[other]; !ok {
			seen[other] = struct{}{}
			reasons = append(reasons, other)
		}
	}

	for _, tag := range req.Resources() {
		for holder, held := range c.holders[tag.Key()] {
			note(tag, held, holder)
		}
		for _, w := range c.waiting {
			for _, queued := range w.req.Resources() {
				if queued.Key() == tag.Key() {
					note(tag, queued, w)
				}
			}
		}
	}

	sort.Slice(reasons, func(i, j int) bool { return reasons[i].String() < reasons[j].String() })
	return response, reasons
}

// blockedLocked reports whether t conflicts with a resource holder or with
// one of the given earlier waiters.
func (c *Coordinator) blockedLocked(t *task, earlier []*task) bool {
	for _, tag := range t.req.Resources() {
		for _, held := range c.holders[tag.Key()] {
			if tag.ConflictsWith(held) {
				return true
			}
		}
		for _, w := range earlier {
			for _, queued := range w.req.Resources() {
				if tag.ConflictsWith(queued) {
					return true
				}
			}
		}
	}
	return false
}

// resolveDepsLocked drops the dependencies of t that completed acceptably and
// reports whether one completed in a state t does not accept. Unknown
// dependencies are treated as satisfied.
func (c *Coordinator) resolveDepsLocked(t *task) (skip bool) {
	for id := range t.pendingDeps {
		dep, ok := c.calls[id]
		if !ok {
			delete(t.pendingDeps, id)
			continue
		}
		state := dep.state()
		if !state.IsTerminal() {
			continue
		}
		if !t.req.SatisfiedBy(id, state) {
			c.logger.Info(t.ctx, "skipping call: dependency ended in an unaccepted state",
				"call_request_id", t.id(),
				"dependency_id", id,
				"dependency_state", state.String(),
			)
			return true
		}
		delete(t.pendingDeps, id)
	}
	return false
}

// grantLocked reserves every resource of t.
func (c *Coordinator) grantLocked(t *task) {
	t.granted = true
	t.weight = int64(t.req.Weight())
	if t.weight > c.cfg.ConcurrencyThreshold {
		t.weight = c.cfg.ConcurrencyThreshold
	}
	for _, tag := range t.req.Resources() {
		holders, ok := c.holders[tag.Key()]
		if !ok {
			holders = make(map[*task]domain.ResourceTag)
			c.holders[tag.Key()] = holders
		}
		holders[t] = tag
	}
}

// releaseLocked returns the resources of t. Releasing a resource t does not
// hold is a bookkeeping defect and panics.
func (c *Coordinator) releaseLocked(t *task) {
	if !t.granted {
		panic(fmt.Sprintf("call request %s: release of resources that were never granted", t.id()))
	}
	for _, tag := range t.req.Resources() {
		holders := c.holders[tag.Key()]
		if _, ok := holders[t]; !ok {
			panic(fmt.Sprintf("call request %s: double release of %s", t.id(), tag))
		}
		delete(holders, t)
		if len(holders) == 0 {
			delete(c.holders, tag.Key())
		}
	}
	t.granted = false
}

// promoteLocked walks the waiting list in submission order. A waiter is
// granted when its dependencies are satisfied and it conflicts with neither
// a holder nor a waiter ahead of it; a waiter whose dependency failed is
// skipped. The granted and skipped tasks are returned for the caller to
// start and finish once c.mu is released.
func (c *Coordinator) promoteLocked() (start, skipped []*task) {
	if len(c.waiting) == 0 {
		return nil, nil
	}

	remaining := make([]*task, 0, len(c.waiting))
	for _, w := range c.waiting {
		if c.resolveDepsLocked(w) {
			w.mu.Lock()
			w.skipLocked()
			w.exited = true
			w.mu.Unlock()
			w.queued = false
			c.metrics.AddQueuedCalls(w.ctx, -1)
			skipped = append(skipped, w)
			continue
		}
		if len(w.pendingDeps) > 0 || c.blockedLocked(w, remaining) {
			remaining = append(remaining, w)
			continue
		}
		w.queued = false
		c.metrics.AddQueuedCalls(w.ctx, -1)
		c.grantLocked(w)
		start = append(start, w)
	}
	c.waiting = remaining
	return start, skipped
}

func (c *Coordinator) removeWaitingLocked(t *task) {
	for i, w := range c.waiting {
		if w == t {
			c.waiting = append(c.waiting[:i], c.waiting[i+1:]...)
			t.queued = false
			c.metrics.AddQueuedCalls(t.ctx, -1)
			return
		}
	}
}
