package dispatch

import (
	"time"

	"github.com/ahrav/dispatch/internal/domain/events"
)

// Event types emitted over the life of a call:
const (
	EventTypeCallEnqueued   events.EventType = "CallEnqueued"
	EventTypeCallStarted    events.EventType = "CallStarted"
	EventTypeCallProgressed events.EventType = "CallProgressed"
	EventTypeCallCompleted  events.EventType = "CallCompleted"
)

// CallEnqueuedEvent records the admission decision for a call.
type CallEnqueuedEvent struct {
	occurredAt time.Time
	Report     CallReport
}

func NewCallEnqueuedEvent(report CallReport) CallEnqueuedEvent {
	return CallEnqueuedEvent{occurredAt: time.Now(), Report: report}
}

func (e CallEnqueuedEvent) EventType() events.EventType { return EventTypeCallEnqueued }
func (e CallEnqueuedEvent) OccurredAt() time.Time       { return e.occurredAt }

// CallStartedEvent signals a call entered RUNNING.
type CallStartedEvent struct {
	occurredAt time.Time
	Report     CallReport
}

func NewCallStartedEvent(report CallReport) CallStartedEvent {
	return CallStartedEvent{occurredAt: time.Now(), Report: report}
}

func (e CallStartedEvent) EventType() events.EventType { return EventTypeCallStarted }
func (e CallStartedEvent) OccurredAt() time.Time       { return e.occurredAt }

// CallProgressedEvent carries a progress update reported by a running call.
type CallProgressedEvent struct {
	occurredAt    time.Time
	CallRequestID string
	Progress      map[string]any
}

func NewCallProgressedEvent(callRequestID string, progress map[string]any) CallProgressedEvent {
	return CallProgressedEvent{
		occurredAt:    time.Now(),
		CallRequestID: callRequestID,
		Progress:      cloneMap(progress),
	}
}

func (e CallProgressedEvent) EventType() events.EventType { return EventTypeCallProgressed }
func (e CallProgressedEvent) OccurredAt() time.Time       { return e.occurredAt }

// CallCompletedEvent signals a call reached a terminal state.
type CallCompletedEvent struct {
	occurredAt time.Time
	Report     CallReport
}

func NewCallCompletedEvent(report CallReport) CallCompletedEvent {
	return CallCompletedEvent{occurredAt: time.Now(), Report: report}
}

func (e CallCompletedEvent) EventType() events.EventType { return EventTypeCallCompleted }
func (e CallCompletedEvent) OccurredAt() time.Time       { return e.occurredAt }
