// Package reliability classifies call events by how much their loss costs.
// Critical events are lifecycle transitions that no later event restates.
package reliability

import (
	"github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/domain/events"
)

// IsCriticalEvent reports whether losing an event of eventType leaves
// consumers with a wrong picture of a call. Progress events are superseded
// by the next progress or completion event and are not critical.
func IsCriticalEvent(eventType events.EventType) bool {
	switch eventType {
	case dispatch.EventTypeCallEnqueued,
		dispatch.EventTypeCallStarted,
		dispatch.EventTypeCallCompleted:
		return true

	case dispatch.EventTypeCallProgressed:
		return false

	default:
		return false
	}
}
