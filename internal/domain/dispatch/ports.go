package dispatch

import (
	"context"
	"time"
)

// CallReportRepository archives the reports of completed calls. Only the
// serialized report is stored; the callable itself is never persisted.
type CallReportRepository interface {
	// Archive stores a terminal call report. Archiving the same call twice
	// overwrites the earlier record.
	Archive(ctx context.Context, report CallReport) error

	// GetCallReport returns the archived report for a call request id, or
	// ErrCallNotFound.
	GetCallReport(ctx context.Context, callRequestID string) (ArchivedCallReport, error)

	// ListCallReports returns archived reports in the given states, newest
	// first. An empty states slice matches every state.
	ListCallReports(ctx context.Context, states []TaskState, limit int) ([]ArchivedCallReport, error)

	// PurgeBefore deletes reports archived before t and returns how many
	// were removed.
	PurgeBefore(ctx context.Context, t time.Time) (int64, error)
}

// ArchivedCallReport is a call report as read back from an archive.
type ArchivedCallReport struct {
	CallRequestID string
	GroupID       string
	CallableName  string
	State         TaskState
	Report        map[string]any
	ArchivedAt    time.Time
}
