// Package memory provides an in-memory call report archive for tests and
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/dispatch/internal/domain/dispatch"
)

var _ dispatch.CallReportRepository = (*CallReportStore)(nil)

// CallReportStore keeps serialized reports keyed by call request id.
type CallReportStore struct {
	mu      sync.RWMutex
	reports map[string]dispatch.ArchivedCallReport
	now     func() time.Time
}

// NewCallReportStore creates an empty in-memory archive.
func NewCallReportStore() *CallReportStore {
	return &CallReportStore{
		reports: make(map[string]dispatch.ArchivedCallReport),
		now:     time.Now,
	}
}

// Archive stores the serialized report, replacing any earlier record.
func (s *CallReportStore) Archive(ctx context.Context, report dispatch.CallReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports[report.CallRequestID] = dispatch.ArchivedCallReport{
		CallRequestID: report.CallRequestID,
		GroupID:       report.CallRequestGroupID,
		CallableName:  report.CallableName,
		State:         report.State,
		Report:        report.Serialize(),
		ArchivedAt:    s.now().UTC(),
	}
	return nil
}

// GetCallReport returns the archived report for callRequestID.
func (s *CallReportStore) GetCallReport(ctx context.Context, callRequestID string) (dispatch.ArchivedCallReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	archived, ok := s.reports[callRequestID]
	if !ok {
		return dispatch.ArchivedCallReport{}, fmt.Errorf("%w: %s", dispatch.ErrCallNotFound, callRequestID)
	}
	return copyArchived(archived), nil
}

// ListCallReports returns reports in states, newest first. A non-positive
// limit returns every match.
func (s *CallReportStore) ListCallReports(
	ctx context.Context,
	states []dispatch.TaskState,
	limit int,
) ([]dispatch.ArchivedCallReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[dispatch.TaskState]struct{}, len(states))
	for _, st := range states {
		wanted[st] = struct{}{}
	}

	var out []dispatch.ArchivedCallReport
	for _, archived := range s.reports {
		if len(wanted) > 0 {
			if _, ok := wanted[archived.State]; !ok {
				continue
			}
		}
		out = append(out, copyArchived(archived))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ArchivedAt.Equal(out[j].ArchivedAt) {
			return out[i].ArchivedAt.After(out[j].ArchivedAt)
		}
		return out[i].CallRequestID < out[j].CallRequestID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeBefore drops reports archived before t.
func (s *CallReportStore) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, archived := range s.reports {
		if archived.ArchivedAt.Before(t) {
			delete(s.reports, id)
			purged++
		}
	}
	return purged, nil
}

func copyArchived(a dispatch.ArchivedCallReport) dispatch.ArchivedCallReport {
	report := make(map[string]any, len(a.Report))
	for k, v := range a.Report {
		report[k] = v
	}
	a.Report = report
	return a
}
