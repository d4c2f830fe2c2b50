package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/pkg/common/logger"
)

// retentionScheduleID names the schedule resource every purge run updates,
// so at most one purge runs at a time and later ones queue behind it.
const retentionScheduleID = "call-report-retention"

// ArchiveRetention periodically drops archived call reports older than the
// retention window. Each purge is itself a call submitted to the coordinator.
type ArchiveRetention struct {
	coord     *Coordinator
	repo      domain.CallReportRepository
	retention time.Duration
	interval  time.Duration

	timeProvider timeProvider
	logger       *logger.Logger
}

// NewArchiveRetention creates an ArchiveRetention. A non-positive interval
// falls back to the retention window.
func NewArchiveRetention(
	coord *Coordinator,
	repo domain.CallReportRepository,
	retention, interval time.Duration,
	log *logger.Logger,
) (*ArchiveRetention, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("archive retention must be positive, got %s", retention)
	}
	if interval <= 0 {
		interval = retention
	}
	return &ArchiveRetention{
		coord:        coord,
		repo:         repo,
		retention:    retention,
		interval:     interval,
		timeProvider: realTimeProvider{},
		logger:       log.With("component", "archive_retention"),
	}, nil
}

// Run submits a purge immediately and then every interval until ctx ends.
func (r *ArchiveRetention) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.SubmitPurge(ctx); err != nil && !errors.Is(err, domain.ErrRejected) {
			r.logger.Error(ctx, "failed to submit archive purge", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SubmitPurge queues one purge of reports archived before now minus the
// retention window. The completed call's result is the number removed.
func (r *ArchiveRetention) SubmitPurge(ctx context.Context) (domain.CallReport, error) {
	cutoff := r.timeProvider.Now().Add(-r.retention)

	req, err := domain.NewCallRequest(
		func(ctx context.Context, _ domain.Conduit) (any, error) {
			return r.repo.PurgeBefore(ctx, cutoff)
		},
		domain.WithCallableName("purge_archived_call_reports"),
		domain.UpdatesResource(domain.ResourceTypeSchedule, retentionScheduleID),
		domain.WithKwargs(map[string]any{"cutoff": cutoff}),
		domain.WithTags("archive", "retention"),
		domain.WithWeight(0),
	)
	if err != nil {
		return domain.CallReport{}, err
	}

	report, err := r.coord.ExecuteCallAsynchronously(ctx, req)
	if err != nil {
		return report, err
	}
	r.logger.Debug(ctx, "archive purge submitted",
		"call_request_id", report.CallRequestID,
		"response", report.Response.String(),
		"cutoff", cutoff,
	)
	return report, nil
}
