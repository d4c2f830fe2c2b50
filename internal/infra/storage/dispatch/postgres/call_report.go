package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/infra/storage"
)

var _ dispatch.CallReportRepository = (*callReportStore)(nil)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// defaultListLimit bounds ListCallReports when the caller passes no limit.
const defaultListLimit = 100

const (
	archiveCallReportQuery = `
INSERT INTO call_reports (call_request_id, group_id, callable_name, state, report, archived_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (call_request_id) DO UPDATE
SET group_id = EXCLUDED.group_id,
    callable_name = EXCLUDED.callable_name,
    state = EXCLUDED.state,
    report = EXCLUDED.report,
    archived_at = EXCLUDED.archived_at`

	getCallReportQuery = `
SELECT call_request_id, group_id, callable_name, state, report, archived_at
FROM call_reports
WHERE call_request_id = $1`

	listCallReportsQuery = `
SELECT call_request_id, group_id, callable_name, state, report, archived_at
FROM call_reports
WHERE cardinality($1::text[]) = 0 OR state = ANY($1::text[])
ORDER BY archived_at DESC, call_request_id
LIMIT $2`

	purgeCallReportsQuery = `DELETE FROM call_reports WHERE archived_at < $1`
)

// callReportStore implements dispatch.CallReportRepository using PostgreSQL.
// Reports are stored in their serialized form as JSONB.
type callReportStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewCallReportStore creates a PostgreSQL-backed call report archive with tracing.
func NewCallReportStore(pool *pgxpool.Pool, tracer trace.Tracer) *callReportStore {
	return &callReportStore{db: pool, tracer: tracer}
}

// Archive upserts the serialized report of a completed call.
func (s *callReportStore) Archive(ctx context.Context, report dispatch.CallReport) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("call_request_id", report.CallRequestID),
		attribute.String("state", report.State.String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.archive_call_report", dbAttrs, func(ctx context.Context) error {
		payload, err := json.Marshal(report.Serialize())
		if err != nil {
			return fmt.Errorf("failed to marshal call report: %w", err)
		}

		_, err = s.db.Exec(ctx, archiveCallReportQuery,
			report.CallRequestID,
			pgtype.Text{String: report.CallRequestGroupID, Valid: report.CallRequestGroupID != ""},
			report.CallableName,
			report.State.String(),
			payload,
		)
		if err != nil {
			return fmt.Errorf("failed to archive call report: %w", err)
		}
		return nil
	})
}

// GetCallReport loads one archived report.
func (s *callReportStore) GetCallReport(ctx context.Context, callRequestID string) (dispatch.ArchivedCallReport, error) {
	var archived dispatch.ArchivedCallReport
	dbAttrs := append(defaultDBAttributes, attribute.String("call_request_id", callRequestID))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_call_report", dbAttrs, func(ctx context.Context) error {
		var err error
		archived, err = scanCallReport(s.db.QueryRow(ctx, getCallReportQuery, callRequestID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", dispatch.ErrCallNotFound, callRequestID)
		}
		if err != nil {
			return fmt.Errorf("failed to get call report: %w", err)
		}
		return nil
	})
	return archived, err
}

// ListCallReports returns archived reports in states, newest first.
func (s *callReportStore) ListCallReports(
	ctx context.Context,
	states []dispatch.TaskState,
	limit int,
) ([]dispatch.ArchivedCallReport, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	stateNames := make([]string, 0, len(states))
	for _, st := range states {
		stateNames = append(stateNames, st.String())
	}

	var reports []dispatch.ArchivedCallReport
	dbAttrs := append(
		defaultDBAttributes,
		attribute.StringSlice("states", stateNames),
		attribute.Int("limit", limit),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_call_reports", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, listCallReportsQuery, stateNames, limit)
		if err != nil {
			return fmt.Errorf("failed to list call reports: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			archived, err := scanCallReport(rows)
			if err != nil {
				return fmt.Errorf("failed to scan call report: %w", err)
			}
			reports = append(reports, archived)
		}
		return rows.Err()
	})
	return reports, err
}

// PurgeBefore deletes reports archived before t.
func (s *callReportStore) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	var purged int64
	dbAttrs := append(defaultDBAttributes, attribute.String("before", t.UTC().Format(time.RFC3339)))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.purge_call_reports", dbAttrs, func(ctx context.Context) error {
		tag, err := s.db.Exec(ctx, purgeCallReportsQuery, pgtype.Timestamptz{Time: t, Valid: true})
		if err != nil {
			return fmt.Errorf("failed to purge call reports: %w", err)
		}
		purged = tag.RowsAffected()
		return nil
	})
	return purged, err
}

func scanCallReport(row pgx.Row) (dispatch.ArchivedCallReport, error) {
	var (
		archived dispatch.ArchivedCallReport
		groupID  pgtype.Text
		state    string
		payload  []byte
		at       pgtype.Timestamptz
	)
	if err := row.Scan(&archived.CallRequestID, &groupID, &archived.CallableName, &state, &payload, &at); err != nil {
		return dispatch.ArchivedCallReport{}, err
	}

	parsed, err := dispatch.ParseTaskState(state)
	if err != nil {
		return dispatch.ArchivedCallReport{}, err
	}
	if err := json.Unmarshal(payload, &archived.Report); err != nil {
		return dispatch.ArchivedCallReport{}, fmt.Errorf("failed to unmarshal call report: %w", err)
	}

	archived.GroupID = groupID.String
	archived.State = parsed
	archived.ArchivedAt = at.Time
	return archived, nil
}
