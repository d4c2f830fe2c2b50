package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallReport_Serialize(t *testing.T) {
	t.Parallel()

	req, err := NewCallRequest(noop, WithCallableName("publish"), WithTags("repo:zoo"))
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	finish := start.Add(2 * time.Second)

	report := NewCallReport(req, "task-1", "")
	report.State = TaskStateError
	report.Response = ResponsePostponed
	report.Reasons = []ResourceTag{NewResourceTag(ResourceTypeRepository, "zoo", OperationUpdate)}
	report.Exception = errors.New("boom")
	report.Traceback = "goroutine 1"
	report.StartTime = &start
	report.FinishTime = &finish

	got := report.Serialize()

	assert.Equal(t, map[string]any{
		"schema_version":        CallReportSchemaVersion,
		"call_request_id":       req.ID(),
		"call_request_group_id": nil,
		"task_id":               "task-1",
		"callable_name":         "publish",
		"state":                 "error",
		"response":              "postponed",
		"reasons": []map[string]any{
			{"resource_type": "repository", "resource_id": "zoo", "operation": "update"},
		},
		"progress":    map[string]any{},
		"result":      nil,
		"exception":   "boom",
		"traceback":   "goroutine 1",
		"start_time":  "2024-03-01T12:00:00Z",
		"finish_time": "2024-03-01T12:00:02Z",
		"tags":        []string{"repo:zoo"},
	}, got)
	assert.Equal(t, 2*time.Second, report.Duration())
}

func TestCallReport_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	req, err := NewCallRequest(noop)
	require.NoError(t, err)

	report := NewCallReport(req, "task-1", "group-1")
	report.Progress["step"] = 1
	now := time.Now()
	report.StartTime = &now

	clone := report.Clone()
	clone.Progress["step"] = 2
	*clone.StartTime = now.Add(time.Hour)

	assert.Equal(t, 1, report.Progress["step"])
	assert.Equal(t, now, *report.StartTime)
}

func TestCallReportFilter_Matches(t *testing.T) {
	t.Parallel()

	req, err := NewCallRequest(noop,
		WithCallableName("sync"),
		WithTags("repo:zoo", "action:sync"),
		UpdatesResource(ResourceTypeRepository, "zoo"),
	)
	require.NoError(t, err)
	report := NewCallReport(req, "task-1", "group-1")

	zoo := ResourceKey{Type: ResourceTypeRepository, ID: "zoo"}
	other := ResourceKey{Type: ResourceTypeRepository, ID: "pets"}

	tests := []struct {
		name   string
		filter CallReportFilter
		want   bool
	}{
		{name: "empty", filter: CallReportFilter{}, want: true},
		{name: "id", filter: CallReportFilter{CallRequestID: req.ID()}, want: true},
		{name: "wrong id", filter: CallReportFilter{CallRequestID: "nope"}, want: false},
		{name: "group", filter: CallReportFilter{GroupID: "group-1"}, want: true},
		{name: "state", filter: CallReportFilter{States: []TaskState{TaskStateWaiting}}, want: true},
		{name: "wrong state", filter: CallReportFilter{States: CompleteStates}, want: false},
		{name: "callable", filter: CallReportFilter{CallableName: "sync"}, want: true},
		{name: "tags subset", filter: CallReportFilter{Tags: []string{"action:sync"}}, want: true},
		{name: "missing tag", filter: CallReportFilter{Tags: []string{"action:sync", "x"}}, want: false},
		{name: "resource", filter: CallReportFilter{Resource: &zoo}, want: true},
		{name: "other resource", filter: CallReportFilter{Resource: &other}, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.filter.Matches(req, report))
		})
	}
}
