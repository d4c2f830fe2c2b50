package dispatch

import (
	"time"
)

// CallReportSchemaVersion is bumped whenever the key set produced by
// CallReport.Serialize changes.
const CallReportSchemaVersion = 1

// CallReport is the execution record of one CallRequest. The task executing
// the call owns the live copy; everything handed out of the coordinator is a
// snapshot produced by Clone.
type CallReport struct {
	CallRequestID      string
	CallRequestGroupID string
	TaskID             string
	CallableName       string

	State    TaskState
	Response Response
	Reasons  []ResourceTag

	Progress map[string]any
	Result   any

	Exception error
	Traceback string

	StartTime  *time.Time
	FinishTime *time.Time

	Tags []string
}

// NewCallReport creates the initial WAITING report for a request.
func NewCallReport(req *CallRequest, taskID, groupID string) CallReport {
	return CallReport{
		CallRequestID:      req.ID(),
		CallRequestGroupID: groupID,
		TaskID:             taskID,
		CallableName:       req.CallableName(),
		State:              TaskStateWaiting,
		Progress:           map[string]any{},
		Tags:               req.Tags(),
	}
}

// Clone returns a copy that shares no mutable state with r.
func (r CallReport) Clone() CallReport {
	out := r
	out.Reasons = append([]ResourceTag(nil), r.Reasons...)
	out.Tags = append([]string(nil), r.Tags...)
	out.Progress = cloneMap(r.Progress)
	if r.StartTime != nil {
		t := *r.StartTime
		out.StartTime = &t
	}
	if r.FinishTime != nil {
		t := *r.FinishTime
		out.FinishTime = &t
	}
	return out
}

// Duration returns how long the call ran, or zero if it has not finished.
func (r CallReport) Duration() time.Duration {
	if r.StartTime == nil || r.FinishTime == nil {
		return 0
	}
	return r.FinishTime.Sub(*r.StartTime)
}

// Serialize returns the report as a plain mapping with a fixed key set,
// suitable for JSON encoding and storage.
func (r CallReport) Serialize() map[string]any {
	reasons := make([]map[string]any, 0, len(r.Reasons))
	for _, tag := range r.Reasons {
		reasons = append(reasons, map[string]any{
			"resource_type": tag.Type.String(),
			"resource_id":   tag.ID,
			"operation":     tag.Operation.String(),
		})
	}

	var exception any
	if r.Exception != nil {
		exception = r.Exception.Error()
	}
	var traceback any
	if r.Traceback != "" {
		traceback = r.Traceback
	}

	return map[string]any{
		"schema_version":        CallReportSchemaVersion,
		"call_request_id":       r.CallRequestID,
		"call_request_group_id": nullableString(r.CallRequestGroupID),
		"task_id":               r.TaskID,
		"callable_name":         r.CallableName,
		"state":                 r.State.JSON(),
		"response":              nullableString(string(r.Response)),
		"reasons":               reasons,
		"progress":              cloneMap(r.Progress),
		"result":                r.Result,
		"exception":             exception,
		"traceback":             traceback,
		"start_time":            formatTime(r.StartTime),
		"finish_time":           formatTime(r.FinishTime),
		"tags":                  append([]string{}, r.Tags...),
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
