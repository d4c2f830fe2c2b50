package report

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Aggregation keys of the known handler reports.
const (
	KeyContent  = "content"
	KeyProfile  = "profile"
	KeyBindings = "bindings"
	KeyClean    = "clean"
	KeyReboot   = "reboot"
)

// HandlerReport is one handler's verdict on one sub-operation.
type HandlerReport struct {
	Succeeded      bool
	Details        map[string]any
	NumChanges     int
	AggregationKey string

	// MultiValued handlers append under their key instead of overwriting it,
	// since several of them legitimately share one key.
	MultiValued bool

	// Reboot handlers fill DispatchReport.Reboot rather than a details entry.
	Reboot    bool
	Scheduled bool
}

// NewHandlerReport creates a successful report filed under key.
func NewHandlerReport(key string) *HandlerReport {
	return &HandlerReport{Succeeded: true, Details: map[string]any{}, AggregationKey: key}
}

// NewContentReport reports a content install, update or uninstall.
func NewContentReport() *HandlerReport { return NewHandlerReport(KeyContent) }

// NewProfileReport reports a profile update.
func NewProfileReport() *HandlerReport { return NewHandlerReport(KeyProfile) }

// NewBindReport reports one bind or unbind. Several bind reports may be folded
// into one dispatch report; each is appended under the bindings key.
func NewBindReport() *HandlerReport {
	r := NewHandlerReport(KeyBindings)
	r.MultiValued = true
	return r
}

// NewCleanReport reports a clean operation.
func NewCleanReport() *HandlerReport { return NewHandlerReport(KeyClean) }

// NewRebootReport reports a reboot request.
func NewRebootReport(scheduled bool) *HandlerReport {
	r := NewHandlerReport(KeyReboot)
	r.Reboot = true
	r.Scheduled = scheduled
	return r
}

// SetSucceeded marks the handler successful.
func (h *HandlerReport) SetSucceeded(details map[string]any, numChanges int) {
	if numChanges < 0 {
		numChanges = 0
	}
	h.Succeeded = true
	h.NumChanges = numChanges
	h.Details = copyDetails(details)
}

// SetFailed marks the handler failed.
func (h *HandlerReport) SetFailed(details map[string]any) {
	h.Succeeded = false
	h.NumChanges = 0
	h.Details = copyDetails(details)
}

// SetFailedWithError marks the handler failed with details describing err.
func (h *HandlerReport) SetFailedWithError(err error) {
	h.SetFailed(ExceptionDetails(err))
}

// Update folds h into r. A zero DispatchReport is accepted, but it starts
// out failed; use NewDispatchReport for a report that starts successful.
func (h *HandlerReport) Update(r *DispatchReport) {
	if !h.Succeeded {
		r.Succeeded = false
	} else {
		r.NumChanges += h.NumChanges
	}

	if h.Reboot {
		r.Reboot = Reboot{Scheduled: h.Scheduled, Details: copyDetails(h.Details)}
		return
	}

	if r.Details == nil {
		r.Details = map[string]any{}
	}
	entry := KeyedDetails{Succeeded: h.Succeeded, Details: copyDetails(h.Details)}
	if !h.MultiValued {
		r.Details[h.AggregationKey] = entry
		return
	}
	list, _ := r.Details[h.AggregationKey].([]KeyedDetails)
	r.Details[h.AggregationKey] = append(list, entry)
}

// ExceptionDetails describes err as {message, type, trace}. The trace is the
// stack at the point of capture.
func ExceptionDetails(err error) map[string]any {
	if err == nil {
		err = errors.New("unknown error")
	}
	return map[string]any{
		"message": err.Error(),
		"type":    fmt.Sprintf("%T", rootCause(err)),
		"trace":   string(debug.Stack()),
	}
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
