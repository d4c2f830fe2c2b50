// Package report folds the results of independently executed handlers into a
// single dispatch report with one overall verdict.
package report

// SchemaVersion is bumped whenever the key set produced by DispatchReport.Dict changes.
const SchemaVersion = 1

// Reboot records whether a handler scheduled a reboot of the node.
type Reboot struct {
	Scheduled bool
	Details   map[string]any
}

// KeyedDetails is the entry filed under an aggregation key.
type KeyedDetails struct {
	Succeeded bool
	Details   map[string]any
}

// DispatchReport is the aggregate of every handler report contributing to one
// logical operation.
//
// Succeeded starts true and becomes false once any handler fails; it never
// returns to true. NumChanges sums the changes of succeeded handlers only.
// The zero value starts failed; build reports with NewDispatchReport.
type DispatchReport struct {
	Succeeded  bool
	NumChanges int
	Reboot     Reboot
	// Details maps an aggregation key to a KeyedDetails, or to a
	// []KeyedDetails for multi-valued handlers.
	Details map[string]any
}

// NewDispatchReport creates an empty, successful report.
func NewDispatchReport() *DispatchReport {
	return &DispatchReport{
		Succeeded: true,
		Reboot:    Reboot{Details: map[string]any{}},
		Details:   map[string]any{},
	}
}

// Fold applies every handler report to r in order and returns r.
func (r *DispatchReport) Fold(reports ...*HandlerReport) *DispatchReport {
	for _, h := range reports {
		h.Update(r)
	}
	return r
}

// Dict returns the report as a plain mapping:
//
//	{"succeeded": bool, "num_changes": int,
//	 "reboot": {"scheduled": bool, "details": {}},
//	 "details": {"<aggregation_key>": {"succeeded": bool, "details": {...}}}}
func (r *DispatchReport) Dict() map[string]any {
	details := make(map[string]any, len(r.Details))
	for key, v := range r.Details {
		switch d := v.(type) {
		case KeyedDetails:
			details[key] = d.dict()
		case []KeyedDetails:
			list := make([]any, 0, len(d))
			for _, item := range d {
				list = append(list, item.dict())
			}
			details[key] = list
		}
	}

	return map[string]any{
		"succeeded":   r.Succeeded,
		"num_changes": r.NumChanges,
		"reboot": map[string]any{
			"scheduled": r.Reboot.Scheduled,
			"details":   copyDetails(r.Reboot.Details),
		},
		"details": details,
	}
}

func (d KeyedDetails) dict() map[string]any {
	return map[string]any{
		"succeeded": d.Succeeded,
		"details":   copyDetails(d.Details),
	}
}

func copyDetails(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
