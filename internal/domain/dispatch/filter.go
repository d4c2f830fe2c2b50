package dispatch

// CallReportFilter selects call reports. Zero-valued fields match everything;
// set fields are combined with AND.
type CallReportFilter struct {
	CallRequestID string
	GroupID       string
	States        []TaskState
	CallableName  string
	// Tags must all be present on the report.
	Tags []string
	// Resource, when set, matches calls holding or waiting on that resource
	// with any operation.
	Resource *ResourceKey
}

// Matches reports whether a call and its report satisfy the filter.
func (f CallReportFilter) Matches(req *CallRequest, report CallReport) bool {
	if f.CallRequestID != "" && report.CallRequestID != f.CallRequestID {
		return false
	}
	if f.GroupID != "" && report.CallRequestGroupID != f.GroupID {
		return false
	}
	if len(f.States) > 0 && !containsState(f.States, report.State) {
		return false
	}
	if f.CallableName != "" && report.CallableName != f.CallableName {
		return false
	}
	for _, want := range f.Tags {
		if !containsString(report.Tags, want) {
			return false
		}
	}
	if f.Resource != nil {
		if req == nil {
			return false
		}
		found := false
		for _, tag := range req.Resources() {
			if tag.Key() == *f.Resource {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
