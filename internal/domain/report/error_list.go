package report

import "reflect"

// NodeError is an error reported by a node, identified by ErrorID.
type NodeError struct {
	ErrorID string
	Details map[string]any
}

// Equal reports whether two errors have the same id and details.
func (e NodeError) Equal(other NodeError) bool {
	return e.ErrorID == other.ErrorID && reflect.DeepEqual(e.Details, other.Details)
}

// ErrorList is an ordered collection of node errors with set semantics:
// appending an error equal to one already present is a no-op.
type ErrorList struct {
	errs []NodeError
}

// NewErrorList creates a list holding errs with duplicates removed.
func NewErrorList(errs ...NodeError) *ErrorList {
	l := &ErrorList{}
	l.Extend(errs...)
	return l
}

// Append adds e unless an equal error is already present. It reports whether e was added.
func (l *ErrorList) Append(e NodeError) bool {
	for _, existing := range l.errs {
		if existing.Equal(e) {
			return false
		}
	}
	l.errs = append(l.errs, e)
	return true
}

// Extend appends each error in order.
func (l *ErrorList) Extend(errs ...NodeError) {
	for _, e := range errs {
		l.Append(e)
	}
}

// Len returns the number of distinct errors.
func (l *ErrorList) Len() int { return len(l.errs) }

// Errors returns a copy of the errors in insertion order.
func (l *ErrorList) Errors() []NodeError { return append([]NodeError(nil), l.errs...) }
