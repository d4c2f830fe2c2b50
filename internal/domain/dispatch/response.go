package dispatch

// Response is the coordinator's admission decision for a submitted call.
type Response string

const (
	// ResponseAccepted means the call holds its resources and will run as
	// soon as concurrency weight is available.
	ResponseAccepted Response = "accepted"

	// ResponsePostponed means the call is queued behind conflicting calls and
	// will be admitted automatically when they release.
	ResponsePostponed Response = "postponed"

	// ResponseRejected means the call was refused outright and never runs.
	ResponseRejected Response = "rejected"
)

// String returns the string representation of the Response.
func (r Response) String() string { return string(r) }

// severity orders responses so the strongest decision across several tags wins.
func (r Response) severity() int {
	switch r {
	case ResponseRejected:
		return 2
	case ResponsePostponed:
		return 1
	default:
		return 0
	}
}

// Max returns the stronger of two responses.
func (r Response) Max(other Response) Response {
	if other.severity() > r.severity() {
		return other
	}
	return r
}
