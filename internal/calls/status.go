package calls

import "strings"

// Status is the closed set of call lifecycle states.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusQueued,
	StatusRinging,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusBusy,
	StatusNoAnswer,
}

// ParseStatus converts a provider status string into the closed variant.
// Matching ignores case and surrounding space; "_" is accepted in place of "-".
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-"))
	if !s.Valid() {
		return "", E(KindUnknownStatusValue, "unknown status value "+quote(raw), nil)
	}
	return s, nil
}

// Valid reports whether s belongs to the closed set.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// Rank orders statuses along the lifecycle. All terminal statuses share the top rank.
// Unknown values rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRinging:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether s is absorbing.
func (s Status) IsTerminal() bool {
	return s.Rank() == 3
}

func quote(s string) string {
	return `"` + s + `"`
}
