package calls

import (
	"strings"
	"time"
)

// StatusEvent is one provider status report, already parsed at the boundary.
type StatusEvent struct {
	Token              string    `json:"call_sid"`
	Status             Status    `json:"status"`
	DurationSeconds    *int      `json:"duration,omitempty"`
	RecordingReference *string   `json:"recording_url,omitempty"`
	ReceivedAt         time.Time `json:"received_at"`
}

// NewStatusEvent validates raw provider fields into a StatusEvent.
// Empty recording strings are treated as absent.
func NewStatusEvent(token, rawStatus string, duration *int, recording string, receivedAt time.Time) (StatusEvent, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return StatusEvent{}, E(KindInvalidEvent, "call token is required", nil)
	}
	st, err := ParseStatus(rawStatus)
	if err != nil {
		return StatusEvent{}, err
	}
	if duration != nil && *duration < 0 {
		return StatusEvent{}, E(KindInvalidEvent, "duration must be non-negative", nil)
	}

	ev := StatusEvent{Token: token, Status: st, ReceivedAt: receivedAt.UTC()}
	if duration != nil {
		d := *duration
		ev.DurationSeconds = &d
	}
	if rec := strings.TrimSpace(recording); rec != "" {
		ev.RecordingReference = &rec
	}
	return ev, nil
}

// Validate re-checks an event built outside NewStatusEvent (e.g. decoded from a queue).
func (ev StatusEvent) Validate() error {
	if strings.TrimSpace(ev.Token) == "" {
		return E(KindInvalidEvent, "call token is required", nil)
	}
	if !ev.Status.Valid() {
		return E(KindUnknownStatusValue, "unknown status value "+quote(string(ev.Status)), nil)
	}
	if ev.DurationSeconds != nil && *ev.DurationSeconds < 0 {
		return E(KindInvalidEvent, "duration must be non-negative", nil)
	}
	return nil
}
