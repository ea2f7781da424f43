package reconcile

import "callsync/internal/calls"

// Outcome is what a status report did to the record's status.
type Outcome string

const (
	// OutcomeAdvanced moved the status forward.
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeDuplicate repeated the current status.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeStale reported a status earlier than the current one.
	OutcomeStale Outcome = "stale"
	// OutcomeAbsorbed reported a different status after a terminal one.
	OutcomeAbsorbed Outcome = "absorbed"
	// OutcomeRejected is recorded for events that failed validation or lookup.
	OutcomeRejected Outcome = "rejected"
)

// Decision is the result of Transition.
type Decision struct {
	Outcome Outcome
	// Merged is true when the event set a duration or recording reference for the first time.
	Merged bool
}

// Changed reports whether the record must be written.
func (d Decision) Changed() bool {
	return d.Outcome == OutcomeAdvanced || d.Merged
}

// Transition computes the successor of cur under ev. It is pure.
//
// Status only moves forward along queued < ringing < in-progress < terminal; terminal statuses
// absorb everything, including other terminals. Optional fields are write-once and merge from
// any event, whatever its status outcome.
func Transition(cur calls.CallRecord, ev calls.StatusEvent) (calls.CallRecord, Decision) {
	next := cur.Clone()
	var d Decision

	switch {
	case ev.Status == cur.Status:
		d.Outcome = OutcomeDuplicate
	case cur.Status.IsTerminal():
		d.Outcome = OutcomeAbsorbed
	case ev.Status.Rank() > cur.Status.Rank():
		d.Outcome = OutcomeAdvanced
		next.Status = ev.Status
	default:
		d.Outcome = OutcomeStale
	}

	if next.DurationSeconds == nil && ev.DurationSeconds != nil {
		v := *ev.DurationSeconds
		next.DurationSeconds = &v
		d.Merged = true
	}
	if next.RecordingReference == nil && ev.RecordingReference != nil {
		v := *ev.RecordingReference
		next.RecordingReference = &v
		d.Merged = true
	}
	return next, d
}
