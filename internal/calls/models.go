package calls

import "time"

// TableName identifies call records in change notifications and SQL.
const TableName = "call_records"

// CallRecord is the single durable source of truth for one outbound call attempt.
//
// Invariants:
// - ProviderCallToken is unique and identifies at most one record.
// - ID, DialedNumber, ProviderCallToken and CreatedAt never change after insert.
// - Status never leaves a terminal state.
// - DurationSeconds and RecordingReference are write-once.
type CallRecord struct {
	ID                string `json:"id" db:"id"`
	DialedNumber      string `json:"to_phone_number" db:"dialed_number"`
	DisplayNumber     string `json:"display_number,omitempty" db:"-"`
	ProviderCallToken string `json:"call_sid" db:"provider_call_token"`

	Status Status `json:"status" db:"status"`

	DurationSeconds    *int    `json:"duration,omitempty" db:"duration_seconds"`
	RecordingReference *string `json:"recording_url,omitempty" db:"recording_reference"`

	// Version starts at 1 and increases by one per committed mutation.
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so callers never share optional-field pointers with a store.
func (r CallRecord) Clone() CallRecord {
	out := r
	if r.DurationSeconds != nil {
		d := *r.DurationSeconds
		out.DurationSeconds = &d
	}
	if r.RecordingReference != nil {
		s := *r.RecordingReference
		out.RecordingReference = &s
	}
	return out
}

// CheckTransition reports an invariant violation between a stored record and its proposed
// successor. Stores call it before persisting any mutation.
func CheckTransition(prev, next CallRecord) error {
	switch {
	case next.ID != prev.ID,
		next.DialedNumber != prev.DialedNumber,
		next.ProviderCallToken != prev.ProviderCallToken,
		!next.CreatedAt.Equal(prev.CreatedAt):
		return E(KindInvariantViolation, "immutable call record field changed", nil)
	case !next.Status.Valid():
		return E(KindInvariantViolation, "invalid status "+string(next.Status), nil)
	case prev.Status.IsTerminal() && next.Status != prev.Status:
		return E(KindInvariantViolation, "terminal status "+string(prev.Status)+" cannot change", nil)
	case next.Status.Rank() < prev.Status.Rank():
		return E(KindInvariantViolation, "status regression "+string(prev.Status)+" -> "+string(next.Status), nil)
	}

	if prev.DurationSeconds != nil && (next.DurationSeconds == nil || *next.DurationSeconds != *prev.DurationSeconds) {
		return E(KindInvariantViolation, "duration is write-once", nil)
	}
	if next.DurationSeconds != nil && *next.DurationSeconds < 0 {
		return E(KindInvariantViolation, "duration must be non-negative", nil)
	}
	if prev.RecordingReference != nil && (next.RecordingReference == nil || *next.RecordingReference != *prev.RecordingReference) {
		return E(KindInvariantViolation, "recording reference is write-once", nil)
	}
	return nil
}
