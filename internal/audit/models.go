package audit

import "time"

// Event is an immutable, append-only record of one provider status report and what the
// reconciliation engine did with it.
//
// Invariants:
// - Events are never updated or deleted.
// - provider_call_token and outcome are required.
// - Audit is best-effort; do not block reconciliation on audit failures.
//
// Storage (Postgres): table provider_events, INSERT-only from the application.
type Event struct {
	ID                string `json:"id" db:"id"`
	ProviderCallToken string `json:"call_sid" db:"provider_call_token"`

	// ReportedStatus is the raw provider value, kept even when it failed to parse.
	ReportedStatus  string `json:"reported_status" db:"reported_status"`
	PreviousStatus  string `json:"previous_status,omitempty" db:"previous_status"`
	ResultingStatus string `json:"resulting_status,omitempty" db:"resulting_status"`

	// Outcome is the reconciliation result (advanced, merged, duplicate, stale, absorbed,
	// rejected).
	Outcome   string `json:"outcome" db:"outcome"`
	ErrorKind string `json:"error_kind,omitempty" db:"error_kind"`

	DurationSeconds    *int    `json:"duration,omitempty" db:"duration_seconds"`
	RecordingReference *string `json:"recording_url,omitempty" db:"recording_reference"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	ReceivedAt time.Time `json:"received_at" db:"received_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

const TableName = "provider_events"
