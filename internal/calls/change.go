package calls

import "time"

// ChangeOp describes what happened to a record.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	// ChangeResync tells an observer that notifications may have been lost and a full
	// ListAll reconciliation is required. It carries no token.
	ChangeResync ChangeOp = "resync"
)

// Change is one committed mutation. Observers treat it as a trigger to re-read, not as the
// authoritative payload; Record is a convenience snapshot and may be stale by the time it is read.
type Change struct {
	Op          ChangeOp    `json:"op"`
	Table       string      `json:"table,omitempty"`
	Token       string      `json:"call_sid,omitempty"`
	RecordID    string      `json:"id,omitempty"`
	Status      Status      `json:"status,omitempty"`
	Version     int64       `json:"version,omitempty"`
	CommittedAt time.Time   `json:"committed_at"`
	Origin      string      `json:"origin,omitempty"`
	Record      *CallRecord `json:"record,omitempty"`
}

// ChangeFor builds the notification for a committed record.
func ChangeFor(op ChangeOp, rec CallRecord) Change {
	snap := rec.Clone()
	return Change{
		Op:          op,
		Table:       TableName,
		Token:       rec.ProviderCallToken,
		RecordID:    rec.ID,
		Status:      rec.Status,
		Version:     rec.Version,
		CommittedAt: rec.UpdatedAt,
		Record:      &snap,
	}
}

// ResyncChange builds a gap marker.
func ResyncChange(at time.Time) Change {
	return Change{Op: ChangeResync, CommittedAt: at.UTC()}
}

// Notifier receives committed changes. Implementations must not block the caller.
type Notifier interface {
	Notify(ch Change)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ch Change)

func (f NotifierFunc) Notify(ch Change) { f(ch) }

type nopNotifier struct{}

func (nopNotifier) Notify(Change) {}
