package calls

import "context"

// Mutator computes the successor of the current record.
// Returning changed=false leaves the record untouched and emits no notification.
type Mutator func(current CallRecord) (next CallRecord, changed bool, err error)

// Repository is the durable CallRecord store keyed by ProviderCallToken.
//
// Rules:
//   - Insert fails with ErrDuplicateToken when the token exists; stored state is unchanged.
//   - Get fails with ErrNotFound when the token is absent.
//   - ApplyTransition is an atomic read-modify-write, serialized per token and independent
//     across tokens. The mutator may run more than once only if the store retries internally.
//   - ListAll returns records newest first.
//   - Every committed mutation produces exactly one Notify, after it is durable, in commit order
//     per token.
type Repository interface {
	Insert(ctx context.Context, rec CallRecord) (CallRecord, error)
	Get(ctx context.Context, token string) (CallRecord, error)
	ApplyTransition(ctx context.Context, token string, fn Mutator) (CallRecord, bool, error)
	ListAll(ctx context.Context) ([]CallRecord, error)
}

func validateInsert(rec CallRecord) error {
	switch {
	case rec.ID == "":
		return E(KindInvariantViolation, "record id is required", nil)
	case rec.ProviderCallToken == "":
		return E(KindInvariantViolation, "provider call token is required", nil)
	case rec.DialedNumber == "":
		return E(KindInvariantViolation, "dialed number is required", nil)
	case !rec.Status.Valid():
		return E(KindInvariantViolation, "invalid status "+string(rec.Status), nil)
	case rec.CreatedAt.IsZero():
		return E(KindInvariantViolation, "created_at is required", nil)
	}
	return nil
}
