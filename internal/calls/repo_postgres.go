package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callsync/pkg/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of a pgx pool used by PostgresRepo.
// *pgxpool.Pool and pgxmock pools both satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PostgresRepo stores call records in the call_records table.
//
// Cross-process serialization comes from SELECT ... FOR UPDATE on the token row; the in-process
// key lock additionally keeps notifications for one token in commit order.
type PostgresRepo struct {
	db       DB
	keys     *utils.KeyedMutex
	notifier Notifier
	clock    func() time.Time
}

func NewPostgresRepo(db DB, n Notifier) *PostgresRepo {
	if n == nil {
		n = nopNotifier{}
	}
	return &PostgresRepo{db: db, keys: utils.NewKeyedMutex(), notifier: n, clock: time.Now}
}

const recordColumns = `id, dialed_number, provider_call_token, status,
       COALESCE(duration_seconds, -1), COALESCE(recording_reference, ''),
       version, created_at, updated_at`

func (r *PostgresRepo) Insert(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if err := validateInsert(rec); err != nil {
		return CallRecord{}, err
	}
	unlock := r.keys.Lock(rec.ProviderCallToken)
	defer unlock()

	rec = rec.Clone()
	rec.Version = 1
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	const q = `
INSERT INTO call_records (
  id, dialed_number, provider_call_token, status,
  duration_seconds, recording_reference, version, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (provider_call_token) DO NOTHING
`
	tag, err := r.db.Exec(ctx, q,
		rec.ID,
		rec.DialedNumber,
		rec.ProviderCallToken,
		string(rec.Status),
		rec.DurationSeconds,
		rec.RecordingReference,
		rec.Version,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return CallRecord{}, fmt.Errorf("insert call record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return CallRecord{}, E(KindDuplicateToken, "call token "+quote(rec.ProviderCallToken)+" already recorded", nil)
	}

	r.notifier.Notify(ChangeFor(ChangeInsert, rec))
	return rec.Clone(), nil
}

func (r *PostgresRepo) Get(ctx context.Context, token string) (CallRecord, error) {
	q := `SELECT ` + recordColumns + `
FROM call_records
WHERE provider_call_token = $1
`
	rec, err := scanRecord(r.db.QueryRow(ctx, q, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CallRecord{}, E(KindNotFound, "call record "+quote(token)+" not found", nil)
		}
		return CallRecord{}, fmt.Errorf("get call record: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepo) ApplyTransition(ctx context.Context, token string, fn Mutator) (CallRecord, bool, error) {
	unlock := r.keys.Lock(token)
	defer unlock()

	var (
		cur, next CallRecord
		changed   bool
	)
	err := utils.WithTx(ctx, r.db, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		q := `SELECT ` + recordColumns + `
FROM call_records
WHERE provider_call_token = $1
FOR UPDATE
`
		var err error
		cur, err = scanRecord(tx.QueryRow(ctx, q, token))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return E(KindNotFound, "call record "+quote(token)+" not found", nil)
			}
			return fmt.Errorf("lock call record: %w", err)
		}

		next, changed, err = fn(cur.Clone())
		if err != nil || !changed {
			return err
		}
		if err := CheckTransition(cur, next); err != nil {
			return err
		}
		next = next.Clone()
		next.Version = cur.Version + 1
		next.UpdatedAt = r.clock().UTC()

		const upd = `
UPDATE call_records
SET status = $2, duration_seconds = $3, recording_reference = $4, version = $5, updated_at = $6
WHERE provider_call_token = $1 AND version = $7
`
		tag, err := tx.Exec(ctx, upd,
			token,
			string(next.Status),
			next.DurationSeconds,
			next.RecordingReference,
			next.Version,
			next.UpdatedAt,
			cur.Version,
		)
		if err != nil {
			return fmt.Errorf("update call record: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return E(KindInvariantViolation, "call record "+quote(token)+" changed concurrently", nil)
		}
		return nil
	})
	if err != nil {
		return CallRecord{}, false, err
	}
	if !changed {
		return cur, false, nil
	}

	r.notifier.Notify(ChangeFor(ChangeUpdate, next))
	return next.Clone(), true, nil
}

func (r *PostgresRepo) ListAll(ctx context.Context) ([]CallRecord, error) {
	q := `SELECT ` + recordColumns + `
FROM call_records
ORDER BY created_at DESC, id DESC
`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (CallRecord, error) {
	var (
		rec       CallRecord
		status    string
		duration  int
		recording string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.DialedNumber,
		&rec.ProviderCallToken,
		&status,
		&duration,
		&recording,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return CallRecord{}, err
	}
	rec.Status = Status(status)
	if duration >= 0 {
		rec.DurationSeconds = &duration
	}
	if recording != "" {
		rec.RecordingReference = &recording
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
