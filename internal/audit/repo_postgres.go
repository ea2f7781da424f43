package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of a pgx pool used by PostgresRepo.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PostgresRepo struct {
	db DB
}

func NewPostgresRepo(db DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO provider_events (
  id, provider_call_token, reported_status, previous_status, resulting_status,
  outcome, error_kind, duration_seconds, recording_reference, message, received_at, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := r.db.Exec(ctx, q,
		e.ID,
		e.ProviderCallToken,
		e.ReportedStatus,
		e.PreviousStatus,
		e.ResultingStatus,
		e.Outcome,
		e.ErrorKind,
		e.DurationSeconds,
		e.RecordingReference,
		e.Message,
		e.ReceivedAt,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append provider event: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByToken(ctx context.Context, token string) ([]Event, error) {
	const q = `
SELECT id, provider_call_token, reported_status, previous_status, resulting_status,
       outcome, error_kind, COALESCE(duration_seconds, -1), COALESCE(recording_reference, ''),
       message, received_at, created_at
FROM provider_events
WHERE provider_call_token = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := r.db.Query(ctx, q, token)
	if err != nil {
		return nil, fmt.Errorf("list provider events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			e         Event
			duration  int
			recording string
		)
		if err := rows.Scan(
			&e.ID,
			&e.ProviderCallToken,
			&e.ReportedStatus,
			&e.PreviousStatus,
			&e.ResultingStatus,
			&e.Outcome,
			&e.ErrorKind,
			&duration,
			&recording,
			&e.Message,
			&e.ReceivedAt,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan provider event: %w", err)
		}
		if duration >= 0 {
			e.DurationSeconds = &duration
		}
		if recording != "" {
			e.RecordingReference = &recording
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list provider events: %w", err)
	}
	return out, nil
}
