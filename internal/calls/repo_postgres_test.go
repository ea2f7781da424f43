package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var recordRowColumns = []string{
	"id", "dialed_number", "provider_call_token", "status",
	"duration_seconds", "recording_reference", "version", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresRepo, *recordingNotifier) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	n := &recordingNotifier{}
	repo := NewPostgresRepo(mock, n)
	repo.clock = func() time.Time { return at(60) }
	return mock, repo, n
}

func TestPostgresRepo_Insert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		affected   int64
		wantErr    error
		wantNotify int
	}{
		{name: "new token", affected: 1, wantNotify: 1},
		{name: "duplicate token", affected: 0, wantErr: ErrDuplicateToken},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			mock, repo, n := newMockRepo(t)
			rec := baseRecord()

			mock.ExpectExec(`INSERT INTO call_records`).
				WithArgs(
					rec.ID,
					rec.DialedNumber,
					rec.ProviderCallToken,
					"queued",
					pgxmock.AnyArg(),
					pgxmock.AnyArg(),
					int64(1),
					pgxmock.AnyArg(),
					pgxmock.AnyArg(),
				).
				WillReturnResult(pgxmock.NewResult("INSERT", tc.affected))

			got, err := repo.Insert(context.Background(), rec)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if err == nil && got.Version != 1 {
				t.Fatalf("expected version 1, got %d", got.Version)
			}
			if len(n.all()) != tc.wantNotify {
				t.Fatalf("expected %d notifications, got %d", tc.wantNotify, len(n.all()))
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPostgresRepo_InsertRejectsIncompleteRecord(t *testing.T) {
	mock, repo, _ := newMockRepo(t)
	rec := baseRecord()
	rec.ProviderCallToken = ""

	if _, err := repo.Insert(context.Background(), rec); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no query expected: %v", err)
	}
}

func TestPostgresRepo_GetNotFound(t *testing.T) {
	mock, repo, _ := newMockRepo(t)
	mock.ExpectQuery(`FROM call_records`).
		WithArgs("CA404").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "CA404")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_GetMapsNullableColumns(t *testing.T) {
	mock, repo, _ := newMockRepo(t)
	mock.ExpectQuery(`FROM call_records`).
		WithArgs("CA123").
		WillReturnRows(pgxmock.NewRows(recordRowColumns).
			AddRow("id-1", "+15551234567", "CA123", "completed", 42, "", int64(4), at(0), at(30)))

	rec, err := repo.Get(context.Background(), "CA123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != StatusCompleted || rec.DurationSeconds == nil || *rec.DurationSeconds != 42 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.RecordingReference != nil {
		t.Fatalf("empty recording column must map to nil")
	}
}

func TestPostgresRepo_ApplyTransitionCommitsAndNotifies(t *testing.T) {
	mock, repo, n := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("CA123").
		WillReturnRows(pgxmock.NewRows(recordRowColumns).
			AddRow("id-1", "+15551234567", "CA123", "queued", -1, "", int64(1), at(0), at(0)))
	mock.ExpectExec(`UPDATE call_records`).
		WithArgs("CA123", "ringing", pgxmock.AnyArg(), pgxmock.AnyArg(), int64(2), pgxmock.AnyArg(), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	rec, changed, err := repo.ApplyTransition(context.Background(), "CA123", setStatus(StatusRinging))
	if err != nil || !changed {
		t.Fatalf("expected change, got changed=%v err=%v", changed, err)
	}
	if rec.Version != 2 || !rec.UpdatedAt.Equal(at(60)) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	got := n.all()
	if len(got) != 1 || got[0].Op != ChangeUpdate || got[0].Status != StatusRinging {
		t.Fatalf("unexpected notifications: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_ApplyTransitionNoChangeSkipsUpdate(t *testing.T) {
	mock, repo, n := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("CA123").
		WillReturnRows(pgxmock.NewRows(recordRowColumns).
			AddRow("id-1", "+15551234567", "CA123", "ringing", -1, "", int64(2), at(0), at(5)))
	mock.ExpectCommit()

	rec, changed, err := repo.ApplyTransition(context.Background(), "CA123", setStatus(StatusRinging))
	if err != nil || changed {
		t.Fatalf("expected no-op, got changed=%v err=%v", changed, err)
	}
	if rec.Version != 2 {
		t.Fatalf("version must not move on no-op, got %d", rec.Version)
	}
	if len(n.all()) != 0 {
		t.Fatalf("no-op must not notify")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_ApplyTransitionRollsBackOnViolation(t *testing.T) {
	mock, repo, n := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("CA123").
		WillReturnRows(pgxmock.NewRows(recordRowColumns).
			AddRow("id-1", "+15551234567", "CA123", "completed", 10, "", int64(3), at(0), at(5)))
	mock.ExpectRollback()

	_, _, err := repo.ApplyTransition(context.Background(), "CA123", setStatus(StatusRinging))
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if len(n.all()) != 0 {
		t.Fatalf("rolled back transition must not notify")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_ApplyTransitionUnknownToken(t *testing.T) {
	mock, repo, _ := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("CA404").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := repo.ApplyTransition(context.Background(), "CA404", setStatus(StatusRinging))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_ListAll(t *testing.T) {
	mock, repo, _ := newMockRepo(t)
	mock.ExpectQuery(`ORDER BY created_at DESC, id DESC`).
		WillReturnRows(pgxmock.NewRows(recordRowColumns).
			AddRow("id-2", "+15551234567", "CA2", "ringing", -1, "", int64(2), at(10), at(11)).
			AddRow("id-1", "+15557654321", "CA1", "completed", 7, "https://rec/1", int64(5), at(0), at(9)))

	all, err := repo.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ProviderCallToken != "CA2" {
		t.Fatalf("unexpected list: %+v", all)
	}
	if all[1].RecordingReference == nil || *all[1].RecordingReference != "https://rec/1" {
		t.Fatalf("recording reference not mapped: %+v", all[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
