package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (n *recordingNotifier) Notify(ch Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, ch)
}

func (n *recordingNotifier) all() []Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Change, len(n.changes))
	copy(out, n.changes)
	return out
}

func setStatus(s Status) Mutator {
	return func(cur CallRecord) (CallRecord, bool, error) {
		if cur.Status == s {
			return cur, false, nil
		}
		cur.Status = s
		return cur, true, nil
	}
}

func TestMemoryRepo_InsertRejectsDuplicateToken(t *testing.T) {
	n := &recordingNotifier{}
	repo := NewMemoryRepo(n)
	ctx := context.Background()

	if _, err := repo.Insert(ctx, baseRecord()); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	dup := baseRecord()
	dup.ID = "22222222-2222-2222-2222-222222222222"
	dup.DialedNumber = "+15550000000"
	_, err := repo.Insert(ctx, dup)
	if !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}

	all, _ := repo.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(all))
	}
	if all[0].DialedNumber != "+15551234567" {
		t.Fatalf("stored record changed by rejected insert: %+v", all[0])
	}
	if len(n.all()) != 1 {
		t.Fatalf("expected one notification, got %d", len(n.all()))
	}
}

func TestMemoryRepo_ConcurrentInsertSameToken(t *testing.T) {
	repo := NewMemoryRepo(nil)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		dups int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := baseRecord()
			rec.ID = fmt.Sprintf("id-%d", i)
			_, err := repo.Insert(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				oks++
			case errors.Is(err, ErrDuplicateToken):
				dups++
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if oks != 1 || dups != 15 {
		t.Fatalf("expected 1 insert and 15 duplicates, got %d/%d", oks, dups)
	}
}

func TestMemoryRepo_GetNotFound(t *testing.T) {
	repo := NewMemoryRepo(nil)
	_, err := repo.Get(context.Background(), "CA999")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, _, err = repo.ApplyTransition(context.Background(), "CA999", setStatus(StatusRinging))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from transition, got %v", err)
	}
}

func TestMemoryRepo_ApplyTransitionBumpsVersionAndNotifies(t *testing.T) {
	n := &recordingNotifier{}
	repo := NewMemoryRepo(n)
	ctx := context.Background()
	if _, err := repo.Insert(ctx, baseRecord()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec, changed, err := repo.ApplyTransition(ctx, "CA123", setStatus(StatusRinging))
	if err != nil || !changed {
		t.Fatalf("expected change, got changed=%v err=%v", changed, err)
	}
	if rec.Version != 2 || rec.Status != StatusRinging {
		t.Fatalf("unexpected record: %+v", rec)
	}

	_, changed, err = repo.ApplyTransition(ctx, "CA123", setStatus(StatusRinging))
	if err != nil || changed {
		t.Fatalf("expected no-op, got changed=%v err=%v", changed, err)
	}

	got := n.all()
	if len(got) != 2 {
		t.Fatalf("expected insert+update notifications, got %d", len(got))
	}
	if got[0].Op != ChangeInsert || got[1].Op != ChangeUpdate || got[1].Version != 2 {
		t.Fatalf("unexpected notifications: %+v", got)
	}
}

func TestMemoryRepo_ApplyTransitionRejectsInvariantViolation(t *testing.T) {
	n := &recordingNotifier{}
	repo := NewMemoryRepo(n)
	ctx := context.Background()
	if _, err := repo.Insert(ctx, baseRecord()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, _, err := repo.ApplyTransition(ctx, "CA123", setStatus(StatusCompleted)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, _, err := repo.ApplyTransition(ctx, "CA123", setStatus(StatusRinging))
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}

	rec, _ := repo.Get(ctx, "CA123")
	if rec.Status != StatusCompleted {
		t.Fatalf("store mutated by rejected transition: %s", rec.Status)
	}
	if len(n.all()) != 2 {
		t.Fatalf("rejected transition must not notify")
	}
}

func TestMemoryRepo_ConcurrentTransitionsAreSerializedPerToken(t *testing.T) {
	n := &recordingNotifier{}
	repo := NewMemoryRepo(n)
	ctx := context.Background()
	if _, err := repo.Insert(ctx, baseRecord()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := repo.ApplyTransition(ctx, "CA123", setStatus(StatusRinging)); err != nil {
				t.Errorf("transition: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, _ := repo.Get(ctx, "CA123")
	if rec.Version != 2 {
		t.Fatalf("expected exactly one applied transition, version=%d", rec.Version)
	}
	if len(n.all()) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(n.all()))
	}
}

func TestMemoryRepo_NotificationsFollowCommitOrderPerToken(t *testing.T) {
	n := &recordingNotifier{}
	repo := NewMemoryRepo(n)
	ctx := context.Background()
	if _, err := repo.Insert(ctx, baseRecord()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for _, s := range []Status{StatusRinging, StatusInProgress, StatusCompleted} {
		if _, _, err := repo.ApplyTransition(ctx, "CA123", setStatus(s)); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}

	var last int64
	for _, ch := range n.all() {
		if ch.Version <= last {
			t.Fatalf("notifications out of commit order: %+v", n.all())
		}
		last = ch.Version
	}
	if last != 4 {
		t.Fatalf("expected final version 4, got %d", last)
	}
}

func TestMemoryRepo_ListAllNewestFirst(t *testing.T) {
	repo := NewMemoryRepo(nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rec := baseRecord()
		rec.ID = fmt.Sprintf("id-%d", i)
		rec.ProviderCallToken = fmt.Sprintf("CA%d", i)
		rec.CreatedAt = at(int64(i))
		if _, err := repo.Insert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ProviderCallToken != "CA2" || all[2].ProviderCallToken != "CA0" {
		t.Fatalf("unexpected order: %+v", all)
	}
}

func TestMemoryRepo_ReturnedRecordsAreCopies(t *testing.T) {
	repo := NewMemoryRepo(nil)
	ctx := context.Background()
	rec := baseRecord()
	rec.RecordingReference = strp("https://rec/1")
	if _, err := repo.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, _ := repo.Get(ctx, "CA123")
	*got.RecordingReference = "tampered"

	again, _ := repo.Get(ctx, "CA123")
	if *again.RecordingReference != "https://rec/1" {
		t.Fatalf("store state leaked through returned pointer")
	}
}
