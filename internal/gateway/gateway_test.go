package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callsync/internal/calls"
	"callsync/internal/feed"
	"callsync/internal/reconcile"
	"callsync/internal/telephony"
)

type fakeProvider struct {
	mu     sync.Mutex
	token  string
	err    error
	block  bool
	placed []telephony.OutboundCallRequest
}

func (p *fakeProvider) Name() string                          { return "fake" }
func (p *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *fakeProvider) PlaceCall(ctx context.Context, req telephony.OutboundCallRequest) (telephony.OutboundCallResult, error) {
	p.mu.Lock()
	p.placed = append(p.placed, req)
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return telephony.OutboundCallResult{}, ctx.Err()
	}
	if p.err != nil {
		return telephony.OutboundCallResult{}, p.err
	}
	return telephony.OutboundCallResult{ProviderCallToken: p.token}, nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.placed)
}

func newGateway(p telephony.Provider, repo calls.Repository) *Gateway {
	return New(p, repo, Options{
		ProviderTimeout: 50 * time.Millisecond,
		Clock:           func() time.Time { return time.Unix(1700000000, 0) },
	})
}

func TestInitiateCall_EndToEnd(t *testing.T) {
	hub := feed.NewHub(feed.Options{})
	sub := hub.Subscribe(feed.Filter{Table: calls.TableName})
	defer sub.Unsubscribe()

	repo := calls.NewMemoryRepo(hub)
	p := &fakeProvider{token: "CA123"}
	gw := newGateway(p, repo)
	ctx := context.Background()

	rec, err := gw.InitiateCall(ctx, "(555) 123-4567")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if rec.ProviderCallToken != "CA123" || rec.Status != calls.StatusQueued || rec.DialedNumber != "+15551234567" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if p.placed[0].To != "+15551234567" {
		t.Fatalf("provider must receive the canonical number, got %q", p.placed[0].To)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ch, err := sub.Next(waitCtx)
	if err != nil || ch.Op != calls.ChangeInsert || ch.Token != "CA123" {
		t.Fatalf("expected insert notification, got %+v err=%v", ch, err)
	}

	engine := reconcile.NewEngine(repo, reconcile.Options{})
	ev, err := calls.NewStatusEvent("CA123", "completed", intp(42), "", time.Now())
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if _, err := engine.ApplyEvent(ctx, ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	final, _ := repo.Get(ctx, "CA123")
	if final.Status != calls.StatusCompleted || final.DurationSeconds == nil || *final.DurationSeconds != 42 {
		t.Fatalf("unexpected final record %+v", final)
	}
	ch, err = sub.Next(waitCtx)
	if err != nil || ch.Op != calls.ChangeUpdate || ch.Status != calls.StatusCompleted {
		t.Fatalf("expected update notification, got %+v err=%v", ch, err)
	}
}

func TestInitiateCall_InvalidNumberSkipsProvider(t *testing.T) {
	p := &fakeProvider{token: "CA1"}
	gw := newGateway(p, calls.NewMemoryRepo(nil))

	_, err := gw.InitiateCall(context.Background(), "555-1234")
	if !errors.Is(err, calls.ErrInvalidNumberFormat) {
		t.Fatalf("expected ErrInvalidNumberFormat, got %v", err)
	}
	if p.count() != 0 {
		t.Fatalf("provider must not be called for invalid input")
	}
}

func TestInitiateCall_ProviderFailureCreatesNothing(t *testing.T) {
	tests := []struct {
		name string
		p    *fakeProvider
	}{
		{"error", &fakeProvider{err: errors.New("503 service unavailable")}},
		{"timeout", &fakeProvider{block: true}},
		{"empty token", &fakeProvider{token: "  "}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := calls.NewMemoryRepo(nil)
			gw := newGateway(tc.p, repo)

			_, err := gw.InitiateCall(context.Background(), "5551234567")
			if !errors.Is(err, calls.ErrProviderUnavailable) {
				t.Fatalf("expected ErrProviderUnavailable, got %v", err)
			}
			all, _ := repo.ListAll(context.Background())
			if len(all) != 0 {
				t.Fatalf("no record may be created on provider failure, got %d", len(all))
			}
			if tc.p.count() != 1 {
				t.Fatalf("provider must be called exactly once, got %d", tc.p.count())
			}
		})
	}
}

func TestInitiateCall_DuplicateTokenReturnsExisting(t *testing.T) {
	repo := calls.NewMemoryRepo(nil)
	p := &fakeProvider{token: "CA123"}
	gw := newGateway(p, repo)
	ctx := context.Background()

	first, err := gw.InitiateCall(ctx, "5551234567")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := gw.InitiateCall(ctx, "5557654321")
	if !errors.Is(err, calls.ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}
	if second.ID != first.ID || second.DialedNumber != "+15551234567" {
		t.Fatalf("expected existing record unchanged, got %+v", second)
	}
	all, _ := repo.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(all))
	}
}

func TestInitiateCall_PersistsAfterClientCancel(t *testing.T) {
	repo := calls.NewMemoryRepo(nil)
	cancelling := &cancelOnPlace{token: "CA77"}
	gw := newGateway(cancelling, repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancelling.cancel = cancel

	if _, err := gw.InitiateCall(ctx, "5551234567"); err != nil {
		t.Fatalf("accepted call must be recorded even if the client went away: %v", err)
	}
	if _, err := repo.Get(context.Background(), "CA77"); err != nil {
		t.Fatalf("record missing: %v", err)
	}
}

func TestInitiateCall_StoreDeadline(t *testing.T) {
	repo := &stallingRepo{Repository: calls.NewMemoryRepo(nil)}
	gw := New(&fakeProvider{token: "CA88"}, repo, Options{
		ProviderTimeout: 50 * time.Millisecond,
		StoreTimeout:    50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := gw.InitiateCall(ctx, "5551234567")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("InitiateCall did not return while the store was stalled")
	}
}

// stallingRepo blocks inserts until the context ends.
type stallingRepo struct {
	calls.Repository
}

func (r *stallingRepo) Insert(ctx context.Context, rec calls.CallRecord) (calls.CallRecord, error) {
	<-ctx.Done()
	return calls.CallRecord{}, ctx.Err()
}

// cancelOnPlace accepts the call and then cancels the caller's context.
type cancelOnPlace struct {
	token  string
	cancel context.CancelFunc
}

func (p *cancelOnPlace) Name() string                          { return "cancel" }
func (p *cancelOnPlace) HealthCheck(ctx context.Context) error { return nil }
func (p *cancelOnPlace) PlaceCall(ctx context.Context, req telephony.OutboundCallRequest) (telephony.OutboundCallResult, error) {
	p.cancel()
	return telephony.OutboundCallResult{ProviderCallToken: p.token}, nil
}

func intp(n int) *int { return &n }
