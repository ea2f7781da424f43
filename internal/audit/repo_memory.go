package audit

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory append-only repository for local development and tests.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) ListByToken(ctx context.Context, token string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0)
	for _, e := range r.events {
		if e.ProviderCallToken == token {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
