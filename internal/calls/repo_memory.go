package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"callsync/pkg/utils"
)

// MemoryRepo is an in-process Repository. It is the default store for local development
// and the reference implementation for tests.
//
// Locking: keys serializes read-modify-write per token; mu guards the maps only for the
// duration of a lookup or a write, so transitions on different tokens do not contend.
type MemoryRepo struct {
	mu      sync.RWMutex
	byToken map[string]CallRecord

	keys     *utils.KeyedMutex
	notifier Notifier
	clock    func() time.Time
}

// NewMemoryRepo returns an empty store notifying n on every committed mutation.
func NewMemoryRepo(n Notifier) *MemoryRepo {
	if n == nil {
		n = nopNotifier{}
	}
	return &MemoryRepo{
		byToken:  make(map[string]CallRecord),
		keys:     utils.NewKeyedMutex(),
		notifier: n,
		clock:    time.Now,
	}
}

func (r *MemoryRepo) Insert(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if err := validateInsert(rec); err != nil {
		return CallRecord{}, err
	}
	unlock := r.keys.Lock(rec.ProviderCallToken)
	defer unlock()

	r.mu.Lock()
	if _, exists := r.byToken[rec.ProviderCallToken]; exists {
		r.mu.Unlock()
		return CallRecord{}, E(KindDuplicateToken, "call token "+quote(rec.ProviderCallToken)+" already recorded", nil)
	}
	rec = rec.Clone()
	rec.Version = 1
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	r.byToken[rec.ProviderCallToken] = rec
	r.mu.Unlock()

	// Still holding the key lock: per-token notifications leave in commit order.
	r.notifier.Notify(ChangeFor(ChangeInsert, rec))
	return rec.Clone(), nil
}

func (r *MemoryRepo) Get(ctx context.Context, token string) (CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byToken[token]
	if !ok {
		return CallRecord{}, E(KindNotFound, "call record "+quote(token)+" not found", nil)
	}
	return rec.Clone(), nil
}

func (r *MemoryRepo) ApplyTransition(ctx context.Context, token string, fn Mutator) (CallRecord, bool, error) {
	unlock := r.keys.Lock(token)
	defer unlock()

	cur, err := r.Get(ctx, token)
	if err != nil {
		return CallRecord{}, false, err
	}

	next, changed, err := fn(cur.Clone())
	if err != nil {
		return CallRecord{}, false, err
	}
	if !changed {
		return cur, false, nil
	}
	if err := CheckTransition(cur, next); err != nil {
		return CallRecord{}, false, err
	}

	next = next.Clone()
	next.Version = cur.Version + 1
	next.UpdatedAt = r.clock().UTC()

	r.mu.Lock()
	r.byToken[token] = next
	r.mu.Unlock()

	r.notifier.Notify(ChangeFor(ChangeUpdate, next))
	return next.Clone(), true, nil
}

func (r *MemoryRepo) ListAll(ctx context.Context) ([]CallRecord, error) {
	r.mu.RLock()
	out := make([]CallRecord, 0, len(r.byToken))
	for _, rec := range r.byToken {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(recs []CallRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}
