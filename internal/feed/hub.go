// Package feed propagates committed call record changes to observers.
//
// Delivery is at-least-once and never replays: an observer that falls behind or reconnects
// receives a resync change and is expected to reconcile with a full ListAll.
package feed

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"callsync/internal/calls"
	"callsync/pkg/logger"
)

// DefaultMaxPending bounds the per-subscriber queue when Options.MaxPending is zero.
const DefaultMaxPending = 1024

// ErrUnsubscribed is returned by Next once the subscription is closed.
var ErrUnsubscribed = errors.New("feed: unsubscribed")

type Options struct {
	MaxPending int
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Filter restricts a subscription to one record type. The zero Filter matches everything.
type Filter struct {
	Table string
}

func (f Filter) match(ch calls.Change) bool {
	return f.Table == "" || ch.Op == calls.ChangeResync || ch.Table == f.Table
}

// Hub fans committed changes out to subscribers. It implements calls.Notifier.
//
// Notify never blocks on a subscriber: each one owns a pending queue, and a queue that hits
// MaxPending collapses into a single resync change.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	maxPending int
	log        *slog.Logger
	clock      func() time.Time
}

var _ calls.Notifier = (*Hub)(nil)

func NewHub(opts Options) *Hub {
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Hub{
		subs:       make(map[uint64]*Subscription),
		maxPending: opts.MaxPending,
		log:        opts.Logger,
		clock:      opts.Clock,
	}
}

// Notify enqueues ch for every matching subscriber.
func (h *Hub) Notify(ch calls.Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		s.push(ch)
	}
}

// Resync tells every subscriber that changes may have been missed.
func (h *Hub) Resync(origin string) {
	ch := calls.ResyncChange(h.clock())
	ch.Origin = origin
	h.Notify(ch)
}

// Subscribe registers a new observer. On a closed hub the returned subscription is already
// unsubscribed.
func (h *Hub) Subscribe(f Filter) *Subscription {
	s := &Subscription{
		hub:    h,
		filter: f,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Unsubscribe()
		return s
	}
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	n := len(h.subs)
	h.mu.Unlock()

	h.log.Debug("feed subscriber added", "subscriber", s.id, "table", f.Table, "subscribers", n)
	return s
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close unsubscribes everyone. Later subscriptions are born closed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Subscription is one observer's view of the feed. Next and All may be used from a single
// goroutine; Unsubscribe may be called from any goroutine.
type Subscription struct {
	id     uint64
	hub    *Hub
	filter Filter

	mu         sync.Mutex
	queue      []calls.Change
	closed     bool
	overflowed bool

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) push(ch calls.Change) {
	if !s.filter.match(ch) {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.hub.maxPending {
		if !s.overflowed {
			s.hub.log.Warn("feed subscriber overflowed, collapsing to resync",
				"subscriber", s.id, "pending", len(s.queue))
		}
		s.overflowed = true
		s.queue = []calls.Change{calls.ResyncChange(s.hub.clock())}
	} else {
		s.queue = append(s.queue, ch)
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until a change is available, ctx is done, or the subscription is closed.
func (s *Subscription) Next(ctx context.Context) (calls.Change, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return calls.Change{}, ErrUnsubscribed
		}
		if len(s.queue) > 0 {
			ch := s.queue[0]
			s.queue[0] = calls.Change{}
			s.queue = s.queue[1:]
			if len(s.queue) == 0 {
				s.overflowed = false
			}
			s.mu.Unlock()
			return ch, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return calls.Change{}, ctx.Err()
		case <-s.done:
		case <-s.signal:
		}
	}
}

// All yields changes until ctx is done, the subscription is closed, or the loop breaks.
func (s *Subscription) All(ctx context.Context) iter.Seq[calls.Change] {
	return func(yield func(calls.Change) bool) {
		for {
			ch, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(ch) {
				return
			}
		}
	}
}

// Pending returns the number of queued, undelivered changes.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe stops delivery immediately and drops anything still queued. It is idempotent.
func (s *Subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		if s.id != 0 {
			s.hub.remove(s.id)
			s.hub.log.Debug("feed subscriber removed", "subscriber", s.id)
		}
	})
}
