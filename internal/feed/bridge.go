package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"callsync/internal/calls"
	"callsync/pkg/logger"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// DefaultChannel is the Redis Pub/Sub channel shared by all instances.
const DefaultChannel = "callsync:changes"

type BridgeOptions struct {
	Channel string
	// Origin identifies this instance; changes it published are ignored when they come back.
	Origin string
	Logger *slog.Logger
	// RetryDelay is the pause after a failed Redis receive.
	RetryDelay time.Duration
}

// Bridge forwards local changes to Redis and replays remote ones into the local hub, so
// observers connected to any instance see mutations committed on every instance.
//
// Redis Pub/Sub drops messages while a connection is down; every re-subscription is reported
// to local observers as a resync.
type Bridge struct {
	rdb     redis.UniversalClient
	hub     *Hub
	channel string
	origin  string
	log     *slog.Logger
	retry   time.Duration

	mu            sync.Mutex
	subscriptions int
	ready         chan struct{}
	readyOnce     sync.Once
}

func NewBridge(rdb redis.UniversalClient, hub *Hub, opts BridgeOptions) *Bridge {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Bridge{
		rdb:     rdb,
		hub:     hub,
		channel: opts.Channel,
		origin:  opts.Origin,
		log:     opts.Logger.With("component", "feed_bridge", "origin", opts.Origin),
		retry:   opts.RetryDelay,
		ready:   make(chan struct{}),
	}
}

func (b *Bridge) Origin() string { return b.origin }

// Ready is closed once the first Redis subscription is confirmed.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Run blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	local := b.hub.Subscribe(Filter{})
	defer local.Unsubscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.forward(ctx, local) })
	g.Go(func() error { return b.receive(ctx, pubsub) })
	g.Go(func() error {
		// Receive does not observe cancellation while blocked on the socket.
		<-ctx.Done()
		_ = pubsub.Close()
		return nil
	})
	return g.Wait()
}

// forward publishes changes committed on this instance. Changes replayed from other
// instances carry their origin and are skipped.
func (b *Bridge) forward(ctx context.Context, local *Subscription) error {
	for {
		ch, err := local.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrUnsubscribed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ch.Origin != "" {
			continue
		}

		ch.Origin = b.origin
		payload, err := json.Marshal(ch)
		if err != nil {
			b.log.Error("encode change", "error", err, "call_sid", ch.Token)
			continue
		}
		if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Error("publish change", "error", err, "call_sid", ch.Token, "op", ch.Op)
		}
	}
}

func (b *Bridge) receive(ctx context.Context, pubsub *redis.PubSub) error {
	for {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Warn("redis receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.retry):
			}
			continue
		}
		b.handle(msg)
	}
}

func (b *Bridge) handle(msg any) {
	switch m := msg.(type) {
	case *redis.Subscription:
		if m.Kind != "subscribe" {
			return
		}
		b.mu.Lock()
		b.subscriptions++
		first := b.subscriptions == 1
		b.mu.Unlock()

		if first {
			b.readyOnce.Do(func() { close(b.ready) })
			b.log.Info("feed bridge subscribed", "channel", m.Channel)
			return
		}
		b.log.Warn("feed bridge resubscribed, observers must resync", "channel", m.Channel)
		b.hub.Resync(b.origin)

	case *redis.Message:
		var ch calls.Change
		if err := json.Unmarshal([]byte(m.Payload), &ch); err != nil {
			b.log.Warn("drop malformed change", "error", err)
			return
		}
		if ch.Origin == "" || ch.Origin == b.origin {
			return
		}
		b.hub.Notify(ch)
	}
}
