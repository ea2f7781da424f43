package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callsync/internal/calls"
	"callsync/pkg/logger"
)

// ErrStreamClosed is returned when the server ends the change stream.
var ErrStreamClosed = errors.New("client: change stream closed")

// View receives the observer's picture of the record set.
type View interface {
	// Reset replaces everything with a full listing.
	Reset(recs []calls.CallRecord)
	// Upsert applies one re-fetched record.
	Upsert(rec calls.CallRecord)
}

type WatchOptions struct {
	Table      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

func (o WatchOptions) withDefaults() WatchOptions {
	if o.Table == "" {
		o.Table = calls.TableName
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	return o
}

// Watch keeps v in sync with the server until ctx ends.
//
// After every (re)connect the full set is re-listed, so nothing missed while disconnected is
// lost. Each change triggers a re-fetch of its record; a resync triggers a re-list. Versions
// already shown are never replaced by older ones.
func (c *Client) Watch(ctx context.Context, v View, opts WatchOptions) error {
	opts = opts.withDefaults()
	w := &watcher{client: c, view: v, seen: map[string]int64{}, log: opts.Logger}

	backoff := opts.MinBackoff
	for {
		connected := false
		err := c.Changes(ctx, opts.Table, func(ev StreamEvent) error {
			if ev.Name == EventConnected {
				connected = true
				backoff = opts.MinBackoff
				return w.relist(ctx)
			}
			if ev.Name == EventChange {
				return w.apply(ctx, ev.Change)
			}
			return nil
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.log.Warn("change stream interrupted", "err", err, "retry_in", backoff, "was_connected", connected)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > opts.MaxBackoff {
			backoff = opts.MaxBackoff
		}
	}
}

type watcher struct {
	client *Client
	view   View
	seen   map[string]int64
	log    *slog.Logger
}

func (w *watcher) relist(ctx context.Context) error {
	recs, err := w.client.ListCalls(ctx)
	if err != nil {
		return err
	}
	w.seen = make(map[string]int64, len(recs))
	for _, r := range recs {
		w.seen[r.ProviderCallToken] = r.Version
	}
	w.view.Reset(recs)
	return nil
}

func (w *watcher) apply(ctx context.Context, ch calls.Change) error {
	if ch.Op == calls.ChangeResync {
		return w.relist(ctx)
	}
	if ch.Token == "" || ch.Version <= w.seen[ch.Token] {
		return nil
	}

	rec, err := w.client.GetCall(ctx, ch.Token)
	if IsNotFound(err) {
		// Committed on another instance whose store this one cannot read yet.
		w.log.Debug("changed record not readable", "call_sid", ch.Token)
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Version <= w.seen[rec.ProviderCallToken] {
		return nil
	}
	w.seen[rec.ProviderCallToken] = rec.Version
	w.view.Upsert(rec)
	return nil
}
