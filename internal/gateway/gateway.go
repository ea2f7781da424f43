// Package gateway places outbound calls and persists exactly one record per accepted call.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"callsync/internal/calls"
	"callsync/internal/phone"
	"callsync/internal/telephony"
	"callsync/pkg/logger"

	"github.com/google/uuid"
)

// DefaultProviderTimeout bounds a single call placement.
const DefaultProviderTimeout = 10 * time.Second

// DefaultStoreTimeout bounds persisting an accepted call.
const DefaultStoreTimeout = 5 * time.Second

type Options struct {
	ProviderTimeout time.Duration
	StoreTimeout    time.Duration
	Logger          *slog.Logger
	Clock           func() time.Time
	NewID           func() string
}

// Gateway is the CallInitiationGateway.
type Gateway struct {
	provider telephony.Provider
	repo     calls.Repository
	timeout  time.Duration
	storeTTL time.Duration
	log      *slog.Logger
	clock    func() time.Time
	newID    func() string
}

func New(provider telephony.Provider, repo calls.Repository, opts Options) *Gateway {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Gateway{
		provider: provider,
		repo:     repo,
		timeout:  opts.ProviderTimeout,
		storeTTL: opts.StoreTimeout,
		log:      opts.Logger,
		clock:    opts.Clock,
		newID:    opts.NewID,
	}
}

// InitiateCall normalizes raw, asks the provider to dial it and records the accepted call
// as queued.
//
// Errors:
//   - calls.ErrInvalidNumberFormat: rejected before any provider call.
//   - calls.ErrProviderUnavailable: provider failed or timed out; nothing was stored and the
//     attempt is not retried.
//   - calls.ErrDuplicateToken: the provider reused a known token; the existing record is
//     returned unchanged alongside the error.
func (g *Gateway) InitiateCall(ctx context.Context, raw string) (calls.CallRecord, error) {
	log := logger.FromOr(ctx, g.log)

	number, err := phone.Normalize(raw)
	if err != nil {
		return calls.CallRecord{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, g.timeout)
	res, err := g.provider.PlaceCall(pctx, telephony.OutboundCallRequest{To: number})
	cancel()
	if err != nil {
		log.Warn("provider rejected call placement", "provider", g.provider.Name(), "to", number, "err", err)
		msg := "voice provider unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "voice provider timed out"
		}
		return calls.CallRecord{}, calls.E(calls.KindProviderUnavailable, msg, err)
	}
	token := strings.TrimSpace(res.ProviderCallToken)
	if token == "" {
		log.Error("provider accepted call without token", "provider", g.provider.Name(), "to", number)
		return calls.CallRecord{}, calls.E(calls.KindProviderUnavailable, "voice provider returned no call token", nil)
	}

	now := g.clock().UTC()
	rec := calls.CallRecord{
		ID:                g.newID(),
		DialedNumber:      number,
		DisplayNumber:     phone.Display(number),
		ProviderCallToken: token,
		Status:            calls.StatusQueued,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// The call is already placed; a client disconnect must not lose its record,
	// but a wedged store must not hold the request forever either.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.storeTTL)
	defer cancel()
	stored, err := g.repo.Insert(sctx, rec)
	if err != nil {
		if errors.Is(err, calls.ErrDuplicateToken) {
			existing, gerr := g.repo.Get(sctx, token)
			if gerr != nil {
				return calls.CallRecord{}, gerr
			}
			log.Warn("provider reused call token", "call_sid", token)
			return existing, err
		}
		log.Error("persist accepted call failed", "call_sid", token, "err", err)
		return calls.CallRecord{}, err
	}

	log.Info("call initiated", "call_sid", token, "to", number, "provider", g.provider.Name())
	return stored, nil
}
