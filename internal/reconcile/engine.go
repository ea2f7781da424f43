// Package reconcile applies asynchronous provider status reports to call records.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callsync/internal/audit"
	"callsync/internal/calls"
	"callsync/pkg/logger"
)

// EventLog receives one entry per processed provider event.
type EventLog interface {
	Append(ctx context.Context, e audit.Event) error
}

// Applier is satisfied by Engine; the HTTP layer and the redelivery worker depend on it.
type Applier interface {
	ApplyEvent(ctx context.Context, ev calls.StatusEvent) (Result, error)
}

type Options struct {
	Audit  EventLog
	Logger *slog.Logger
}

// Engine is the status reconciliation state machine bound to a Repository.
// It is safe for concurrent use; serialization per token is the repository's job.
type Engine struct {
	repo  calls.Repository
	audit EventLog
	log   *slog.Logger
}

func NewEngine(repo calls.Repository, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Engine{repo: repo, audit: opts.Audit, log: opts.Logger}
}

// Result describes what ApplyEvent did.
type Result struct {
	Record   calls.CallRecord `json:"record"`
	Previous calls.Status     `json:"previous_status"`
	Outcome  Outcome          `json:"outcome"`
	Merged   bool             `json:"merged"`
	// Changed is true when a mutation was committed (and therefore notified).
	Changed bool `json:"changed"`
}

var _ Applier = (*Engine)(nil)

// ApplyEvent reconciles one provider event with the stored record.
//
// Earlier, repeated and post-terminal statuses are no-ops that are logged, never errors.
// An unknown token fails with calls.ErrUnknownCallToken and leaves the store untouched.
func (e *Engine) ApplyEvent(ctx context.Context, ev calls.StatusEvent) (Result, error) {
	log := logger.FromOr(ctx, e.log).With("call_sid", ev.Token, "reported_status", ev.Status)

	if err := ev.Validate(); err != nil {
		e.record(ctx, log, ev, "", Result{Outcome: OutcomeRejected}, err)
		return Result{}, err
	}

	var (
		prev     calls.Status
		decision Decision
	)
	rec, changed, err := e.repo.ApplyTransition(ctx, ev.Token, func(cur calls.CallRecord) (calls.CallRecord, bool, error) {
		prev = cur.Status
		next, d := Transition(cur, ev)
		decision = d
		return next, d.Changed(), nil
	})
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			err = calls.E(calls.KindUnknownCallToken, "no call record for token "+ev.Token, nil)
			log.Warn("status event for unknown call token")
		} else {
			log.Error("status event not applied", "err", err)
		}
		e.record(ctx, log, ev, "", Result{Outcome: OutcomeRejected}, err)
		return Result{}, err
	}

	res := Result{Record: rec, Previous: prev, Outcome: decision.Outcome, Merged: decision.Merged, Changed: changed}
	switch res.Outcome {
	case OutcomeAdvanced:
		log.Info("call status advanced", "previous_status", prev, "status", rec.Status, "version", rec.Version)
	default:
		log.Info("call status unchanged", "outcome", res.Outcome, "current_status", rec.Status, "merged", res.Merged)
	}
	e.record(ctx, log, ev, prev, res, nil)
	return res, nil
}

// Apply adapts ApplyEvent to a plain error-returning sink, e.g. the sandbox dialer.
func (e *Engine) Apply(ctx context.Context, ev calls.StatusEvent) error {
	_, err := e.ApplyEvent(ctx, ev)
	return err
}

// RecordRejected logs a provider report that never became a StatusEvent (unknown status
// value, malformed duration). Best-effort.
func (e *Engine) RecordRejected(ctx context.Context, token, rawStatus string, cause error) {
	if e.audit == nil || token == "" {
		return
	}
	err := e.audit.Append(ctx, audit.Event{
		ProviderCallToken: token,
		ReportedStatus:    rawStatus,
		Outcome:           string(OutcomeRejected),
		ErrorKind:         string(calls.KindOf(cause)),
		Message:           calls.Message(cause),
		ReceivedAt:        time.Now().UTC(),
	})
	if err != nil {
		e.log.Warn("audit append failed", "call_sid", token, "err", err)
	}
}

func (e *Engine) record(ctx context.Context, log *slog.Logger, ev calls.StatusEvent, prev calls.Status, res Result, cause error) {
	if e.audit == nil {
		return
	}
	entry := audit.Event{
		ProviderCallToken:  ev.Token,
		ReportedStatus:     string(ev.Status),
		PreviousStatus:     string(prev),
		Outcome:            string(res.Outcome),
		DurationSeconds:    ev.DurationSeconds,
		RecordingReference: ev.RecordingReference,
		ReceivedAt:         ev.ReceivedAt,
	}
	if cause == nil {
		entry.ResultingStatus = string(res.Record.Status)
		if res.Merged {
			entry.Message = "optional fields merged"
		}
	} else {
		entry.ErrorKind = string(calls.KindOf(cause))
		entry.Message = calls.Message(cause)
	}
	// Audit never blocks reconciliation.
	if err := e.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn("audit append failed", "err", err)
	}
}
