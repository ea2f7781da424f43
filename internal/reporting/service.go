package reporting

import (
	"context"
	"errors"

	"callsync/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. calls.Repository satisfies it.
//
// IMPORTANT:
// - Reporting is read-only and reads the same source of truth observers reconcile against.
type Repository interface {
	ListAll(ctx context.Context) ([]calls.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListAll(ctx)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: req.Range, ByStatus: make(map[string]int, len(calls.AllStatuses))}
	for _, st := range calls.AllStatuses {
		out.ByStatus[string(st)] = 0
	}

	withDuration := 0
	for _, c := range rows {
		if !req.Range.contains(c.CreatedAt) {
			continue
		}
		out.TotalCalls++
		out.ByStatus[string(c.Status)]++
		if c.DurationSeconds != nil {
			out.TotalDurationSeconds += *c.DurationSeconds
			withDuration++
		}
		if c.RecordingReference != nil {
			out.RecordedCalls++
		}
		if c.Status.IsTerminal() {
			out.TerminalCalls++
		} else {
			out.ActiveCalls++
		}
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusQueued, calls.StatusRinging, calls.StatusInProgress:
			// counted as active
		}
	}
	if withDuration > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / withDuration
	}
	if out.TerminalCalls > 0 {
		out.ConnectionRate = float64(out.CompletedCalls) / float64(out.TerminalCalls)
	}
	return out, nil
}
