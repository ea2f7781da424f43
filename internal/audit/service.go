package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for provider events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// ListByToken returns the events of one call oldest first.
	ListByToken(ctx context.Context, token string) ([]Event, error)
}

// Service logs provider events.
//
// IMPORTANT:
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if strings.TrimSpace(e.ProviderCallToken) == "" {
		return ErrInvalidEvent
	}
	if e.Outcome == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = e.CreatedAt
	}
	return s.repo.Append(ctx, e)
}

// List returns the provider events recorded for token, oldest first.
func (s *Service) List(ctx context.Context, token string) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.ListByToken(ctx, token)
}
