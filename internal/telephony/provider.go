package telephony

import (
	"context"
	"fmt"
	"time"
)

// Provider is the voice provider boundary used by the call initiation gateway.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - PlaceCall either returns a non-empty token for an accepted call or an error; it never
//   returns both.
// - Request/response types stay provider-agnostic.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	PlaceCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error)
}

// OutboundCallRequest asks the provider to dial one number.
type OutboundCallRequest struct {
	// To is the canonical E.164 destination.
	To string `json:"to"`

	// StatusCallbackURL overrides the adapter's default status webhook.
	StatusCallbackURL string `json:"status_callback_url,omitempty"`
}

// OutboundCallResult is the provider's acceptance of a call.
type OutboundCallResult struct {
	// ProviderCallToken is the provider's unique identifier for this call.
	ProviderCallToken string `json:"provider_call_token"`

	// ProviderStatus is the provider's own initial status string, kept for logging.
	ProviderStatus string `json:"provider_status,omitempty"`

	AcceptedAt time.Time `json:"accepted_at"`
}

// APIError is a non-2xx answer from a provider REST API.
type APIError struct {
	Provider   string
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telephony: %s api error %d (code %d): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("telephony: %s api error %d: %s", e.Provider, e.StatusCode, e.Message)
}
