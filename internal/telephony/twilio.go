package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTwilioBaseURL = "https://api.twilio.com"
	twilioAPIVersion     = "2010-04-01"
	maxTwilioBody        = 1 << 20
)

// TwilioConfig holds credentials and call defaults for the Twilio REST adapter.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// BaseURL is overridable for tests; defaults to DefaultTwilioBaseURL.
	BaseURL string

	// StatusCallbackURL receives CallStatus webhooks for every placed call.
	StatusCallbackURL string

	Record bool

	// Outbound leg: StreamURL wins over Greeting.
	StreamURL string
	Greeting  string

	HTTPClient *http.Client
}

// TwilioProvider places calls through the Twilio REST API without the Twilio SDK.
type TwilioProvider struct {
	cfg    TwilioConfig
	client *http.Client
	now    func() time.Time
}

func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TwilioProvider{cfg: cfg, client: client, now: time.Now}
}

func (p *TwilioProvider) Name() string { return "twilio" }

// HealthCheck fetches the account resource, the cheapest authenticated call.
func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.accountURL()+".json", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: twilio health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return p.apiError(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxTwilioBody))
	return nil
}

type twilioCallResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, in OutboundCallRequest) (OutboundCallResult, error) {
	if strings.TrimSpace(in.To) == "" {
		return OutboundCallResult{}, errors.New("telephony: destination number is required")
	}

	twiml, err := RenderOutboundTwiML(OutboundLeg{StreamURL: p.cfg.StreamURL, Greeting: p.cfg.Greeting})
	if err != nil {
		return OutboundCallResult{}, err
	}

	form := url.Values{}
	form.Set("To", in.To)
	form.Set("From", p.cfg.FromNumber)
	form.Set("Twiml", twiml)
	callback := in.StatusCallbackURL
	if callback == "" {
		callback = p.cfg.StatusCallbackURL
	}
	if callback != "" {
		form.Set("StatusCallback", callback)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if p.cfg.Record {
		form.Set("Record", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.accountURL()+"/Calls.json", strings.NewReader(form.Encode()))
	if err != nil {
		return OutboundCallResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return OutboundCallResult{}, fmt.Errorf("telephony: twilio create call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return OutboundCallResult{}, p.apiError(resp)
	}

	var out twilioCallResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTwilioBody)).Decode(&out); err != nil {
		return OutboundCallResult{}, fmt.Errorf("telephony: decode twilio call: %w", err)
	}
	if strings.TrimSpace(out.SID) == "" {
		return OutboundCallResult{}, errors.New("telephony: twilio accepted call without sid")
	}
	return OutboundCallResult{
		ProviderCallToken: out.SID,
		ProviderStatus:    out.Status,
		AcceptedAt:        p.now().UTC(),
	}, nil
}

func (p *TwilioProvider) accountURL() string {
	return p.cfg.BaseURL + "/" + twilioAPIVersion + "/Accounts/" + url.PathEscape(p.cfg.AccountSID)
}

func (p *TwilioProvider) apiError(resp *http.Response) error {
	apiErr := &APIError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body twilioErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTwilioBody)).Decode(&body); err == nil {
		apiErr.Code = body.Code
		if body.Message != "" {
			apiErr.Message = body.Message
		}
	}
	return apiErr
}
