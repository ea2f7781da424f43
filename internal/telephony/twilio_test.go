package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTwilioProvider_PlaceCall(t *testing.T) {
	reqs := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		reqs <- r
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA123","status":"queued"}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{
		AccountSID:        "AC1",
		AuthToken:         "secret",
		FromNumber:        "+15550001111",
		BaseURL:           srv.URL,
		StatusCallbackURL: "https://calls.example.com/webhooks/twilio/status",
		Record:            true,
		Greeting:          "Hello",
	})

	res, err := p.PlaceCall(context.Background(), OutboundCallRequest{To: "+15551234567"})
	if err != nil {
		t.Fatalf("place call: %v", err)
	}
	if res.ProviderCallToken != "CA123" || res.ProviderStatus != "queued" {
		t.Fatalf("unexpected result: %+v", res)
	}

	got := <-reqs
	if got.URL.Path != "/2010-04-01/Accounts/AC1/Calls.json" {
		t.Fatalf("unexpected path %q", got.URL.Path)
	}
	user, pass, ok := got.BasicAuth()
	if !ok || user != "AC1" || pass != "secret" {
		t.Fatalf("expected basic auth with account credentials")
	}
	if got.PostForm.Get("To") != "+15551234567" || got.PostForm.Get("From") != "+15550001111" {
		t.Fatalf("unexpected to/from: %v", got.PostForm)
	}
	if got.PostForm.Get("StatusCallback") != "https://calls.example.com/webhooks/twilio/status" {
		t.Fatalf("missing status callback")
	}
	if evs := got.PostForm["StatusCallbackEvent"]; len(evs) != 3 {
		t.Fatalf("expected 3 callback events, got %v", evs)
	}
	if got.PostForm.Get("Record") != "true" {
		t.Fatalf("expected recording enabled")
	}
	if !strings.Contains(got.PostForm.Get("Twiml"), "<Say>Hello</Say>") {
		t.Fatalf("unexpected twiml %q", got.PostForm.Get("Twiml"))
	}
}

func TestTwilioProvider_PlaceCallAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{AccountSID: "AC1", AuthToken: "x", BaseURL: srv.URL, Greeting: "hi"})
	_, err := p.PlaceCall(context.Background(), OutboundCallRequest{To: "+15551234567"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != 21211 {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestTwilioProvider_PlaceCallMissingSid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{AccountSID: "AC1", AuthToken: "x", BaseURL: srv.URL, Greeting: "hi"})
	if _, err := p.PlaceCall(context.Background(), OutboundCallRequest{To: "+15551234567"}); err == nil {
		t.Fatalf("expected error for acceptance without sid")
	}
}

func TestTwilioProvider_PlaceCallHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{AccountSID: "AC1", AuthToken: "x", BaseURL: srv.URL, Greeting: "hi"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.PlaceCall(ctx, OutboundCallRequest{To: "+15551234567"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTwilioProvider_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC1.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"sid":"AC1","status":"active"}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{AccountSID: "AC1", AuthToken: "x", BaseURL: srv.URL})
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
}
