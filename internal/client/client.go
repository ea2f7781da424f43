// Package client talks to the callsync HTTP API: call initiation, record reads and the change
// stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callsync/internal/calls"
	"callsync/internal/reporting"
)

const maxErrorBody = 64 << 10

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. A nil hc uses a client without an overall timeout so
// change streams can stay open.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// APIError is a non-2xx API answer.
type APIError struct {
	StatusCode int
	Kind       calls.Kind
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("callsync api: %d %s: %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("callsync api: %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	e, ok := err.(*APIError)
	return ok && e.StatusCode == http.StatusNotFound
}

type MakeCallResult struct {
	Status  string           `json:"status"`
	CallSID string           `json:"call_sid"`
	Call    calls.CallRecord `json:"call"`
}

func (c *Client) MakeCall(ctx context.Context, number string) (MakeCallResult, error) {
	var out MakeCallResult
	err := c.do(ctx, http.MethodPost, "/api/make-call", map[string]string{"to_phone_number": number}, &out)
	return out, err
}

func (c *Client) ListCalls(ctx context.Context) ([]calls.CallRecord, error) {
	var out struct {
		Calls []calls.CallRecord `json:"calls"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/calls", nil, &out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

func (c *Client) GetCall(ctx context.Context, sid string) (calls.CallRecord, error) {
	var out calls.CallRecord
	err := c.do(ctx, http.MethodGet, "/api/calls/"+url.PathEscape(sid), nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context, from, to time.Time) (reporting.CallsSummary, error) {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(time.RFC3339))
	}
	path := "/api/stats"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out reporting.CallsSummary
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error string     `json:"error"`
		Kind  calls.Kind `json:"kind"`
	}
	if err := json.Unmarshal(b, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(b))
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Kind: body.Kind, Message: body.Error}
}
