// Package httpapi is the HTTP boundary: call initiation, provider webhooks, record reads and
// the change stream.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"callsync/internal/audit"
	"callsync/internal/calls"
	"callsync/internal/feed"
	"callsync/internal/phone"
	"callsync/internal/reconcile"
	"callsync/internal/reporting"
	"callsync/internal/telephony"
	"callsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type CallInitiator interface {
	InitiateCall(ctx context.Context, raw string) (calls.CallRecord, error)
}

type CallReader interface {
	Get(ctx context.Context, token string) (calls.CallRecord, error)
	ListAll(ctx context.Context) ([]calls.CallRecord, error)
}

type StatusReconciler interface {
	ApplyEvent(ctx context.Context, ev calls.StatusEvent) (reconcile.Result, error)
	RecordRejected(ctx context.Context, token, rawStatus string, cause error)
}

type EventLister interface {
	List(ctx context.Context, token string) ([]audit.Event, error)
}

type SummaryReporter interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Gateway    CallInitiator
	Calls      CallReader
	Reconciler StatusReconciler
	Events     EventLister
	Reports    SummaryReporter
	Feed       *feed.Hub

	// Redelivery is optional; without it events for unknown tokens answer 404.
	Redelivery reconcile.Scheduler

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration

	Now      func() time.Time
	Validate *validator.Validate
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h Handlers) validator() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	return defaultValidator
}

var defaultValidator = validator.New(validator.WithRequiredStructEnabled())

// --- Calls ---

type makeCallRequest struct {
	ToPhoneNumber string `json:"to_phone_number" validate:"required"`
}

func (h Handlers) MakeCall(c *gin.Context) {
	var req makeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, calls.KindInvalidNumberFormat, "invalid json")
		return
	}
	if err := h.validator().Struct(req); err != nil {
		badRequest(c, calls.KindInvalidNumberFormat, "to_phone_number required")
		return
	}

	rec, err := h.Gateway.InitiateCall(c.Request.Context(), req.ToPhoneNumber)
	if err != nil && !(errors.Is(err, calls.ErrDuplicateToken) && rec.ProviderCallToken != "") {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "call_sid": rec.ProviderCallToken, "call": decorate(rec)})
}

func (h Handlers) ListCalls(c *gin.Context) {
	recs, err := h.Calls.ListAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]calls.CallRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, decorate(r))
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func (h Handlers) GetCall(c *gin.Context) {
	rec, err := h.Calls.Get(c.Request.Context(), c.Param("sid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decorate(rec))
}

func (h Handlers) ListCallEvents(c *gin.Context) {
	if h.Events == nil {
		c.JSON(http.StatusOK, gin.H{"events": []audit.Event{}})
		return
	}
	events, err := h.Events.List(c.Request.Context(), c.Param("sid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h Handlers) Stats(c *gin.Context) {
	var req reporting.CallsSummaryRequest
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &req.Range.From}, {"to", &req.Range.To}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "invalid_request", p.name+" must be RFC3339")
			return
		}
		*p.dst = t
	}

	summary, err := h.Reports.CallsSummary(c.Request.Context(), req)
	if errors.Is(err, reporting.ErrInvalidRequest) {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// --- Provider status reports ---

// TwilioStatusCallback handles form-encoded Twilio status callbacks.
func (h Handlers) TwilioStatusCallback(c *gin.Context) {
	form, err := telephony.ParseTwilioStatusCallback(c.Request)
	if err != nil {
		badRequest(c, calls.KindInvalidEvent, "invalid form")
		return
	}
	ev, err := form.ToStatusEvent(h.now())
	if err != nil {
		h.reject(c, form.CallSid, form.CallStatus, err)
		return
	}
	h.applyEvent(c, ev)
}

type callStatusRequest struct {
	CallSID      string `json:"call_sid" validate:"required"`
	Status       string `json:"status" validate:"required"`
	Duration     *int   `json:"duration" validate:"omitempty,gte=0"`
	RecordingURL string `json:"recording_url" validate:"omitempty,url"`
}

// CallStatus accepts provider-agnostic JSON status reports.
func (h Handlers) CallStatus(c *gin.Context) {
	var req callStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, calls.KindInvalidEvent, "invalid json")
		return
	}
	if err := h.validator().Struct(req); err != nil {
		h.reject(c, req.CallSID, req.Status, calls.E(calls.KindInvalidEvent, "call_sid and status required; duration must be non-negative", err))
		return
	}
	ev, err := calls.NewStatusEvent(req.CallSID, req.Status, req.Duration, req.RecordingURL, h.now())
	if err != nil {
		h.reject(c, req.CallSID, req.Status, err)
		return
	}
	h.applyEvent(c, ev)
}

func (h Handlers) reject(c *gin.Context, token, rawStatus string, err error) {
	logger.FromGin(c).Warn("status report rejected", "call_sid", token, "reported_status", rawStatus, "err", err)
	h.Reconciler.RecordRejected(c.Request.Context(), strings.TrimSpace(token), rawStatus, err)
	writeError(c, err)
}

func (h Handlers) applyEvent(c *gin.Context, ev calls.StatusEvent) {
	ctx := c.Request.Context()
	res, err := h.Reconciler.ApplyEvent(ctx, ev)
	if errors.Is(err, calls.ErrUnknownCallToken) && h.Redelivery != nil {
		// The webhook may have won the race against the initiating insert.
		if serr := h.Redelivery.ScheduleRedelivery(context.WithoutCancel(ctx), ev); serr != nil {
			logger.FromGin(c).Error("redelivery schedule failed", "call_sid", ev.Token, "err", serr)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"error": calls.Message(err), "kind": calls.KindUnknownCallToken, "redelivery": "scheduled"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   res.Record.Status,
		"outcome":  res.Outcome,
		"merged":   res.Merged,
		"changed":  res.Changed,
		"version":  res.Record.Version,
		"call_sid": res.Record.ProviderCallToken,
	})
}

func decorate(rec calls.CallRecord) calls.CallRecord {
	rec.DisplayNumber = phone.Display(rec.DialedNumber)
	return rec
}
