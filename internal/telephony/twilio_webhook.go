package telephony

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"callsync/internal/calls"
)

// TwilioStatusForm captures the subset of status callback fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
//
// Keep it minimal and provider-adapter-only.
// Reconciliation decisions are not made here.
type TwilioStatusForm struct {
	CallSid        string
	AccountSid     string
	CallStatus     string
	CallDuration   string
	RecordingUrl   string
	SequenceNumber string
	Timestamp      string
	From           string
	To             string
	Direction      string
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	return TwilioStatusForm{
		CallSid:        strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:     r.PostFormValue("AccountSid"),
		CallStatus:     r.PostFormValue("CallStatus"),
		CallDuration:   strings.TrimSpace(r.PostFormValue("CallDuration")),
		RecordingUrl:   strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		SequenceNumber: r.PostFormValue("SequenceNumber"),
		Timestamp:      r.PostFormValue("Timestamp"),
		From:           strings.TrimSpace(r.PostFormValue("From")),
		To:             strings.TrimSpace(r.PostFormValue("To")),
		Direction:      r.PostFormValue("Direction"),
	}, nil
}

// ToStatusEvent converts the callback to the provider-agnostic event.
// An unparseable CallDuration is an invalid event; an unknown CallStatus is UnknownStatusValue.
func (f TwilioStatusForm) ToStatusEvent(receivedAt time.Time) (calls.StatusEvent, error) {
	var duration *int
	if f.CallDuration != "" {
		n, err := strconv.Atoi(f.CallDuration)
		if err != nil {
			return calls.StatusEvent{}, calls.E(calls.KindInvalidEvent, "CallDuration must be an integer", err)
		}
		duration = &n
	}
	return calls.NewStatusEvent(f.CallSid, f.CallStatus, duration, f.RecordingUrl, receivedAt)
}
