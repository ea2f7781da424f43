package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// OutboundLeg describes what the callee hears once the call is answered.
type OutboundLeg struct {
	// StreamURL bridges the call to a media stream (wss://...).
	StreamURL string
	// Greeting is spoken when no stream is configured.
	Greeting string
}

// RenderOutboundTwiML renders the instructions executed when the dialed party answers.
func RenderOutboundTwiML(leg OutboundLeg) (string, error) {
	var r twimlResponse

	switch {
	case strings.TrimSpace(leg.StreamURL) != "":
		r.Verbs = append(r.Verbs, twimlConnect{Stream: twimlStream{URL: strings.TrimSpace(leg.StreamURL)}})
	case strings.TrimSpace(leg.Greeting) != "":
		r.Verbs = append(r.Verbs, twimlSay{Text: strings.TrimSpace(leg.Greeting)}, twimlHangup{})
	default:
		return "", errors.New("telephony: outbound leg needs a stream url or a greeting")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
