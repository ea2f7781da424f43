package telephony

import (
	"strings"
	"testing"
)

func TestRenderOutboundTwiMLStream(t *testing.T) {
	xml, err := RenderOutboundTwiML(OutboundLeg{StreamURL: "wss://media.example.com/stream", Greeting: "ignored"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := `<Connect><Stream url="wss://media.example.com/stream"></Stream></Connect>`; !strings.Contains(xml, want) {
		t.Fatalf("expected %q in xml: %s", want, xml)
	}
	if strings.Contains(xml, "<Say") {
		t.Fatalf("stream must take precedence over greeting: %s", xml)
	}
}

func TestRenderOutboundTwiMLGreeting(t *testing.T) {
	xml, err := RenderOutboundTwiML(OutboundLeg{Greeting: "Hello & welcome"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := "<Say>Hello &amp; welcome</Say><Hangup></Hangup>"; !strings.Contains(xml, want) {
		t.Fatalf("expected %q in xml: %s", want, xml)
	}
}

func TestRenderOutboundTwiMLRequiresLeg(t *testing.T) {
	if _, err := RenderOutboundTwiML(OutboundLeg{}); err == nil {
		t.Fatalf("expected error")
	}
}
