package calls

import (
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
	}{
		{"queued", StatusQueued},
		{"Ringing", StatusRinging},
		{" in-progress ", StatusInProgress},
		{"in_progress", StatusInProgress},
		{"completed", StatusCompleted},
		{"FAILED", StatusFailed},
		{"busy", StatusBusy},
		{"no-answer", StatusNoAnswer},
		{"no_answer", StatusNoAnswer},
	}
	for _, tc := range tests {
		got, err := ParseStatus(tc.raw)
		if err != nil {
			t.Fatalf("ParseStatus(%q): unexpected err %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseStatus(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseStatus_RejectsValuesOutsideClosedSet(t *testing.T) {
	for _, raw := range []string{"", "initiated", "canceled", "answered", "done"} {
		_, err := ParseStatus(raw)
		if !errors.Is(err, ErrUnknownStatusValue) {
			t.Fatalf("ParseStatus(%q): expected ErrUnknownStatusValue, got %v", raw, err)
		}
		if KindOf(err) != KindUnknownStatusValue {
			t.Fatalf("expected kind %q, got %q", KindUnknownStatusValue, KindOf(err))
		}
	}
}

func TestStatusOrdering(t *testing.T) {
	if !(StatusQueued.Rank() < StatusRinging.Rank() && StatusRinging.Rank() < StatusInProgress.Rank()) {
		t.Fatalf("non-terminal statuses out of order")
	}
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if s.Rank() <= StatusInProgress.Rank() {
			t.Fatalf("%s should rank above in-progress", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRinging, StatusInProgress} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	if Status("bogus").Valid() {
		t.Fatalf("unknown status must be invalid")
	}
}
