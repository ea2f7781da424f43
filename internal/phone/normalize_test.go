package phone

import (
	"errors"
	"testing"

	"callsync/internal/calls"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"digits only", "5551234567", "+15551234567", false},
		{"formatted", "(555) 123-4567", "+15551234567", false},
		{"dots and spaces", " 555.123.4567 ", "+15551234567", false},
		{"letters ignored", "tel:555-123-4567x", "+15551234567", false},
		{"already canonical", "+15551234567", "+15551234567", false},
		{"too short", "555123456", "", true},
		{"too long", "55512345678", "", true},
		{"eleven digits without plus", "15551234567", "", true},
		{"formatted canonical", "+1 (555) 123-4567", "+15551234567", false},
		{"formatted eleven digits without plus", "1 (555) 123-4567", "", true},
		{"foreign country code", "+445551234567", "", true},
		{"empty", "", "", true},
		{"no digits", "call me", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.in)
			if tc.wantErr {
				if !errors.Is(err, calls.ErrInvalidNumberFormat) {
					t.Fatalf("expected ErrInvalidNumberFormat, got %v (%q)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestNormalize_IdempotentAcrossFormattings(t *testing.T) {
	inputs := []string{"5551234567", "555-123-4567", "(555)1234567", "555 123 4567"}
	for _, in := range inputs {
		first, err := Normalize(in)
		if err != nil {
			t.Fatalf("normalize %q: %v", in, err)
		}
		second, err := Normalize(first)
		if err != nil {
			t.Fatalf("re-normalize %q: %v", first, err)
		}
		if first != "+15551234567" || second != first {
			t.Fatalf("expected stable canonical form, got %q then %q", first, second)
		}
		if !IsCanonical(first) {
			t.Fatalf("%q should be canonical", first)
		}
	}
}

func TestIsCanonical(t *testing.T) {
	for in, want := range map[string]bool{
		"+15551234567":  true,
		"15551234567":   false,
		"+1555123456":   false,
		"+1555123456a":  false,
		"+25551234567":  false,
		"+155512345678": false,
	} {
		if got := IsCanonical(in); got != want {
			t.Fatalf("IsCanonical(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestDisplay(t *testing.T) {
	if got := Display("+12025550143"); got != "(202) 555-0143" {
		t.Fatalf("unexpected national format %q", got)
	}
	if got := Display("not a number"); got != "not a number" {
		t.Fatalf("unparseable input must pass through, got %q", got)
	}
}
