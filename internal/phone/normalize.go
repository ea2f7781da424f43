// Package phone validates and canonicalizes dialed numbers.
// It is pure: no I/O and no business state.
package phone

import (
	"strings"

	"callsync/internal/calls"

	"github.com/nyaruka/phonenumbers"
)

const (
	// CountryCode is prepended to every canonical number (NANP).
	CountryCode = "1"
	// DomesticDigits is the digit count of a domestic number.
	DomesticDigits = 10

	displayRegion = "US"
)

// Normalize strips every non-digit character from raw and returns the canonical
// dialable form "+1" followed by the ten domestic digits.
//
// A value that is already canonical ("+1" and ten digits, separators allowed) is returned
// in canonical form so that normalization is idempotent. That is the only eleven-digit input
// accepted; "1 (202) 555-0143" without the plus fails. Anything else that does not leave
// exactly ten digits fails with calls.ErrInvalidNumberFormat.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	digits := digitsOnly(trimmed)

	if strings.HasPrefix(trimmed, "+"+CountryCode) && len(digits) == DomesticDigits+len(CountryCode) {
		return "+" + digits, nil
	}
	if len(digits) != DomesticDigits {
		return "", calls.E(calls.KindInvalidNumberFormat, "phone number must contain exactly 10 digits", nil)
	}
	return "+" + CountryCode + digits, nil
}

// IsCanonical reports whether s is already in the form Normalize produces.
func IsCanonical(s string) bool {
	if !strings.HasPrefix(s, "+"+CountryCode) || len(s) != 1+len(CountryCode)+DomesticDigits {
		return false
	}
	return digitsOnly(s) == s[1:]
}

// Display renders a canonical number in national format for humans, e.g. "(555) 123-4567".
// It never fails: input that the numbering library rejects is returned as-is.
func Display(canonical string) string {
	num, err := phonenumbers.Parse(canonical, displayRegion)
	if err != nil {
		return canonical
	}
	return phonenumbers.Format(num, phonenumbers.NATIONAL)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
