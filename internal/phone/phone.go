// Package phone reduces raw phone strings to the suffixes used for fuzzy payment matching.
package phone

import "strings"

const (
	suffixLength   = 9
	fallbackLength = 8
	// MatchKeyLength is the tail length compared against stored phones and messages.
	MatchKeyLength = 8
)

// Digits strips every non-digit rune.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize returns the last 9 digits of raw, the last 8 when only 8 exist,
// or every digit when fewer are present.
func Normalize(raw string) string {
	digits := Digits(raw)
	switch {
	case len(digits) >= suffixLength:
		return digits[len(digits)-suffixLength:]
	case len(digits) >= fallbackLength:
		return digits[len(digits)-fallbackLength:]
	default:
		return digits
	}
}

// MatchKey returns the tail of a normalized suffix used for containment matching,
// so that a 9-digit suffix carrying a country-code digit still finds numbers
// stored in their 8-digit local form.
func MatchKey(suffix string) string {
	digits := Digits(suffix)
	if len(digits) > MatchKeyLength {
		return digits[len(digits)-MatchKeyLength:]
	}
	return digits
}

// Matchable reports whether a suffix carries enough digits to be selective.
func Matchable(suffix string) bool {
	return len(Digits(suffix)) >= MatchKeyLength
}
