// Package normalize produces canonical comparison keys for person
// identifiers. All matching and clustering equality runs over these keys,
// never over raw input.
package normalize

import "strings"

// Email canonicalizes an email address for comparison: trimmed and
// lower-cased. Empty input stays empty.
func Email(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Phone canonicalizes a phone number for comparison: digits only, with the
// leading 1 stripped from 11-digit US numbers. Anything else is kept as its
// digit sequence; validation is the caller's concern.
func Phone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// Name canonicalizes a name component for case-insensitive equality.
func Name(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
