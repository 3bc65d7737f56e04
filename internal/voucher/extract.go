// Package voucher extracts recharge voucher codes from free-form text,
// typically produced by OCR over a scratch-card photo.
package voucher

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNotFound is returned when no voucher code can be located in the text.
var ErrNotFound = errors.New("voucher: no code found")

// Printed codes are exactly 14 or 15 consecutive digits. Shorter runs
// are serial or phone numbers and longer runs are not codes either, so
// the run must be bounded on both sides.
var codePattern = regexp.MustCompile(`\b\d{14,15}\b`)

// The Arabic label printed above the secret code on Asiacell cards.
// OCR frequently misreads the final word, so the common corruption is
// normalized before searching.
const (
	secretMarker    = "الرقم السري"
	corruptedMarker = "الرقم الساري"
)

// Extract locates a 14 or 15 digit voucher code in text.
//
// A direct digit run anywhere in the text wins. Failing that, the text
// is searched for the printed secret-code label and the digits are taken
// from the lines that follow it, which handles OCR output where the code
// is broken across lines or mixed with shorter serial numbers.
func Extract(text string) (string, error) {
	if code := codePattern.FindString(text); code != "" {
		return code, nil
	}

	normalized := strings.ReplaceAll(text, corruptedMarker, secretMarker)
	_, after, found := strings.Cut(normalized, secretMarker)
	if !found {
		return "", ErrNotFound
	}

	lines := strings.Split(after, "\n")
	for i, line := range lines {
		// The label's own line often carries the serial number;
		// the code starts on a following line.
		if i == 0 {
			continue
		}
		digits := onlyDigits(line)
		if len(digits) >= 14 && len(digits) <= 15 {
			return digits, nil
		}
	}
	return "", ErrNotFound
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
