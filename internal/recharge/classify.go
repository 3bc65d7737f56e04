package recharge

import (
	"errors"
	"strings"

	"github.com/asiabot/asiabot/internal/carrier"
)

// Outcome tags the business meaning of an upstream recharge response.
// The carrier has no stable error schema; success and failure both
// arrive as HTTP 200 with free-text bodies often enough that keyword
// inspection is the only classification available. Keeping it in one
// function keeps the heuristic testable.
type Outcome int

const (
	// OutcomeAmbiguous is an ack that neither confirms nor denies;
	// only a balance delta can settle it.
	OutcomeAmbiguous Outcome = iota
	// OutcomeSuccess is an explicit success marker.
	OutcomeSuccess
	// OutcomeVoucherInvalid means the voucher is bad or already spent.
	// This aborts the whole rotation: it is not sender-specific.
	OutcomeVoucherInvalid
	// OutcomeRateLimited means this sender is blocked or throttled;
	// the next sender may still work.
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeVoucherInvalid:
		return "voucher_invalid"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "ambiguous"
	}
}

// Classify inspects upstream response or error text and tags it.
func Classify(text string) Outcome {
	msg := strings.ToLower(text)

	for _, marker := range []string{"block", "limit", "exceed", "too many", "429"} {
		if strings.Contains(msg, marker) {
			return OutcomeRateLimited
		}
	}

	if strings.Contains(msg, "voucher") {
		for _, marker := range []string{"invalid", "used", "not found"} {
			if strings.Contains(msg, marker) {
				return OutcomeVoucherInvalid
			}
		}
	}

	if strings.Contains(msg, "success") {
		return OutcomeSuccess
	}

	return OutcomeAmbiguous
}

// classifyError tags a gateway error. A non-2xx response carries the
// upstream body, which is where the carrier actually explains itself,
// so it is classified alongside the error text.
func classifyError(err error) Outcome {
	text := err.Error()
	var se *carrier.StatusError
	if errors.As(err, &se) {
		text += " " + se.Body
	}
	return Classify(text)
}
