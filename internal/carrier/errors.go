package carrier

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports a network-level failure after every retry
// attempt was exhausted. When a proxy was in play the underlying error
// text is withheld so proxy credentials never leak into user-facing
// messages.
type TransportError struct {
	Attempts int
	Proxied  bool
	Err      error
}

func (e *TransportError) Error() string {
	if e.Proxied {
		return fmt.Sprintf("carrier request failed after %d attempts (proxied)", e.Attempts)
	}
	return fmt.Sprintf("carrier request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response from the carrier. The gateway
// never retries these; callers classify the status themselves.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("carrier returned status %d", e.Status)
}

// IsAuthError reports whether err is a 401 or 403 status error, the
// upstream's way of signalling an expired or rejected access token.
func IsAuthError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden
}
