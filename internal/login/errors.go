package login

import (
	"errors"
	"fmt"
)

// ErrCookieUnavailable means the login screen yielded no session
// cookie from either the cookie jar or the raw Set-Cookie header. The
// handshake must not proceed without one.
var ErrCookieUnavailable = errors.New("login screen returned no session cookie")

// ErrNoActiveSession means no login conversation is in flight for the
// user, or it already expired.
var ErrNoActiveSession = errors.New("no active login session")

// ErrAccountLimit means the user's plan does not allow attaching
// another account.
var ErrAccountLimit = errors.New("account limit reached for current plan")

// ChallengeExtractionError reports that no PID could be located in the
// login response. The upstream response shape is not formally
// specified, so the raw material is deliberately carried for support
// diagnostics rather than hidden.
type ChallengeExtractionError struct {
	NextURL string
	RawBody string
}

func (e *ChallengeExtractionError) Error() string {
	return fmt.Sprintf("no PID in login response (nextUrl=%q body=%q)", e.NextURL, e.RawBody)
}

// AuthenticationRejected reports an upstream authentication refusal:
// a bad OTP or an expired refresh token. The upstream message is
// carried verbatim when present.
type AuthenticationRejected struct {
	Message string
}

func (e *AuthenticationRejected) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "invalid or expired code"
}
