package login

import (
	"net/url"
	"strings"
)

// extractChallengeID pulls the PID query parameter out of the login
// nextUrl. Some app versions return the parameter inside a fragment
// carrying its own ?query (https://x#/page?PID=...), so the fragment is
// checked when the plain query has nothing.
func extractChallengeID(nextURL string) (string, bool) {
	u, err := url.Parse(nextURL)
	if err != nil {
		return "", false
	}

	if pid := u.Query().Get("PID"); pid != "" {
		return pid, true
	}

	if i := strings.Index(u.Fragment, "?"); i >= 0 {
		values, err := url.ParseQuery(u.Fragment[i+1:])
		if err == nil {
			if pid := values.Get("PID"); pid != "" {
				return pid, true
			}
		}
	}

	return "", false
}
