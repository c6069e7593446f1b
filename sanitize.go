package identity

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// sanitizeText strips markup from free text profile fields. The policy
// escapes what it keeps, so the result is unescaped again before it reaches
// the identity provider.
func sanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// sanitizeIdentity only trims the login fields, they are sent to the
// identity provider exactly as submitted.
func sanitizeIdentity(req NewIdentity) NewIdentity {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = sanitizeText(req.FirstName)
	req.LastName = sanitizeText(req.LastName)
	return req
}

// ValidUsername reports whether username can be used as a login name:
// non empty, no whitespace or control characters, no markup.
func ValidUsername(username string) bool {
	if username == "" {
		return false
	}
	for _, r := range username {
		if r == '<' || r == '>' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
