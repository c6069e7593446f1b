package identity

import (
	"net/url"
	"strings"
)

// LinkBuilder renders frontend links that carry verification tokens
type LinkBuilder struct {
	base string
}

func NewLinkBuilder(frontendURL string) LinkBuilder {
	return LinkBuilder{base: strings.TrimRight(frontendURL, "/")}
}

func (l LinkBuilder) EmailVerification(token string) string {
	return l.base + "/verify-email?token=" + url.QueryEscape(token)
}

func (l LinkBuilder) PasswordReset(token string) string {
	return l.base + "/reset-password?token=" + url.QueryEscape(token)
}
