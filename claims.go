package identity

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenPurpose restricts a verification token to a single use
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

func (p TokenPurpose) IsValid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

// VerificationClaims is the signed claim set of a verification token.
// Subject carries the user id.
type VerificationClaims struct {
	jwt.RegisteredClaims
	Email   string       `json:"email"`
	Purpose TokenPurpose `json:"purpose"`
}
