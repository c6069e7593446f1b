package httpapi

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	identity "github.com/goliatone/go-identity"
)

var (
	usernamePattern = regexp.MustCompile(`^[^\s<>]+$`)
	namePattern     = regexp.MustCompile(`^[^<>]*$`)
)

type validatable interface {
	Validate() error
}

// RegisterRequest payload
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 64),
			validation.Match(usernamePattern).Error("must not contain whitespace or markup")),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.FirstName, validation.Length(0, 100),
			validation.Match(namePattern).Error("must not contain markup")),
		validation.Field(&r.LastName, validation.Length(0, 100),
			validation.Match(namePattern).Error("must not contain markup")),
	)
}

func (r RegisterRequest) message() identity.RegisterUserMessage {
	return identity.RegisterUserMessage{
		Username:  r.Username,
		Email:     r.Email,
		Password:  r.Password,
		FirstName: r.FirstName,
		LastName:  r.LastName,
	}
}

// LoginRequest payload
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// RefreshRequest is used by refresh and logout
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// EmailRequest is used by resend verification and password reset
type EmailRequest struct {
	Email string `json:"email"`
}

func (r EmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 128)),
	)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 128)),
	)
}

type ChangeEmailRequest struct {
	NewEmail string `json:"new_email"`
}

func (r ChangeEmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.NewEmail, validation.Required, is.Email),
	)
}

// CreateUserRequest is the administrative user creation payload. An empty
// role list is rejected by the domain with EMPTY_ROLE_SET.
type CreateUserRequest struct {
	ID     string   `json:"id"`
	Active bool     `json:"active"`
	Roles  []string `json:"roles"`
}

func (r CreateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required, is.UUID),
	)
}

type ReplaceRolesRequest struct {
	Roles []string `json:"roles"`
}

func (r ReplaceRolesRequest) Validate() error {
	return nil
}

type CreateMappingRequest struct {
	Role       string `json:"role"`
	Permission string `json:"permission"`
}

func (r CreateMappingRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Role, validation.Required),
		validation.Field(&r.Permission, validation.Required),
	)
}

// invalidRequest turns ozzo field errors into ErrInvalidRequest.
func invalidRequest(err error) error {
	fields := map[string]any{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	} else {
		fields["body"] = err.Error()
	}
	return identity.WithCause(identity.ErrInvalidRequest, err, map[string]any{
		"fields": fields,
	})
}
