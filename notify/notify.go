// Package notify renders account emails with django templates and hands
// them to a Mailer.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/template/django/v3"
	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
)

// Template names, each maps to templates/<name>.django
const (
	TemplateEmailVerification = "email-verification"
	TemplatePasswordReset     = "password-reset"
	TemplateUserRegistered    = "user-registered"
)

var subjects = map[string]string{
	TemplateEmailVerification: "Verify Your Email Address",
	TemplatePasswordReset:     "Reset Your Password",
	TemplateUserRegistered:    "Welcome!",
}

//go:embed templates/*.django
var templateFS embed.FS

// Message is a rendered email ready for delivery.
type Message struct {
	ID       uuid.UUID
	From     string
	To       string
	Subject  string
	Template string
	HTML     string
}

// Mailer delivers rendered messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogMailer writes messages to the logger instead of delivering them.
type LogMailer struct {
	Logger identity.Logger
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = identity.DefaultLogger()
	}
	logger.Info("mail %s to=%s subject=%q template=%s", msg.ID, msg.To, msg.Subject, msg.Template)
	return nil
}

// Service implements identity.Notifier.
type Service struct {
	engine *django.Engine
	mailer Mailer
	from   string
	logger identity.Logger
}

var _ identity.Notifier = (*Service)(nil)

type Option func(*Service)

func WithMailer(m Mailer) Option {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

func WithFrom(from string) Option {
	return func(s *Service) {
		if from != "" {
			s.from = from
		}
	}
}

func WithLogger(logger identity.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New loads the embedded templates. Without a Mailer messages are logged.
func New(opts ...Option) (*Service, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}

	s := &Service{
		engine: django.NewFileSystem(http.FS(sub), ".django"),
		from:   "no-reply@localhost",
		logger: identity.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.mailer == nil {
		s.mailer = LogMailer{Logger: s.logger}
	}

	if err := s.engine.Load(); err != nil {
		return nil, fmt.Errorf("notify: load templates: %w", err)
	}
	return s, nil
}

func (s *Service) SendEmailVerification(ctx context.Context, email, username, link string) error {
	return s.send(ctx, email, TemplateEmailVerification, map[string]any{
		"username":         username,
		"verificationLink": link,
	})
}

func (s *Service) SendPasswordResetEmail(ctx context.Context, email, username, link string) error {
	return s.send(ctx, email, TemplatePasswordReset, map[string]any{
		"username":  username,
		"resetLink": link,
	})
}

func (s *Service) SendWelcomeEmail(ctx context.Context, email, username string) error {
	return s.send(ctx, email, TemplateUserRegistered, map[string]any{
		"username": username,
	})
}

// Render produces the HTML body for template.
func (s *Service) Render(template string, vars map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := s.engine.Render(&buf, template, vars); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", template, err)
	}
	return buf.String(), nil
}

func (s *Service) send(ctx context.Context, email, template string, vars map[string]any) error {
	email = strings.TrimSpace(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return identity.WithMeta(identity.ErrInvalidRecipient, map[string]any{
			"template": template,
			"reason":   err.Error(),
		})
	}

	body, err := s.Render(template, vars)
	if err != nil {
		return err
	}

	msg := Message{
		ID:       uuid.New(),
		From:     s.from,
		To:       email,
		Subject:  subjects[template],
		Template: template,
		HTML:     body,
	}

	s.logger.Info("sending email to %s using template %s", email, template)
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send email to %s: %v", email, err)
		return err
	}
	return nil
}
