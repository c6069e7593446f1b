package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-print"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message  string            `json:"message"`
	TextCode string            `json:"text_code,omitempty"`
	Category goerrors.Category `json:"category,omitempty"`
	Fields   map[string]any    `json:"fields,omitempty"`
}

var tokenFailureCodes = []string{
	identity.TextCodeInvalidOrExpiredToken,
	identity.TextCodeTokenExpired,
	identity.TextCodeTokenPurposeMismatch,
	identity.TextCodeTokenMalformed,
}

// ErrorHandler renders any error as the JSON envelope with the status code
// carried by the rich error. Token failures collapse into the single
// invalid or expired token error.
func ErrorHandler(logger identity.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = identity.DefaultLogger()
	}
	return func(c *fiber.Ctx, err error) error {
		rich := toRichError(err)

		if rich.Code >= fiber.StatusInternalServerError {
			logger.Error("%s %s failed: %s", c.Method(), c.Path(), err)
		} else {
			logger.Debug("%s %s rejected: %s %s", c.Method(), c.Path(), rich.TextCode, print.MaybePrettyJSON(rich.Metadata))
		}

		detail := ErrorDetail{
			Message:  rich.Message,
			TextCode: rich.TextCode,
			Category: rich.Category,
		}
		if rich.TextCode == identity.TextCodeInvalidRequest {
			if fields, ok := rich.Metadata["fields"].(map[string]any); ok {
				detail.Fields = fields
			}
		}
		return c.Status(rich.Code).JSON(ErrorBody{Error: detail})
	}
}

func toRichError(err error) *goerrors.Error {
	for _, code := range tokenFailureCodes {
		if identity.HasTextCode(err, code) {
			return identity.ErrInvalidOrExpiredToken.Clone()
		}
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		return rich
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return goerrors.New(fe.Message, categoryForStatus(fe.Code)).WithCode(fe.Code)
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
		WithCode(goerrors.CodeInternal)
}

func categoryForStatus(status int) goerrors.Category {
	switch status {
	case fiber.StatusNotFound:
		return goerrors.CategoryNotFound
	case fiber.StatusUnauthorized:
		return goerrors.CategoryAuth
	case fiber.StatusForbidden:
		return goerrors.CategoryAuthz
	case fiber.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	}
	if status < fiber.StatusInternalServerError {
		return goerrors.CategoryBadInput
	}
	return goerrors.CategoryInternal
}
