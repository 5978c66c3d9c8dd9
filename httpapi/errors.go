package httpapi

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"

	"github.com/goliatone/go-identity"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	TextCode string `json:"text_code,omitempty"`
	Category string `json:"category"`
}

// ErrorHandler renders errors as ErrorResponse. Internal failures hide
// their message from clients.
func ErrorHandler(logger identity.Logger) fiber.ErrorHandler {
	logger = identity.ResolveLogger("http", nil, logger)

	return func(c *fiber.Ctx, err error) error {
		richErr := toRichError(err)
		status := statusFor(richErr)

		args := []any{
			"error", richErr.Message,
			"category", richErr.Category,
			"text_code", richErr.TextCode,
			"path", c.OriginalURL(),
		}
		if len(richErr.Metadata) > 0 {
			args = append(args, "details", print.MaybePrettyJSON(richErr.Metadata))
		}

		message := richErr.Message
		if status >= http.StatusInternalServerError {
			if richErr.Source != nil {
				args = append(args, "source", richErr.Source.Error())
			}
			logger.Error("request failed", args...)
			message = http.StatusText(status)
		} else {
			logger.Debug("request rejected", args...)
		}

		return c.Status(status).JSON(ErrorResponse{
			Error:    message,
			TextCode: richErr.TextCode,
			Category: string(richErr.Category),
		})
	}
}

func toRichError(err error) *goerrors.Error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		category := goerrors.CategoryBadInput
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			category = goerrors.CategoryNotFound
		case fiber.StatusUnauthorized:
			category = goerrors.CategoryAuth
		case fiber.StatusForbidden:
			category = goerrors.CategoryAuthz
		}
		if fiberErr.Code >= http.StatusInternalServerError {
			category = goerrors.CategoryInternal
		}
		return goerrors.New(fiberErr.Message, category).WithCode(fiberErr.Code)
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
		WithCode(goerrors.CodeInternal)
}

func statusFor(err *goerrors.Error) int {
	if err.Code >= 400 && err.Code < 600 {
		return err.Code
	}

	switch err.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
