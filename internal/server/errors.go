package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	plantstatedomain "github.com/smallbiznis/plantwatch/internal/plantstate/domain"
	"github.com/smallbiznis/plantwatch/internal/plantstate/liveevents"
	registrydomain "github.com/smallbiznis/plantwatch/internal/registry/domain"
	"github.com/smallbiznis/plantwatch/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrPayloadTooLarge    = errors.New("payload_too_large")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

var (
	internalPayload = errorPayload{Type: "internal_error", Message: "internal server error"}

	// statusRules are matched in order after validation errors.
	statusRules = []struct {
		status  int
		payload errorPayload
		targets []error
	}{
		{
			status:  http.StatusNotFound,
			payload: errorPayload{Type: "not_found", Message: "not found"},
			targets: []error{ErrNotFound, plantstatedomain.ErrStateNotFound, registrydomain.ErrPlantNotFound, gorm.ErrRecordNotFound},
		},
		{
			status:  http.StatusRequestEntityTooLarge,
			payload: errorPayload{Type: "payload_too_large", Message: "payload too large"},
			targets: []error{ErrPayloadTooLarge},
		},
		{
			status:  http.StatusServiceUnavailable,
			payload: errorPayload{Type: "service_unavailable", Message: "service unavailable"},
			targets: []error{ErrServiceUnavailable, liveevents.ErrHubUnavailable},
		},
	}
)

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalPayload
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, validationPayload(vErr.Errors)
	}
	if code, ok := validationCode(err); ok {
		return http.StatusBadRequest, validationPayload([]ValidationError{{
			Field:   validationField(code),
			Code:    code,
			Message: validationMessage(code),
		}})
	}

	for _, rule := range statusRules {
		for _, target := range rule.targets {
			if errors.Is(err, target) {
				return rule.status, rule.payload
			}
		}
	}
	return http.StatusInternalServerError, internalPayload
}

func validationPayload(errs []ValidationError) errorPayload {
	return errorPayload{
		Type:    "validation_error",
		Message: "validation error",
		Errors:  errs,
	}
}

func validationCode(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request", true
	case errors.Is(err, plantstatedomain.ErrInvalidPlant),
		errors.Is(err, liveevents.ErrInvalidPlantID):
		return "invalid_plant", true
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return "invalid_page_token", true
	default:
		return "", false
	}
}

func validationField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	return strings.TrimPrefix(code, "invalid_")
}

func validationMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_page_token":
		return "page token is malformed"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog returns the error type and code the request logger
// attaches to failed requests.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
