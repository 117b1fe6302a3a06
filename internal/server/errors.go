package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	sensordatadomain "github.com/smallbiznis/greenhouse/internal/sensordata/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
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
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrRateLimited     = errors.New("rate_limited")
	ErrPayloadTooLarge = errors.New("payload_too_large")
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

func invalidRequestError(field, message string) error {
	return &invalidRequest{field: field, message: message}
}

type invalidRequest struct {
	field   string
	message string
}

func (e *invalidRequest) Error() string { return e.message }

func (e *invalidRequest) Unwrap() error { return ErrInvalidRequest }

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if dErr, ok := sensordatadomain.AsError(err); ok {
		switch {
		case errors.Is(dErr, sensordatadomain.ErrInvalidInput):
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: dErr.Msg,
				Errors: []ValidationError{
					{
						Field:   dErr.Field,
						Code:    validationErrorCode(dErr.Field),
						Message: dErr.Msg,
					},
				},
			}
		case errors.Is(dErr, sensordatadomain.ErrNotFound):
			return http.StatusNotFound, errorPayload{
				Type:    "not_found",
				Message: dErr.Msg,
			}
		}
	}

	var reqErr *invalidRequest
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: reqErr.message,
			Errors: []ValidationError{
				{
					Field:   reqErr.field,
					Code:    "invalid_request",
					Message: reqErr.message,
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: "invalid request",
		}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "request body exceeds 1 MiB",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func validationErrorCode(field string) string {
	if field == "device_id" {
		return "required"
	}
	return "out_of_range"
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := ""
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if errors.Is(err, sensordatadomain.ErrStorage) {
		code = sensordatadomain.ErrStorage.Error()
	}
	return payload.Type, code
}
