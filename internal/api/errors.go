package api

import (
	"errors"
	"net/http"

	"subscription-api/internal/subscription"
)

// statusFor maps the lifecycle error taxonomy to HTTP status codes on user paths.
func statusFor(err error) int {
	switch {
	case errors.Is(err, subscription.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, subscription.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, subscription.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, subscription.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, subscription.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, subscription.ErrReconciliation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// messageFor hides internal detail on 5xx.
func messageFor(err error, status int) string {
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		return "Internal error"
	}
	return err.Error()
}
