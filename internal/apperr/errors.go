package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("invalid token")
	ErrMissingCredential  = errors.New("missing credential")
	ErrExpired            = errors.New("token expired")
	ErrRangeUnsatisfiable = errors.New("range not satisfiable")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockUnavailable    = errors.New("lock unavailable")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrForbidden          = errors.New("forbidden")
)

// Status maps an error onto its HTTP status and a stable body code.
// Unknown errors are treated as store failures: the caller may retry.
func Status(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrMissingCredential):
		return http.StatusUnauthorized, "missing_token"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, "invalid_token"
	case errors.Is(err, ErrExpired):
		return http.StatusForbidden, "token_expired"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrRangeUnsatisfiable):
		return http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ErrLockUnavailable):
		return http.StatusServiceUnavailable, "temporarily_unavailable"
	default:
		return http.StatusServiceUnavailable, "temporarily_unavailable"
	}
}

// Retryable reports whether the client should retry the same request later.
func Retryable(err error) bool {
	status, _ := Status(err)
	return status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests
}
