package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidCredentials          = errors.New("invalid credentials")
	ErrInvalidConfig               = errors.New("invalid sync config")
	ErrAuthenticationFailed        = errors.New("authentication failed")
	ErrSessionExpired              = errors.New("session expired")
	ErrSessionExpiredNoCredentials = errors.New("session expired and no login credentials are stored")
	ErrNoWorkingProxies            = errors.New("no working proxies")
	ErrCaptchaSolveFailed          = errors.New("captcha solve failed")
	ErrNetworkTimeout              = errors.New("network timeout")
	ErrTransport                   = errors.New("transport error")
	ErrUnexpectedResponse          = errors.New("unexpected response shape")
	ErrUnknownNetwork              = errors.New("unknown network")
	ErrTokenNotFound               = errors.New("token not found")
	ErrConnectionNotFound          = errors.New("connection not found")
)

// TokenNotFoundError names the scraped token that was missing from a page.
type TokenNotFoundError struct {
	Field string
}

func (e *TokenNotFoundError) Error() string {
	return fmt.Sprintf("token not found: %s", e.Field)
}

func (e *TokenNotFoundError) Is(target error) bool {
	return target == ErrTokenNotFound || target == ErrUnexpectedResponse
}

// HTTPStatusError is a non-success answer from a network endpoint.
type HTTPStatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
}

// ErrorKind maps an error to a stable label for metrics and log fields.
func ErrorKind(err error) string {
	var netErr net.Error
	var statusErr *HTTPStatusError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrSessionExpiredNoCredentials):
		return "session_expired_no_credentials"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, ErrNoWorkingProxies):
		return "no_working_proxies"
	case errors.Is(err, ErrCaptchaSolveFailed):
		return "captcha_solve_failed"
	case errors.Is(err, ErrUnknownNetwork):
		return "unknown_network"
	case errors.Is(err, ErrTokenNotFound):
		return "token_not_found"
	case errors.Is(err, ErrUnexpectedResponse):
		return "unexpected_response_shape"
	case errors.Is(err, ErrNetworkTimeout), errors.Is(err, context.DeadlineExceeded):
		return "network_timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "network_timeout"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("http_%d", statusErr.StatusCode)
	case errors.Is(err, ErrTransport):
		return "transport_error"
	default:
		return "unknown"
	}
}

// IsAuthError reports errors that a fresh login may cure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// IsAuthFailureKind reports ErrorKind labels that count against a
// connection's stored credentials.
func IsAuthFailureKind(kind string) bool {
	switch kind {
	case "authentication_failed", "session_expired", "session_expired_no_credentials", "invalid_credentials":
		return true
	}
	return false
}
