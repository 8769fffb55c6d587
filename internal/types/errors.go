package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// ErrorKind classifies failures of the usage fetch path.
type ErrorKind int

const (
	KindUnauthorized ErrorKind = iota + 1
	KindRateLimited
	KindServer
	KindNetwork
	KindInvalidResponse
	KindDecoding
	KindCredentialNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server_error"
	case KindNetwork:
		return "network_error"
	case KindInvalidResponse:
		return "invalid_response"
	case KindDecoding:
		return "decoding_error"
	case KindCredentialNotFound:
		return "credential_not_found"
	default:
		return "unknown"
	}
}

// APIError is the typed error returned by the usage client and published by
// the polling engine.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindServer:
		return fmt.Sprintf("usage API server error (HTTP %d)", e.StatusCode)
	case KindInvalidResponse:
		if e.StatusCode != 0 {
			return fmt.Sprintf("usage API returned unexpected HTTP %d", e.StatusCode)
		}
		return "usage API returned an invalid response"
	case KindNetwork, KindDecoding:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
	}
	if e.Err != nil && e.Kind == KindUnauthorized {
		return fmt.Sprintf("unauthorized: %v", e.Err)
	}
	return e.Kind.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether an automatic retry may be scheduled.
func (e *APIError) IsRetryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServer, KindNetwork:
		return true
	}
	return false
}

// Description is a short user-facing explanation suitable for an error banner.
func (e *APIError) Description() string {
	switch e.Kind {
	case KindUnauthorized:
		if errors.Is(e.Err, ErrCredentialNotFound) {
			return "No Claude Code credentials found, please sign in to Claude Code"
		}
		return "Token is invalid or expired, please sign in to Claude Code again"
	case KindRateLimited:
		return "Too many requests, please try again later"
	case KindServer:
		return fmt.Sprintf("Server error (%d), please try again later", e.StatusCode)
	case KindNetwork:
		var netErr net.Error
		if errors.As(e.Err, &netErr) && netErr.Timeout() || errors.Is(e.Err, context.DeadlineExceeded) {
			return "Connection timed out, check your network connection"
		}
		if errors.Is(e.Err, syscall.ENETUNREACH) || errors.Is(e.Err, syscall.ECONNREFUSED) {
			return "No network connection"
		}
		var dnsErr *net.DNSError
		if errors.As(e.Err, &dnsErr) {
			return "No network connection"
		}
		if e.Err != nil {
			return "Network error: " + e.Err.Error()
		}
		return "Network error"
	case KindInvalidResponse:
		return "Invalid response from server"
	case KindDecoding:
		return "Unexpected data format"
	case KindCredentialNotFound:
		return "No Claude Code credentials found"
	}
	return e.Error()
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsRetryable reports whether err is an APIError that allows a retry.
func IsRetryable(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.IsRetryable()
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in field %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalidConfig
}
