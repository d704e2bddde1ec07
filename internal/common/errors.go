// Package common defines shared constants and sentinel errors used across
// the burrow server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound           = errors.New("not found")
	ErrorAlreadyExists      = errors.New("already exists")
	ErrorStorageUnavailable = errors.New("storage unavailable")

	// Delivery errors.
	ErrorTransportFailure = errors.New("transport failure")
	ErrorRelayExhausted   = errors.New("relay attempts exhausted")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Contract violations (missing required fields etc.).
	ErrorValidation = errors.New("validation error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
