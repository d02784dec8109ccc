// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the error taxonomy shared by the OTP bridge components.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrValidation is returned when request input is malformed
	ErrValidation = "validation"

	// ErrCSRF is returned when the CSRF header does not match the cookie
	ErrCSRF = "csrf"

	// ErrRateLimited is returned when an action exceeds its rate limit
	ErrRateLimited = "rate_limited"

	// ErrInvalidCode is returned when an OTP code does not match
	ErrInvalidCode = "invalid_code"

	// ErrTooManyAttempts is returned when an OTP token's attempt cap is reached
	ErrTooManyAttempts = "too_many_attempts"

	// ErrNoValidCode is returned when no active OTP token exists for an email
	ErrNoValidCode = "no_valid_code"

	// ErrInvalidSignature is returned when a callback signature does not verify
	ErrInvalidSignature = "invalid_signature"

	// ErrCallbackExpired is returned when a callback timestamp is outside the allowed window
	ErrCallbackExpired = "callback_expired"

	// ErrAccountNotFound is returned when an email cannot be resolved to an account
	ErrAccountNotFound = "account_not_found"

	// ErrUpstreamUnavailable is returned when a host AS capability or the mailer fails
	ErrUpstreamUnavailable = "upstream_unavailable"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *Error {
	return NewError(ErrValidation, message, cause)
}

// NewCSRFError creates a new CSRF error
func NewCSRFError(message string, cause error) *Error {
	return NewError(ErrCSRF, message, cause)
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string, cause error) *Error {
	return NewError(ErrRateLimited, message, cause)
}

// NewInvalidCodeError creates a new invalid code error
func NewInvalidCodeError(message string, cause error) *Error {
	return NewError(ErrInvalidCode, message, cause)
}

// NewTooManyAttemptsError creates a new too many attempts error
func NewTooManyAttemptsError(message string, cause error) *Error {
	return NewError(ErrTooManyAttempts, message, cause)
}

// NewNoValidCodeError creates a new no valid code error
func NewNoValidCodeError(message string, cause error) *Error {
	return NewError(ErrNoValidCode, message, cause)
}

// NewInvalidSignatureError creates a new invalid signature error
func NewInvalidSignatureError(message string, cause error) *Error {
	return NewError(ErrInvalidSignature, message, cause)
}

// NewCallbackExpiredError creates a new callback expired error
func NewCallbackExpiredError(message string, cause error) *Error {
	return NewError(ErrCallbackExpired, message, cause)
}

// NewAccountNotFoundError creates a new account not found error
func NewAccountNotFoundError(message string, cause error) *Error {
	return NewError(ErrAccountNotFound, message, cause)
}

// NewUpstreamUnavailableError creates a new upstream unavailable error
func NewUpstreamUnavailableError(message string, cause error) *Error {
	return NewError(ErrUpstreamUnavailable, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// isType checks whether err is an *Error of the given type anywhere in its chain.
func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return isType(err, ErrValidation)
}

// IsCSRF checks if the error is a CSRF error
func IsCSRF(err error) bool {
	return isType(err, ErrCSRF)
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return isType(err, ErrRateLimited)
}

// IsInvalidCode checks if the error is an invalid code error
func IsInvalidCode(err error) bool {
	return isType(err, ErrInvalidCode)
}

// IsTooManyAttempts checks if the error is a too many attempts error
func IsTooManyAttempts(err error) bool {
	return isType(err, ErrTooManyAttempts)
}

// IsNoValidCode checks if the error is a no valid code error
func IsNoValidCode(err error) bool {
	return isType(err, ErrNoValidCode)
}

// IsInvalidSignature checks if the error is an invalid signature error
func IsInvalidSignature(err error) bool {
	return isType(err, ErrInvalidSignature)
}

// IsCallbackExpired checks if the error is a callback expired error
func IsCallbackExpired(err error) bool {
	return isType(err, ErrCallbackExpired)
}

// IsAccountNotFound checks if the error is an account not found error
func IsAccountNotFound(err error) bool {
	return isType(err, ErrAccountNotFound)
}

// IsUpstreamUnavailable checks if the error is an upstream unavailable error
func IsUpstreamUnavailable(err error) bool {
	return isType(err, ErrUpstreamUnavailable)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return isType(err, ErrInternal)
}
