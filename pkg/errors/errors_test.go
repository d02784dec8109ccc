// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrValidation,
				Message: "test message",
				Cause:   errors.New("underlying error"),
			},
			want: "validation: test message: underlying error",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrRateLimited,
				Message: "test message",
				Cause:   nil,
			},
			want: "rate_limited: test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &Error{
		Type:    ErrInternal,
		Message: "test message",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Error.Unwrap() = %v, want %v", got, cause)
	}
}

func TestTypePredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
		want bool
	}{
		{"validation matches", NewValidationError("bad input", nil), IsValidation, true},
		{"csrf matches", NewCSRFError("token mismatch", nil), IsCSRF, true},
		{"rate limited matches", NewRateLimitedError("too many sends", nil), IsRateLimited, true},
		{"invalid code matches", NewInvalidCodeError("wrong code", nil), IsInvalidCode, true},
		{"too many attempts matches", NewTooManyAttemptsError("cap reached", nil), IsTooManyAttempts, true},
		{"no valid code matches", NewNoValidCodeError("nothing active", nil), IsNoValidCode, true},
		{"invalid signature matches", NewInvalidSignatureError("hmac mismatch", nil), IsInvalidSignature, true},
		{"callback expired matches", NewCallbackExpiredError("stale", nil), IsCallbackExpired, true},
		{"account not found matches", NewAccountNotFoundError("unknown email", nil), IsAccountNotFound, true},
		{"upstream unavailable matches", NewUpstreamUnavailableError("mailer down", nil), IsUpstreamUnavailable, true},
		{"internal matches", NewInternalError("boom", nil), IsInternal, true},
		{"different type does not match", NewValidationError("bad input", nil), IsCSRF, false},
		{"plain error does not match", errors.New("plain"), IsValidation, false},
		{"wrapped error matches through chain", fmt.Errorf("outer: %w", NewInvalidCodeError("wrong code", nil)), IsInvalidCode, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.err); got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}
