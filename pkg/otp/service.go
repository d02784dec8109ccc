// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package otp implements one-time-password issuance and verification.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	bridgeerrors "github.com/stacklok/otpbridge/pkg/errors"
	"github.com/stacklok/otpbridge/pkg/storage"
)

const (
	// DefaultTTL is how long an issued code stays valid.
	DefaultTTL = 15 * time.Minute

	// DefaultMaxAttempts is the verification attempt cap per token.
	DefaultMaxAttempts = 5

	// Codes are 8-digit decimal values in [10000000, 99999999], so there is
	// no zero-padding ambiguity.
	codeMin   = 10000000
	codeRange = 90000000
)

// Service generates and verifies one-time codes backed by an OTPStore.
type Service struct {
	store       storage.OTPStore
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

// Option configures a Service instance.
type Option func(*Service)

// WithTTL overrides the code lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithMaxAttempts overrides the verification attempt cap.
func WithMaxAttempts(max int) Option {
	return func(s *Service) {
		s.maxAttempts = max
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new OTP service.
func NewService(store storage.OTPStore, opts ...Option) *Service {
	s := &Service{
		store:       store,
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Generate issues a fresh code for the email, invalidating any previously
// active token for the same address. It returns the raw code for delivery
// and the expiry of the stored token. Only the SHA-256 of the code is stored.
func (s *Service) Generate(ctx context.Context, email string) (string, time.Time, error) {
	code, err := randomCode()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generating code: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)

	token := storage.OTPToken{
		Email:       email,
		CodeHash:    hashCode(code),
		MaxAttempts: s.maxAttempts,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}

	if err := s.store.Insert(ctx, token); err != nil {
		return "", time.Time{}, fmt.Errorf("storing token: %w", err)
	}

	return code, expiresAt, nil
}

// Verify checks the code against the most recent active token for the email.
//
// The attempt counter is incremented before the code is compared, and the
// attempt that reaches the cap is rejected outright, so a correct guess on
// the final attempt still fails. A successful verification consumes the
// token; a plain mismatch leaves it active for further attempts.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	token, err := s.store.GetActive(ctx, email, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		return bridgeerrors.NewNoValidCodeError("no active code for email", nil)
	}
	if err != nil {
		return fmt.Errorf("loading active token: %w", err)
	}

	attempts, err := s.store.IncrementAttempts(ctx, token.ID)
	if err != nil {
		return fmt.Errorf("incrementing attempts: %w", err)
	}

	if attempts >= token.MaxAttempts {
		if err := s.store.MarkUsed(ctx, token.ID); err != nil {
			return fmt.Errorf("burning exhausted token: %w", err)
		}
		return bridgeerrors.NewTooManyAttemptsError("attempt limit reached", nil)
	}

	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(token.CodeHash)) != 1 {
		return bridgeerrors.NewInvalidCodeError("code does not match", nil)
	}

	if err := s.store.MarkUsed(ctx, token.ID); err != nil {
		return fmt.Errorf("consuming token: %w", err)
	}

	return nil
}

// CleanupExpired deletes expired and used tokens, returning the number removed.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

// randomCode draws a uniform random 8-digit decimal code.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(codeMin+n.Int64(), 10), nil
}

// hashCode returns the hex-encoded SHA-256 of the code.
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
