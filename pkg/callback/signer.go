// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package callback implements the signed-callback protocol forming the trust
// boundary between the OTP bridge and the host authorization server.
package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	bridgeerrors "github.com/stacklok/otpbridge/pkg/errors"
)

// DefaultMaxAge is the accepted age window for callback timestamps, covering
// both staleness and forged future timestamps.
const DefaultMaxAge = 300 * time.Second

// CallbackPath is the path the signed URL points at on the host AS.
const CallbackPath = "/magic-callback"

// Params are the fields covered by the callback signature.
type Params struct {
	// RequestURI is the pending-authorization-request identifier.
	RequestURI string
	// Email is the verified address.
	Email string
	// Approved reports whether the user completed verification.
	Approved bool
	// NewAccount marks a first-ever verification for the email.
	NewAccount bool
	// Timestamp is the unix time the callback was signed.
	Timestamp int64
}

// Signer signs and verifies callback parameter sets with a shared HMAC secret.
type Signer struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// Option configures a Signer instance.
type Option func(*Signer)

// WithMaxAge overrides the accepted timestamp window.
func WithMaxAge(maxAge time.Duration) Option {
	return func(s *Signer) {
		s.maxAge = maxAge
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner creates a new Signer with the given shared secret.
func NewSigner(secret []byte, opts ...Option) *Signer {
	s := &Signer{
		secret: secret,
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sign computes the hex-encoded HMAC-SHA256 over the canonical concatenation
// of the params.
func (s *Signer) Sign(params Params) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(canonical(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the timestamp window first, then the signature. The signature
// comparison is constant-time; a signature of a different length is an
// immediate mismatch.
func (s *Signer) Verify(params Params, signature string) error {
	age := s.now().Unix() - params.Timestamp
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > s.maxAge {
		return bridgeerrors.NewCallbackExpiredError("callback timestamp outside accepted window", nil)
	}

	expected := s.Sign(params)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return bridgeerrors.NewInvalidSignatureError("callback signature mismatch", nil)
	}

	return nil
}

// BuildCallbackURL serializes the params and their signature as query
// parameters on {baseURL}/magic-callback.
func (s *Signer) BuildCallbackURL(baseURL string, params Params) string {
	q := url.Values{}
	q.Set("request_uri", params.RequestURI)
	q.Set("email", params.Email)
	q.Set("approved", strconv.FormatBool(params.Approved))
	q.Set("new_account", strconv.FormatBool(params.NewAccount))
	q.Set("timestamp", strconv.FormatInt(params.Timestamp, 10))
	q.Set("sig", s.Sign(params))

	return strings.TrimSuffix(baseURL, "/") + CallbackPath + "?" + q.Encode()
}

// ParseCallbackURL is the inverse of BuildCallbackURL. Missing fields default
// to empty, false, or zero; deciding validity is Verify's job.
func ParseCallbackURL(rawURL string) (Params, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Params{}, "", fmt.Errorf("parsing callback URL: %w", err)
	}

	return ParseQuery(u.Query())
}

// ParseQuery extracts callback params and the detached signature from query
// values, defaulting any missing field.
func ParseQuery(q url.Values) (Params, string, error) {
	timestamp, _ := strconv.ParseInt(q.Get("timestamp"), 10, 64)

	params := Params{
		RequestURI: q.Get("request_uri"),
		Email:      q.Get("email"),
		Approved:   q.Get("approved") == "true",
		NewAccount: q.Get("new_account") == "true",
		Timestamp:  timestamp,
	}

	return params, q.Get("sig"), nil
}

// canonical joins the signed fields in fixed order with pipes, booleans as
// literal true/false.
func canonical(params Params) string {
	return strings.Join([]string{
		params.RequestURI,
		params.Email,
		strconv.FormatBool(params.Approved),
		strconv.FormatBool(params.NewAccount),
		strconv.FormatInt(params.Timestamp, 10),
	}, "|")
}
