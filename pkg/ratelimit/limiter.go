// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit implements a minute-bucketed sliding-lookback rate limiter.
//
// Counts accumulate in minute-aligned buckets and checks sum every bucket
// inside the lookback window. Fixed minute alignment under-counts slightly at
// window boundaries; this is intentional and kept for predictable storage.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/stacklok/otpbridge/pkg/storage"
)

// Actions distinguishing the bucket families. Buckets are keyed by
// (key, action), so each policy consumes its own quota.
const (
	ActionEmailSendBurst  = "email_send_burst"
	ActionEmailSendHourly = "email_send_hourly"
	ActionIPSend          = "ip_send"
	ActionIPVerify        = "ip_verify"
)

// Policy is a named (action, max, window) triple.
type Policy struct {
	Action string
	Max    int
	Window time.Duration
}

// The four policies gating the OTP flow.
var (
	// EmailBurst bounds short bursts of sends to one address.
	EmailBurst = Policy{Action: ActionEmailSendBurst, Max: 3, Window: 15 * time.Minute}
	// EmailHourly bounds hourly sends to one address.
	EmailHourly = Policy{Action: ActionEmailSendHourly, Max: 5, Window: time.Hour}
	// IPSend bounds sends from one client IP.
	IPSend = Policy{Action: ActionIPSend, Max: 10, Window: 15 * time.Minute}
	// IPVerify bounds verification attempts from one client IP.
	IPVerify = Policy{Action: ActionIPVerify, Max: 20, Window: 15 * time.Minute}
)

// maxWindow is the longest-lived window in use; CleanupOld drops anything older.
const maxWindow = time.Hour

// Result is the outcome of a rate-limit check.
type Result struct {
	// Allowed reports whether the action may proceed.
	Allowed bool
	// RetryAfter is how long the caller should wait before retrying.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Limiter checks and records actions against a RateLimitStore.
type Limiter struct {
	store storage.RateLimitStore
	now   func() time.Time
}

// Option configures a Limiter instance.
type Option func(*Limiter)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a new Limiter.
func NewLimiter(store storage.RateLimitStore, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Check sums the in-window buckets for (key, action) against max. When the
// sum is below max it records the action and allows it; a rejected check
// records nothing, so being throttled never consumes quota.
func (l *Limiter) Check(ctx context.Context, key, action string, max int, window time.Duration) (Result, error) {
	now := l.now()
	since := now.Add(-window)

	total, err := l.store.SumCounts(ctx, key, action, since)
	if err != nil {
		return Result{}, fmt.Errorf("summing buckets: %w", err)
	}

	if total >= max {
		return Result{Allowed: false, RetryAfter: l.retryAfter(ctx, key, action, window, since, now)}, nil
	}

	if err := l.store.Increment(ctx, key, action, now.Truncate(time.Minute)); err != nil {
		return Result{}, fmt.Errorf("recording action: %w", err)
	}

	return Result{Allowed: true}, nil
}

// CheckPolicy runs Check with the policy's parameters.
func (l *Limiter) CheckPolicy(ctx context.Context, key string, p Policy) (Result, error) {
	return l.Check(ctx, key, p.Action, p.Max, p.Window)
}

// CheckSend runs the three send-side gates in order (email burst, email
// hourly, client IP) and returns the first rejection.
func (l *Limiter) CheckSend(ctx context.Context, email, ip string) (Result, error) {
	for _, gate := range []struct {
		key    string
		policy Policy
	}{
		{email, EmailBurst},
		{email, EmailHourly},
		{ip, IPSend},
	} {
		res, err := l.CheckPolicy(ctx, gate.key, gate.policy)
		if err != nil || !res.Allowed {
			return res, err
		}
	}

	return Result{Allowed: true}, nil
}

// CheckVerify runs the verification gate for the client IP.
func (l *Limiter) CheckVerify(ctx context.Context, ip string) (Result, error) {
	return l.CheckPolicy(ctx, ip, IPVerify)
}

// CleanupOld deletes buckets older than the longest configured window,
// returning the number removed.
func (l *Limiter) CleanupOld(ctx context.Context) (int64, error) {
	return l.store.DeleteOlderThan(ctx, l.now().Add(-maxWindow))
}

// retryAfter computes how long until the oldest in-window bucket ages out.
// Without a bucket row to anchor on it falls back to the full window.
func (l *Limiter) retryAfter(ctx context.Context, key, action string, window time.Duration, since, now time.Time) time.Duration {
	oldest, err := l.store.OldestWindowStart(ctx, key, action, since)
	if err != nil {
		return window
	}

	retry := oldest.Add(window).Sub(now)
	if retry < 0 {
		retry = 0
	}

	return retry
}
