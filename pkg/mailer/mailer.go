// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mailer defines the outbound-mail capability used to deliver OTP
// codes. Templating and delivery infrastructure live behind the interface;
// the bridge only depends on SendOTP.
package mailer

import (
	"context"
	"sync"
)

// Mailer delivers a one-time code to an email address.
type Mailer interface {
	// SendOTP sends the code to the address. Callers on the send path
	// swallow and log failures rather than surfacing them, so that
	// deliverability does not leak which addresses exist.
	SendOTP(ctx context.Context, to, code string) error
}

// CaptureMailer is a Mailer for tests that records the last code sent to
// each address instead of delivering anything.
type CaptureMailer struct {
	mu    sync.Mutex
	codes map[string]string
	// Err, when set, is returned by SendOTP after recording the code.
	Err error
}

// NewCaptureMailer creates an empty CaptureMailer.
func NewCaptureMailer() *CaptureMailer {
	return &CaptureMailer{codes: make(map[string]string)}
}

var _ Mailer = (*CaptureMailer)(nil)

// SendOTP records the code for the address.
func (c *CaptureMailer) SendOTP(_ context.Context, to, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[to] = code
	return c.Err
}

// LastCode returns the last code recorded for the address.
func (c *CaptureMailer) LastCode(to string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[to]
}
