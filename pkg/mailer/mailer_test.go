// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mailer

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureMailer(t *testing.T) {
	t.Parallel()

	m := NewCaptureMailer()
	require.NoError(t, m.SendOTP(context.Background(), "a@b.com", "12345678"))
	assert.Equal(t, "12345678", m.LastCode("a@b.com"))
	assert.Empty(t, m.LastCode("other@b.com"))

	m.Err = errors.New("smtp down")
	err := m.SendOTP(context.Background(), "a@b.com", "87654321")
	assert.Error(t, err)
	// The code is still recorded so tests can assert on partial failures.
	assert.Equal(t, "87654321", m.LastCode("a@b.com"))
}

func TestDial_ImplicitTLSHonorsContext(t *testing.T) {
	t.Parallel()

	// A listener that accepts and never completes a handshake.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 465, From: "login@example.com"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.dial(ctx, listener.Addr().String())
	assert.Error(t, err)
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()

	msg := buildMessage("Bridge <noreply@example.com>", "a@b.com", "Your sign-in code", "body text")

	assert.Contains(t, msg, "From: Bridge <noreply@example.com>\r\n")
	assert.Contains(t, msg, "To: a@b.com\r\n")
	assert.Contains(t, msg, "Subject: Your sign-in code\r\n")
	assert.Contains(t, msg, "\r\n\r\nbody text")
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from string
		want string
	}{
		{"bare address", "noreply@example.com", "noreply@example.com"},
		{"display name", "Bridge <noreply@example.com>", "noreply@example.com"},
		{"padded", "  noreply@example.com  ", "noreply@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseAddress(tt.from))
		})
	}
}
