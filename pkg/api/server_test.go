// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/otpbridge/pkg/config"
	"github.com/stacklok/otpbridge/pkg/hostas"
	"github.com/stacklok/otpbridge/pkg/mailer"
	"github.com/stacklok/otpbridge/pkg/otp"
	"github.com/stacklok/otpbridge/pkg/ratelimit"
	"github.com/stacklok/otpbridge/pkg/storage/sqlite"
)

type stubHostAS struct{}

func (stubHostAS) CreateAccount(context.Context, hostas.NewAccount) (string, error) {
	return "acct-1", nil
}

func (stubHostAS) IdentityByEmail(context.Context, string) (hostas.Identity, error) {
	return hostas.Identity{}, hostas.ErrNotFound
}

func (stubHostAS) EnsureSession(context.Context, http.ResponseWriter, *http.Request) (hostas.DeviceSession, error) {
	return hostas.DeviceSession{ID: "device-1"}, nil
}

func (stubHostAS) RegisterAccount(context.Context, string, string) error {
	return nil
}

type stubPending struct{}

func (stubPending) Get(context.Context, string, string) (hostas.PendingRequest, error) {
	return hostas.PendingRequest{}, hostas.ErrNotFound
}

func (stubPending) Authorize(context.Context, string, string, string) (string, error) {
	return "", hostas.ErrNotFound
}

type stubClients struct{}

func (stubClients) Get(context.Context, string) (hostas.Client, error) {
	return hostas.Client{}, hostas.ErrNotFound
}

func testDeps() Deps {
	return Deps{
		Accounts:   stubHostAS{},
		Identities: stubHostAS{},
		Devices:    stubHostAS{},
		Pending:    stubPending{},
		Clients:    stubClients{},
		Mailer:     mailer.NewCaptureMailer(),
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		ListenAddress:   "127.0.0.1:0",
		BaseURL:         "https://login.example.com",
		HostASBaseURL:   "https://as.example.com",
		HMACSecret:      []byte(strings.Repeat("s", config.MinSecretLength)),
		DatabasePath:    filepath.Join(t.TempDir(), "bridge.db"),
		OTPTTL:          15 * time.Minute,
		CleanupInterval: time.Minute,
		SMTP:            mailer.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "login@example.com"},
	}
}

func TestDepsValidate(t *testing.T) {
	t.Parallel()

	deps := testDeps()
	require.NoError(t, deps.validate())

	deps.Pending = nil
	assert.Error(t, deps.validate())
}

func TestServe_MissingCapabilityFails(t *testing.T) {
	t.Parallel()

	err := Serve(context.Background(), testConfig(t), Deps{})
	assert.Error(t, err)
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, testConfig(t), testDeps())
	}()

	// Give the server a moment to start before stopping it.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHealthcheckHandler(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "health.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rec := httptest.NewRecorder()
	healthcheckHandler(db)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCleanupLoop_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "cleanup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	codes := otp.NewService(sqlite.NewOTPStore(db))
	limiter := ratelimit.NewLimiter(sqlite.NewRateLimitStore(db))

	loopCtx, cancel := context.WithCancel(ctx)
	stop := startCleanupLoop(loopCtx, 10*time.Millisecond, codes, limiter)

	// Let at least one sweep run on the empty database.
	time.Sleep(50 * time.Millisecond)
	cancel()

	finished := make(chan struct{})
	go func() {
		stop()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}
