// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api assembles the bridge's HTTP server: the login flow routes, the
// magic-callback endpoint, the discovery-document override and the background
// maintenance sweep.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/otpbridge/pkg/callback"
	"github.com/stacklok/otpbridge/pkg/config"
	"github.com/stacklok/otpbridge/pkg/flow"
	"github.com/stacklok/otpbridge/pkg/hostas"
	"github.com/stacklok/otpbridge/pkg/logger"
	"github.com/stacklok/otpbridge/pkg/magiccallback"
	"github.com/stacklok/otpbridge/pkg/mailer"
	"github.com/stacklok/otpbridge/pkg/metadata"
	"github.com/stacklok/otpbridge/pkg/otp"
	"github.com/stacklok/otpbridge/pkg/provision"
	"github.com/stacklok/otpbridge/pkg/ratelimit"
	"github.com/stacklok/otpbridge/pkg/session"
	"github.com/stacklok/otpbridge/pkg/storage/sqlite"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Deps carries the host authorization server capabilities the bridge drives,
// plus optional hooks that are wired when present.
type Deps struct {
	Accounts   hostas.AccountCreator
	Identities hostas.IdentityResolver
	Devices    hostas.DeviceSessionManager
	Pending    hostas.PendingRequestStore
	Clients    hostas.ClientDirectory

	// Mailer overrides the SMTP mailer built from config. Intended for tests
	// and local development.
	Mailer mailer.Mailer

	// Discovery, when set, serves the host AS discovery documents. It is
	// mounted under /.well-known/ behind the authorization_endpoint override.
	Discovery http.Handler
}

func (d *Deps) validate() error {
	if d.Accounts == nil || d.Identities == nil || d.Devices == nil ||
		d.Pending == nil || d.Clients == nil {
		return fmt.Errorf("all host AS capabilities must be provided")
	}
	return nil
}

// Serve starts the bridge server on the configured address and serves until
// ctx is done. It is assumed that the caller sets up appropriate signal
// handling.
func Serve(ctx context.Context, cfg *config.Config, deps Deps) error {
	if err := deps.validate(); err != nil {
		return err
	}

	db, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	codes := otp.NewService(sqlite.NewOTPStore(db), otp.WithTTL(cfg.OTPTTL))
	limiter := ratelimit.NewLimiter(sqlite.NewRateLimitStore(db))
	accounts := sqlite.NewAccountStore(db)
	sessions := session.NewManager(cfg.HMACSecret, cfg.SecureCookies)
	signer := callback.NewSigner(cfg.HMACSecret)

	mail := deps.Mailer
	if mail == nil {
		mail = mailer.NewSMTPMailer(cfg.SMTP)
	}

	flowHandler := flow.NewHandler(sessions, limiter, codes, signer, mail, accounts, cfg.HostASBaseURL)
	callbackHandler := magiccallback.NewHandler(
		signer,
		provision.NewProvisioner(deps.Accounts, accounts),
		deps.Identities,
		deps.Devices,
		deps.Pending,
		deps.Clients,
		cfg.HostASBaseURL,
	)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		flow.SecurityHeaders,
	)

	r.Get("/health", healthcheckHandler(db))
	r.Get(callback.CallbackPath, callbackHandler.MagicCallbackHandler)
	if deps.Discovery != nil {
		r.Mount("/.well-known", metadata.Override(deps.Discovery, cfg.BaseURL+"/authorize"))
	}
	r.Mount("/", flowHandler.Routes())

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              cfg.ListenAddress,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	stopCleanup := startCleanupLoop(ctx, cfg.CleanupInterval, codes, limiter)
	defer stopCleanup()

	logger.Infof("starting bridge server on %s", cfg.ListenAddress)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server stopped with error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("bridge server stopped")
	return nil
}

// healthcheckHandler reports whether the database is reachable.
func healthcheckHandler(db *sqlite.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.DB().PingContext(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// startCleanupLoop sweeps expired codes and stale rate-limit buckets until
// ctx is done. The returned function blocks until the loop has exited.
func startCleanupLoop(ctx context.Context, interval time.Duration, codes *otp.Service, limiter *ratelimit.Limiter) func() {
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCleanup(ctx, codes, limiter)
			}
		}
	}()

	return func() { <-done }
}

func runCleanup(ctx context.Context, codes *otp.Service, limiter *ratelimit.Limiter) {
	if n, err := codes.CleanupExpired(ctx); err != nil {
		logger.Warnf("failed to clean up expired codes: %v", err)
	} else if n > 0 {
		logger.Debugf("removed %d expired codes", n)
	}

	if n, err := limiter.CleanupOld(ctx); err != nil {
		logger.Warnf("failed to clean up rate-limit buckets: %v", err)
	} else if n > 0 {
		logger.Debugf("removed %d stale rate-limit buckets", n)
	}
}
