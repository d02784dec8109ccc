// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"net"
	"net/http"

	"github.com/stacklok/otpbridge/pkg/logger"
)

// SecurityHeaders sets the baseline security response headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// requireCSRF rejects the request before any business logic unless the
// X-CSRF-Token header matches the csrf-token cookie.
func (h *Handler) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.sessions.CheckCSRF(r) {
			logger.Warnw("csrf check failed",
				"path", r.URL.Path,
				"ip", clientIP(r),
			)
			writeJSON(w, http.StatusForbidden, errorBody{Error: "csrf token missing or mismatched"})
			return
		}
		next(w, r)
	}
}

// clientIP extracts the client address for rate-limit keying. RemoteAddr is
// expected to be rewritten by a trusted-proxy middleware upstream when the
// service runs behind one.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
