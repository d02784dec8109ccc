// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/stacklok/otpbridge/pkg/logger"
	"github.com/stacklok/otpbridge/pkg/ratelimit"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

func writeHTML(w http.ResponseWriter, status int, html string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(html))
}

// writeRateLimited emits the 429 response with a Retry-After header. The
// acting key is logged; the code never is.
func writeRateLimited(w http.ResponseWriter, r *http.Request, key string, res ratelimit.Result) {
	seconds := int64((res.RetryAfter + time.Second - 1) / time.Second)

	logger.Warnw("rate limit exceeded",
		"path", r.URL.Path,
		"key", key,
		"retry_after_seconds", seconds,
	)

	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error:             "rate limited",
		RetryAfterSeconds: seconds,
	})
}
