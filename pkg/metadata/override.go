// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metadata rewrites the host AS's OAuth discovery document so that
// clients are sent to the bridge's authorize endpoint. Every other field of
// the document passes through untouched.
package metadata

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
)

// Discovery-document paths intercepted by the override.
var discoveryPaths = map[string]struct{}{
	"/.well-known/openid-configuration":       {},
	"/.well-known/oauth-authorization-server": {},
}

// Override wraps the host AS's handler chain, replacing the
// authorization_endpoint of the discovery document with authorizeURL. It must
// sit ahead of the host AS's own routing so it can rewrite the outgoing body
// before it is sent.
func Override(next http.Handler, authorizeURL string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := discoveryPaths[r.URL.Path]; !ok {
			next.ServeHTTP(w, r)
			return
		}

		buf := &bufferedResponse{header: make(http.Header), status: http.StatusOK}
		next.ServeHTTP(buf, r)

		body := buf.body.Bytes()
		if rewritten, ok := rewriteAuthorizationEndpoint(body, authorizeURL); ok {
			body = rewritten
		}

		h := w.Header()
		for key, values := range buf.header {
			h[key] = values
		}
		h.Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(buf.status)
		_, _ = w.Write(body)
	})
}

// rewriteAuthorizationEndpoint replaces the authorization_endpoint field when
// the body is a JSON object, reporting whether a rewrite happened.
func rewriteAuthorizationEndpoint(body []byte, authorizeURL string) ([]byte, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return nil, false
	}

	endpoint, err := json.Marshal(authorizeURL)
	if err != nil {
		return nil, false
	}
	doc["authorization_endpoint"] = endpoint

	rewritten, err := json.Marshal(doc)
	if err != nil {
		return nil, false
	}

	return rewritten, true
}

// bufferedResponse captures a downstream handler's response for rewriting.
type bufferedResponse struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	return b.body.Write(p)
}

func (b *bufferedResponse) WriteHeader(status int) {
	b.status = status
}
