// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session implements the cookie-carried auth-flow session and the
// CSRF token issued alongside it.
//
// The session has no server-side row: the cookie value itself is the store,
// integrity-protected by an HMAC. It is reconstructed from the verified
// cookie on each request.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	// SessionCookieName carries the signed auth-flow session.
	SessionCookieName = "auth-session"

	// CSRFCookieName carries the CSRF token.
	CSRFCookieName = "csrf-token"

	// CSRFHeaderName is the request header that must echo the CSRF cookie.
	CSRFHeaderName = "X-CSRF-Token"

	csrfTokenBytes = 32
)

// Session is the auth-flow state carried across the multi-step HTTP flow.
type Session struct {
	// RequestURI is the pending-authorization-request identifier from the host AS.
	RequestURI string `json:"request_uri,omitempty"`
	// ClientID is the OAuth client that initiated the flow.
	ClientID string `json:"client_id,omitempty"`
	// Email is set once the user submits an address.
	Email string `json:"email,omitempty"`
}

// Manager signs, verifies, and merges the session cookie and issues CSRF tokens.
type Manager struct {
	secret []byte
	secure bool
}

// NewManager creates a session manager. secure controls the cookies' Secure
// attribute; disable it only for local plain-HTTP development.
func NewManager(secret []byte, secure bool) *Manager {
	return &Manager{secret: secret, secure: secure}
}

// Get reconstructs the session from the request's cookie. A missing, malformed,
// or tampered cookie yields an empty session rather than an error; the flow
// handlers decide what absence means per endpoint.
func (m *Manager) Get(r *http.Request) Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return Session{}
	}

	sess, err := m.decode(cookie.Value)
	if err != nil {
		return Session{}
	}

	return sess
}

// Set merges the non-empty fields of updates into the request's existing
// session and writes the combined session back as a signed cookie. Merging
// keeps the request_uri and client_id captured at entry time alive when only
// the email is added later.
func (m *Manager) Set(w http.ResponseWriter, r *http.Request, updates Session) {
	sess := m.Get(r)

	if updates.RequestURI != "" {
		sess.RequestURI = updates.RequestURI
	}
	if updates.ClientID != "" {
		sess.ClientID = updates.ClientID
	}
	if updates.Email != "" {
		sess.Email = updates.Email
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    m.encode(sess),
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// EnsureCSRF returns the request's CSRF token, issuing a fresh one as a cookie
// if the request does not carry one.
func (m *Manager) EnsureCSRF(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(CSRFCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating csrf token: %w", err)
	}
	token := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return token, nil
}

// CheckCSRF reports whether the request's CSRF header matches its cookie.
// The comparison is constant-time.
func (m *Manager) CheckCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	header := r.Header.Get(CSRFHeaderName)
	if header == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) == 1
}

// encode serializes and signs the session as base64(payload).hex(hmac).
func (m *Manager) encode(sess Session) string {
	payload, _ := json.Marshal(sess)
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + m.sign(encoded)
}

// decode verifies and deserializes a cookie value produced by encode.
func (m *Manager) decode(value string) (Session, error) {
	encoded, sig, ok := strings.Cut(value, ".")
	if !ok {
		return Session{}, fmt.Errorf("malformed session cookie")
	}

	if !hmac.Equal([]byte(m.sign(encoded)), []byte(sig)) {
		return Session{}, fmt.Errorf("session cookie signature mismatch")
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Session{}, fmt.Errorf("decoding session payload: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return Session{}, fmt.Errorf("unmarshaling session payload: %w", err)
	}

	return sess, nil
}

func (m *Manager) sign(encoded string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
