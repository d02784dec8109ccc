// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("session-secret-session-secret-xx")

// withCookies builds a request carrying the cookies set on rec.
func withCookies(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/send-code", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestGet_MissingCookie(t *testing.T) {
	t.Parallel()

	m := NewManager(testSecret, true)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.Equal(t, Session{}, m.Get(req))
}

func TestSetGet_RoundTrip(t *testing.T) {
	t.Parallel()

	m := NewManager(testSecret, true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	m.Set(rec, req, Session{RequestURI: "urn:req:1", ClientID: "client-1"})

	got := m.Get(withCookies(t, rec))
	assert.Equal(t, "urn:req:1", got.RequestURI)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Empty(t, got.Email)
}

func TestSet_MergesExistingFields(t *testing.T) {
	t.Parallel()

	m := NewManager(testSecret, true)

	rec := httptest.NewRecorder()
	m.Set(rec, httptest.NewRequest(http.MethodGet, "/", nil), Session{
		RequestURI: "urn:req:1",
		ClientID:   "client-1",
	})

	// Setting only the email must keep request_uri and client_id.
	rec2 := httptest.NewRecorder()
	m.Set(rec2, withCookies(t, rec), Session{Email: "a@b.com"})

	got := m.Get(withCookies(t, rec2))
	assert.Equal(t, "urn:req:1", got.RequestURI)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Equal(t, "a@b.com", got.Email)
}

func TestGet_TamperedCookie(t *testing.T) {
	t.Parallel()

	m := NewManager(testSecret, true)
	rec := httptest.NewRecorder()
	m.Set(rec, httptest.NewRequest(http.MethodGet, "/", nil), Session{Email: "a@b.com"})

	cookie := rec.Result().Cookies()[0]

	tests := []struct {
		name  string
		value string
	}{
		{"flipped payload byte", "x" + cookie.Value[1:]},
		{"truncated signature", cookie.Value[:len(cookie.Value)-2]},
		{"no separator", strings.ReplaceAll(cookie.Value, ".", "")},
		{"empty value", ""},
		{"signed by other key", NewManager([]byte("other-secret-other-secret-yyyy!!"), true).encode(Session{Email: "evil@b.com"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.value})

			assert.Equal(t, Session{}, m.Get(req))
		})
	}
}

func TestSessionCookieAttributes(t *testing.T) {
	t.Parallel()

	m := NewManager(testSecret, true)
	rec := httptest.NewRecorder()
	m.Set(rec, httptest.NewRequest(http.MethodGet, "/", nil), Session{Email: "a@b.com"})

	cookie := rec.Result().Cookies()[0]
	assert.Equal(t, SessionCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
}

func TestEnsureCSRF_IssuesOnce(t *testing.T) {
	t.Parallel()

	m := NewManager(testSecret, true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	token, err := m.EnsureCSRF(rec, req)
	require.NoError(t, err)
	assert.Len(t, token, csrfTokenBytes*2)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CSRFCookieName, cookies[0].Name)
	assert.Equal(t, token, cookies[0].Value)

	// A request already carrying the cookie keeps its token.
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(cookies[0])
	rec2 := httptest.NewRecorder()

	token2, err := m.EnsureCSRF(rec2, req2)
	require.NoError(t, err)
	assert.Equal(t, token, token2)
	assert.Empty(t, rec2.Result().Cookies())
}

func TestCheckCSRF(t *testing.T) {
	t.Parallel()

	m := NewManager(testSecret, true)

	tests := []struct {
		name   string
		cookie string
		header string
		want   bool
	}{
		{"matching", "token-value", "token-value", true},
		{"mismatched", "token-value", "other-value", false},
		{"missing header", "token-value", "", false},
		{"missing cookie", "", "token-value", false},
		{"both missing", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/send-code", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(CSRFHeaderName, tt.header)
			}

			assert.Equal(t, tt.want, m.CheckCSRF(req))
		})
	}
}
