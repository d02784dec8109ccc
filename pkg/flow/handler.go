// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package flow implements the HTTP-facing authentication state machine that
// walks a user from email entry through OTP verification to the signed
// callback handoff.
package flow

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/otpbridge/pkg/callback"
	bridgeerrors "github.com/stacklok/otpbridge/pkg/errors"
	"github.com/stacklok/otpbridge/pkg/logger"
	"github.com/stacklok/otpbridge/pkg/mailer"
	"github.com/stacklok/otpbridge/pkg/otp"
	"github.com/stacklok/otpbridge/pkg/ratelimit"
	"github.com/stacklok/otpbridge/pkg/session"
	"github.com/stacklok/otpbridge/pkg/storage"
)

// Handler drives the authentication flow endpoints.
type Handler struct {
	sessions   *session.Manager
	limiter    *ratelimit.Limiter
	codes      *otp.Service
	signer     *callback.Signer
	mail       mailer.Mailer
	accounts   storage.AccountStore
	renderer   Renderer
	hostASBase string
	now        func() time.Time
}

// Option configures a Handler instance.
type Option func(*Handler)

// WithRenderer substitutes the view renderer.
func WithRenderer(r Renderer) Option {
	return func(h *Handler) {
		h.renderer = r
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates a flow Handler. hostASBase is the host authorization
// server's external base URL, the target of the signed callback redirect.
func NewHandler(
	sessions *session.Manager,
	limiter *ratelimit.Limiter,
	codes *otp.Service,
	signer *callback.Signer,
	mail mailer.Mailer,
	accounts storage.AccountStore,
	hostASBase string,
	opts ...Option,
) *Handler {
	h := &Handler{
		sessions:   sessions,
		limiter:    limiter,
		codes:      codes,
		signer:     signer,
		mail:       mail,
		accounts:   accounts,
		renderer:   NewRenderer(),
		hostASBase: hostASBase,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Routes returns a router with the flow endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Get("/authorize", h.AuthorizeHandler)
	r.Get("/verify", h.VerifyPageHandler)
	r.Post("/send-code", h.requireCSRF(h.SendCodeHandler))
	r.Post("/resend-code", h.requireCSRF(h.ResendCodeHandler))
	r.Post("/verify-code", h.requireCSRF(h.VerifyCodeHandler))
	return r
}

type errorBody struct {
	Error             string `json:"error"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
}

type sendResponse struct {
	Success  bool   `json:"success"`
	Redirect string `json:"redirect"`
}

type verifyResponse struct {
	Success  bool   `json:"success"`
	Redirect string `json:"redirect,omitempty"`
	Error    string `json:"error,omitempty"`
	HTML     string `json:"html,omitempty"`
}

// AuthorizeHandler handles GET /authorize, the entry point of the flow.
// It captures the pending request and client into the session, issues the
// CSRF cookie, and renders the email view; a login_hint email auto-advances
// to the code view after triggering a send.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	requestURI := r.URL.Query().Get("request_uri")
	clientID := r.URL.Query().Get("client_id")
	if requestURI == "" || clientID == "" {
		http.Error(w, "request_uri and client_id are required", http.StatusBadRequest)
		return
	}

	sess := session.Session{RequestURI: requestURI, ClientID: clientID}
	loginHint := r.URL.Query().Get("login_hint")
	if loginHint != "" && strings.Contains(loginHint, "@") {
		sess.Email = loginHint
	}
	// A single Set writes one session cookie; a second Set on the same
	// response would merge against the request's stale cookie and drop the
	// pending request identifiers.
	h.sessions.Set(w, r, sess)

	csrfToken, err := h.sessions.EnsureCSRF(w, r)
	if err != nil {
		logger.Errorw("failed to issue csrf token", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if sess.Email != "" {
		// Auto-advance: send the code and land directly on the code view.
		// A rate-limit rejection here is logged, not surfaced; the user can
		// still resend from the code view once the window passes.
		h.sendCode(r, sess.Email)
		h.renderCodePage(w, CodePageData{Email: sess.Email, CSRFToken: csrfToken})
		return
	}

	html, err := h.renderer.EmailPage(EmailPageData{CSRFToken: csrfToken})
	if err != nil {
		logger.Errorw("failed to render email page", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeHTML(w, http.StatusOK, html)
}

// SendCodeHandler handles POST /send-code.
func (h *Handler) SendCodeHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	email := strings.TrimSpace(body.Email)
	if !strings.Contains(email, "@") {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "a valid email address is required"})
		return
	}

	res, err := h.limiter.CheckSend(r.Context(), email, clientIP(r))
	if err != nil {
		logger.Errorw("rate-limit check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}
	if !res.Allowed {
		writeRateLimited(w, r, email, res)
		return
	}

	h.sendCode(r, email)
	h.sessions.Set(w, r, session.Session{Email: email})

	writeJSON(w, http.StatusOK, sendResponse{Success: true, Redirect: "/verify"})
}

// ResendCodeHandler handles POST /resend-code, keyed off the session's email.
func (h *Handler) ResendCodeHandler(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Get(r)
	if sess.Email == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "no email in session"})
		return
	}

	res, err := h.limiter.CheckSend(r.Context(), sess.Email, clientIP(r))
	if err != nil {
		logger.Errorw("rate-limit check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}
	if !res.Allowed {
		writeRateLimited(w, r, sess.Email, res)
		return
	}

	h.sendCode(r, sess.Email)

	writeJSON(w, http.StatusOK, sendResponse{Success: true, Redirect: "/verify"})
}

// VerifyPageHandler handles GET /verify, re-rendering the code view from
// session state.
func (h *Handler) VerifyPageHandler(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Get(r)
	if sess.Email == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	csrfToken, err := h.sessions.EnsureCSRF(w, r)
	if err != nil {
		logger.Errorw("failed to issue csrf token", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.renderCodePage(w, CodePageData{Email: sess.Email, CSRFToken: csrfToken})
}

// VerifyCodeHandler handles POST /verify-code. A wrong or exhausted code
// re-renders the code view in place; a verified code returns the signed
// callback URL for the browser to follow.
func (h *Handler) VerifyCodeHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	res, err := h.limiter.CheckVerify(r.Context(), clientIP(r))
	if err != nil {
		logger.Errorw("rate-limit check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}
	if !res.Allowed {
		writeRateLimited(w, r, clientIP(r), res)
		return
	}

	sess := h.sessions.Get(r)
	if sess.Email == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "session expired"})
		return
	}

	if err := h.codes.Verify(r.Context(), sess.Email, strings.TrimSpace(body.Code)); err != nil {
		h.writeVerifyFailure(w, r, sess, err)
		return
	}

	newAccount := false
	if _, err := h.accounts.GetByEmail(r.Context(), sess.Email); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorw("account lookup failed", "error", err, "email", sess.Email)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
			return
		}
		newAccount = true
	}

	params := callback.Params{
		RequestURI: sess.RequestURI,
		Email:      sess.Email,
		Approved:   true,
		NewAccount: newAccount,
		Timestamp:  h.now().Unix(),
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Success:  true,
		Redirect: h.signer.BuildCallbackURL(h.hostASBase, params),
	})
}

// sendCode generates and emails a fresh OTP. Mailer failures are swallowed
// and logged so the response never reveals whether the address is deliverable.
func (h *Handler) sendCode(r *http.Request, email string) {
	code, _, err := h.codes.Generate(r.Context(), email)
	if err != nil {
		logger.Errorw("failed to generate otp", "error", err, "email", email)
		return
	}

	if err := h.mail.SendOTP(r.Context(), email, code); err != nil {
		logger.Warnw("otp delivery failed", "error", err, "email", email)
	}
}

// writeVerifyFailure maps an OTP verification error to the in-place
// re-rendered code view, or to a 500 for unexpected failures.
func (h *Handler) writeVerifyFailure(w http.ResponseWriter, r *http.Request, sess session.Session, err error) {
	var message string
	switch {
	case bridgeerrors.IsInvalidCode(err):
		message = "That code is not correct. Please try again."
	case bridgeerrors.IsTooManyAttempts(err):
		message = "Too many attempts. Request a new code."
	case bridgeerrors.IsNoValidCode(err):
		message = "Your code has expired. Request a new one."
	default:
		logger.Errorw("otp verification failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}

	logger.Infow("otp verification rejected",
		"email", sess.Email,
		"ip", clientIP(r),
		"reason", bridgeError(err),
	)

	csrfToken, csrfErr := h.sessions.EnsureCSRF(w, r)
	if csrfErr != nil {
		logger.Errorw("failed to issue csrf token", "error", csrfErr)
	}

	html, renderErr := h.renderer.CodePage(CodePageData{
		Email:     sess.Email,
		CSRFToken: csrfToken,
		Error:     message,
	})
	if renderErr != nil {
		logger.Errorw("failed to render code page", "error", renderErr)
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Success: false,
		Error:   bridgeError(err),
		HTML:    html,
	})
}

func (h *Handler) renderCodePage(w http.ResponseWriter, data CodePageData) {
	html, err := h.renderer.CodePage(data)
	if err != nil {
		logger.Errorw("failed to render code page", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeHTML(w, http.StatusOK, html)
}

// bridgeError extracts the taxonomy type string from a bridge error.
func bridgeError(err error) string {
	var e *bridgeerrors.Error
	if errors.As(err, &e) {
		return e.Type
	}
	return bridgeerrors.ErrInternal
}
