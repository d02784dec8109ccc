// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package magiccallback implements the host-AS side of the signed-callback
// protocol: it verifies the callback, resolves the verified email to an
// account, and converts the pending authorization request into a code.
package magiccallback

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/otpbridge/pkg/callback"
	"github.com/stacklok/otpbridge/pkg/flow"
	"github.com/stacklok/otpbridge/pkg/hostas"
	"github.com/stacklok/otpbridge/pkg/logger"
	"github.com/stacklok/otpbridge/pkg/provision"
)

// Handler serves GET /magic-callback inside the host AS process.
type Handler struct {
	signer      *callback.Signer
	provisioner *provision.Provisioner
	identities  hostas.IdentityResolver
	devices     hostas.DeviceSessionManager
	pending     hostas.PendingRequestStore
	clients     hostas.ClientDirectory
	// issuer is the host AS's external base URL, used as the iss parameter
	// and as the base of the redirect-completion endpoint.
	issuer string
}

// CompletionPath is the host AS endpoint that finishes the redirect to the
// OAuth client with the issued code.
const CompletionPath = "/oauth/authorize/redirect"

// NewHandler creates a magic-callback Handler.
func NewHandler(
	signer *callback.Signer,
	provisioner *provision.Provisioner,
	identities hostas.IdentityResolver,
	devices hostas.DeviceSessionManager,
	pending hostas.PendingRequestStore,
	clients hostas.ClientDirectory,
	issuer string,
) *Handler {
	return &Handler{
		signer:      signer,
		provisioner: provisioner,
		identities:  identities,
		devices:     devices,
		pending:     pending,
		clients:     clients,
		issuer:      issuer,
	}
}

// Routes returns a router with the callback endpoint registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(flow.SecurityHeaders)
	r.Get(callback.CallbackPath, h.MagicCallbackHandler)
	return r
}

// MagicCallbackHandler verifies the signed callback and issues the
// authorization code for the pending request.
func (h *Handler) MagicCallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params, sig, err := callback.ParseQuery(r.URL.Query())
	if err != nil {
		http.Error(w, "invalid callback", http.StatusForbidden)
		return
	}

	if err := h.signer.Verify(params, sig); err != nil {
		logger.Warnw("callback verification failed",
			"error", err,
			"email", params.Email,
			"request_uri", params.RequestURI,
		)
		http.Error(w, "invalid callback", http.StatusForbidden)
		return
	}

	if !params.Approved {
		logger.Warnw("unapproved callback rejected", "email", params.Email)
		http.Error(w, "authorization not approved", http.StatusForbidden)
		return
	}

	if params.NewAccount {
		if _, err := h.provisioner.CreateAccount(ctx, params.Email); err != nil {
			logger.Errorw("account provisioning failed", "error", err, "email", params.Email)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
	}

	identity, err := h.identities.IdentityByEmail(ctx, params.Email)
	if errors.Is(err, hostas.ErrNotFound) {
		logger.Warnw("callback email did not resolve to an account", "email", params.Email)
		http.Error(w, "unknown account", http.StatusForbidden)
		return
	}
	if err != nil {
		logger.Errorw("identity lookup failed", "error", err, "email", params.Email)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	device, err := h.devices.EnsureSession(ctx, w, r)
	if err != nil {
		logger.Errorw("device session failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	pending, err := h.pending.Get(ctx, params.RequestURI, device.ID)
	if err != nil {
		logger.Errorw("pending request lookup failed",
			"error", err,
			"request_uri", params.RequestURI,
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	client, err := h.clients.Get(ctx, pending.ClientID)
	if err != nil {
		logger.Errorw("client lookup failed", "error", err, "client_id", pending.ClientID)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.devices.RegisterAccount(ctx, device.ID, identity.Identifier); err != nil {
		logger.Errorw("device account registration failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	code, err := h.pending.Authorize(ctx, params.RequestURI, device.ID, identity.Identifier)
	if err != nil {
		logger.Errorw("authorization failed", "error", err, "request_uri", params.RequestURI)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	logger.Infow("authorization code issued",
		"client_id", client.ID,
		"client_name", client.Name,
		"new_account", params.NewAccount,
	)

	http.Redirect(w, r, h.completionURL(pending, code), http.StatusFound)
}

// completionURL builds the redirect to the host AS's redirect-completion
// endpoint, preserving the client's state and requested response mode.
func (h *Handler) completionURL(pending hostas.PendingRequest, code string) string {
	q := url.Values{}
	q.Set("redirect_uri", pending.RedirectURI)
	q.Set("code", code)
	if pending.State != "" {
		q.Set("state", pending.State)
	}
	q.Set("iss", h.issuer)
	if pending.ResponseMode != "" {
		q.Set("response_mode", pending.ResponseMode)
	}

	return h.issuer + CompletionPath + "?" + q.Encode()
}
