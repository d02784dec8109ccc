// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hostas declares the capability interfaces the bridge needs from the
// host authorization server. The host AS satisfies them however it sees fit;
// the bridge never inspects its internal state.
package hostas

import (
	"context"
	"errors"
	"net/http"
)

// ErrNotFound is returned by capability lookups when the requested entity
// does not exist.
var ErrNotFound = errors.New("not found in host authorization server")

// NewAccount are the inputs for creating an identity in the host AS.
type NewAccount struct {
	// Handle is the human-readable account name.
	Handle string
	// Email is the verified address the account is provisioned for.
	Email string
	// Credential is a throwaway random credential; the account is only ever
	// reached through the OTP flow.
	Credential string
	// Locale is the BCP 47 locale for the new account.
	Locale string
}

// Identity is a resolved host AS account.
type Identity struct {
	// Identifier is the host AS's stable account identifier.
	Identifier string
	// Email is the address the identity was resolved by, when known.
	Email string
}

// DeviceSession is the host AS's notion of a recognized browser, independent
// of which account is authenticated on it.
type DeviceSession struct {
	// ID identifies the device session.
	ID string
}

// PendingRequest is a pending OAuth authorization request held by the host AS.
type PendingRequest struct {
	// RequestURI is the opaque identifier the client was issued.
	RequestURI string
	// ClientID is the OAuth client that pushed the request.
	ClientID string
	// RedirectURI is where the client asked to be sent afterwards.
	RedirectURI string
	// State is the client's state parameter, empty if none was given.
	State string
	// ResponseMode is the client's requested response mode, empty for default.
	ResponseMode string
	// Scopes are the requested OAuth scopes.
	Scopes []string
}

// Client is the host AS's metadata for an OAuth client.
type Client struct {
	// ID is the client identifier.
	ID string
	// Name is the client's display name.
	Name string
	// RedirectURIs are the registered redirect URIs.
	RedirectURIs []string
}

// AccountCreator creates identities in the host AS's account store.
type AccountCreator interface {
	// CreateAccount creates the account and returns its identifier.
	CreateAccount(ctx context.Context, account NewAccount) (string, error)
}

// IdentityResolver resolves verified email addresses to host AS accounts.
type IdentityResolver interface {
	// IdentityByEmail returns the identity for the email, or ErrNotFound.
	IdentityByEmail(ctx context.Context, email string) (Identity, error)
}

// DeviceSessionManager establishes and annotates browser device sessions.
type DeviceSessionManager interface {
	// EnsureSession loads the request's device session, creating one and
	// setting its cookie on the response if the browser has none.
	EnsureSession(ctx context.Context, w http.ResponseWriter, r *http.Request) (DeviceSession, error)
	// RegisterAccount associates the account with the device session.
	RegisterAccount(ctx context.Context, deviceID, accountID string) error
}

// PendingRequestStore looks up and resolves pending authorization requests.
type PendingRequestStore interface {
	// Get returns the pending request for (requestURI, deviceID), or
	// ErrNotFound if it does not exist or belongs to another device.
	Get(ctx context.Context, requestURI, deviceID string) (PendingRequest, error)
	// Authorize marks the request authorized for the account and returns
	// the authorization code issued to the client.
	Authorize(ctx context.Context, requestURI, deviceID, accountID string) (string, error)
}

// ClientDirectory exposes registered OAuth client metadata.
type ClientDirectory interface {
	// Get returns the client's metadata, or ErrNotFound.
	Get(ctx context.Context, clientID string) (Client, error)
}
