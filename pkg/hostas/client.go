// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package hostas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// deviceCookieName carries the host AS device-session identifier between
	// the browser and the bridge.
	deviceCookieName = "host-device"

	remoteTimeout = 10 * time.Second
)

// Remote implements all bridge capabilities against the host AS's internal
// HTTP API, authenticated with a shared bearer token. The internal API is
// expected to be reachable only from the bridge's network.
type Remote struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRemote creates a Remote for the host AS internal API at baseURL.
func NewRemote(baseURL, token string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: remoteTimeout},
	}
}

var (
	_ AccountCreator       = (*Remote)(nil)
	_ IdentityResolver     = (*Remote)(nil)
	_ DeviceSessionManager = (*Remote)(nil)
	_ PendingRequestStore  = remotePending{}
	_ ClientDirectory      = remoteClients{}
)

// Pending returns the pending-request capability of the host AS.
func (c *Remote) Pending() PendingRequestStore {
	return remotePending{c}
}

// Clients returns the client-directory capability of the host AS.
func (c *Remote) Clients() ClientDirectory {
	return remoteClients{c}
}

// remotePending and remoteClients exist because both capabilities name their
// lookup method Get.
type remotePending struct{ c *Remote }

func (p remotePending) Get(ctx context.Context, requestURI, deviceID string) (PendingRequest, error) {
	return p.c.PendingRequest(ctx, requestURI, deviceID)
}

func (p remotePending) Authorize(ctx context.Context, requestURI, deviceID, accountID string) (string, error) {
	return p.c.Authorize(ctx, requestURI, deviceID, accountID)
}

type remoteClients struct{ c *Remote }

func (d remoteClients) Get(ctx context.Context, clientID string) (Client, error) {
	return d.c.ClientByID(ctx, clientID)
}

// CreateAccount creates the account and returns the host AS identifier.
func (c *Remote) CreateAccount(ctx context.Context, account NewAccount) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}

	body := map[string]string{
		"handle":     account.Handle,
		"email":      account.Email,
		"credential": account.Credential,
		"locale":     account.Locale,
	}
	if err := c.do(ctx, http.MethodPost, "/internal/accounts", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// IdentityByEmail resolves the email to a host AS account.
func (c *Remote) IdentityByEmail(ctx context.Context, email string) (Identity, error) {
	var resp struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}

	path := "/internal/identities?email=" + url.QueryEscape(email)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Identity{}, err
	}
	return Identity{Identifier: resp.ID, Email: resp.Email}, nil
}

// EnsureSession loads the request's device session, creating one and setting
// its cookie on the response when the browser has none.
func (c *Remote) EnsureSession(ctx context.Context, w http.ResponseWriter, r *http.Request) (DeviceSession, error) {
	var existing string
	if cookie, err := r.Cookie(deviceCookieName); err == nil {
		existing = cookie.Value
	}

	var resp struct {
		ID      string `json:"id"`
		Created bool   `json:"created"`
	}
	body := map[string]string{"session_id": existing}
	if err := c.do(ctx, http.MethodPost, "/internal/device-sessions", body, &resp); err != nil {
		return DeviceSession{}, err
	}

	if resp.Created {
		http.SetCookie(w, &http.Cookie{
			Name:     deviceCookieName,
			Value:    resp.ID,
			Path:     "/",
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return DeviceSession{ID: resp.ID}, nil
}

// RegisterAccount associates the account with the device session.
func (c *Remote) RegisterAccount(ctx context.Context, deviceID, accountID string) error {
	path := "/internal/device-sessions/" + url.PathEscape(deviceID) + "/accounts"
	return c.do(ctx, http.MethodPost, path, map[string]string{"account_id": accountID}, nil)
}

// PendingRequest returns the pending authorization request for
// (requestURI, deviceID).
func (c *Remote) PendingRequest(ctx context.Context, requestURI, deviceID string) (PendingRequest, error) {
	var resp struct {
		RequestURI   string   `json:"request_uri"`
		ClientID     string   `json:"client_id"`
		RedirectURI  string   `json:"redirect_uri"`
		State        string   `json:"state"`
		ResponseMode string   `json:"response_mode"`
		Scopes       []string `json:"scopes"`
	}

	q := url.Values{"request_uri": {requestURI}, "device_id": {deviceID}}
	if err := c.do(ctx, http.MethodGet, "/internal/pending-requests?"+q.Encode(), nil, &resp); err != nil {
		return PendingRequest{}, err
	}
	return PendingRequest{
		RequestURI:   resp.RequestURI,
		ClientID:     resp.ClientID,
		RedirectURI:  resp.RedirectURI,
		State:        resp.State,
		ResponseMode: resp.ResponseMode,
		Scopes:       resp.Scopes,
	}, nil
}

// Authorize marks the request authorized and returns the issued code.
func (c *Remote) Authorize(ctx context.Context, requestURI, deviceID, accountID string) (string, error) {
	var resp struct {
		Code string `json:"code"`
	}

	body := map[string]string{
		"request_uri": requestURI,
		"device_id":   deviceID,
		"account_id":  accountID,
	}
	if err := c.do(ctx, http.MethodPost, "/internal/pending-requests/authorize", body, &resp); err != nil {
		return "", err
	}
	return resp.Code, nil
}

// ClientByID returns the registered client's metadata.
func (c *Remote) ClientByID(ctx context.Context, clientID string) (Client, error) {
	var resp struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		RedirectURIs []string `json:"redirect_uris"`
	}

	path := "/internal/clients/" + url.PathEscape(clientID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Client{}, err
	}
	return Client{ID: resp.ID, Name: resp.Name, RedirectURIs: resp.RedirectURIs}, nil
}

// do sends the request and decodes the JSON response into out when out is
// non-nil. 404 responses map to ErrNotFound.
func (c *Remote) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach host AS: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("host AS returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse host AS response: %w", err)
	}
	return nil
}
