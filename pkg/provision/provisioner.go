// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package provision creates host AS accounts for first-time emails and
// records the local email to identifier mapping.
package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/otpbridge/pkg/hostas"
	"github.com/stacklok/otpbridge/pkg/storage"
)

const (
	handlePrefix    = "user-"
	credentialBytes = 32
	defaultLocale   = "en-US"
)

// Provisioner creates accounts via the host AS and upserts the local mapping.
type Provisioner struct {
	creator  hostas.AccountCreator
	accounts storage.AccountStore
	now      func() time.Time
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(creator hostas.AccountCreator, accounts storage.AccountStore) *Provisioner {
	return &Provisioner{
		creator:  creator,
		accounts: accounts,
		now:      time.Now,
	}
}

// CreateAccount provisions a host AS identity for the email with a random
// low-collision handle and a throwaway credential, then records the
// (email, identifier, handle) mapping. The local upsert makes a retried
// provisioning call overwrite rather than duplicate.
func (p *Provisioner) CreateAccount(ctx context.Context, email string) (storage.Account, error) {
	handle := newHandle()

	credential, err := newCredential()
	if err != nil {
		return storage.Account{}, fmt.Errorf("generating credential: %w", err)
	}

	identifier, err := p.creator.CreateAccount(ctx, hostas.NewAccount{
		Handle:     handle,
		Email:      email,
		Credential: credential,
		Locale:     defaultLocale,
	})
	if err != nil {
		return storage.Account{}, fmt.Errorf("creating host account: %w", err)
	}

	account := storage.Account{
		Email:      email,
		Identifier: identifier,
		Handle:     handle,
		CreatedAt:  p.now(),
	}

	if err := p.accounts.Upsert(ctx, account); err != nil {
		return storage.Account{}, fmt.Errorf("recording account mapping: %w", err)
	}

	return account, nil
}

// newHandle derives a short random handle from a UUID.
func newHandle() string {
	id := uuid.NewString()
	return handlePrefix + strings.ReplaceAll(id, "-", "")[:12]
}

// newCredential draws a random throwaway credential. The account is only
// ever reached through the OTP flow, so nobody needs to remember it.
func newCredential() (string, error) {
	buf := make([]byte, credentialBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
