// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the bridge configuration
// structure and the logic required to load and validate it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stacklok/otpbridge/pkg/mailer"
)

// MinSecretLength is the minimum required length for the HMAC secret in bytes.
// 32 bytes (256 bits) is required per OWASP/NIST security guidelines.
const MinSecretLength = 32

// Config is the fully resolved configuration for the bridge. All values must
// be resolved before use (no file paths, no env var references).
type Config struct {
	// ListenAddress is the host:port the bridge's HTTP server binds to.
	ListenAddress string

	// BaseURL is the bridge's external base URL, used when building
	// absolute URLs for its own endpoints.
	BaseURL string

	// HostASBaseURL is the host authorization server's external base URL.
	// The signed callback redirect and the issuer identifier derive from it.
	HostASBaseURL string

	// HostASInternalURL is the base URL of the host AS internal capability
	// API. If empty, it defaults to HostASBaseURL.
	HostASInternalURL string

	// HostASToken is the bearer token for the host AS internal API.
	HostASToken string

	// HMACSecret signs session cookies and callback URLs.
	// Must be at least MinSecretLength bytes and cryptographically random.
	// Must be consistent across all replicas in multi-instance deployments.
	HMACSecret []byte

	// DatabasePath is the path of the SQLite database file.
	DatabasePath string

	// OTPTTL is the lifetime of issued codes. If zero, defaults to 15 minutes.
	OTPTTL time.Duration

	// SecureCookies marks session cookies as Secure. Disable only for
	// plain-HTTP local development.
	SecureCookies bool

	// CleanupInterval is the period of the background sweep that removes
	// expired codes and stale rate-limit buckets. If zero, defaults to
	// 5 minutes.
	CleanupInterval time.Duration

	// SMTP holds the settings for outbound code delivery.
	SMTP mailer.SMTPConfig
}

// Load reads the configuration from the environment. Every field maps to an
// OTPBRIDGE_* variable, e.g. OTPBRIDGE_HMAC_SECRET and OTPBRIDGE_SMTP_HOST.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("otpbridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_address", "127.0.0.1:8080")
	v.SetDefault("database_path", "otpbridge.db")
	v.SetDefault("otp_ttl", 15*time.Minute)
	v.SetDefault("secure_cookies", true)
	v.SetDefault("cleanup_interval", 5*time.Minute)
	v.SetDefault("smtp.port", 587)

	cfg := &Config{
		ListenAddress:     v.GetString("listen_address"),
		BaseURL:           v.GetString("base_url"),
		HostASBaseURL:     v.GetString("host_as_base_url"),
		HostASInternalURL: v.GetString("host_as_internal_url"),
		HostASToken:       v.GetString("host_as_token"),
		HMACSecret:        []byte(v.GetString("hmac_secret")),
		DatabasePath:      v.GetString("database_path"),
		OTPTTL:            v.GetDuration("otp_ttl"),
		SecureCookies:     v.GetBool("secure_cookies"),
		CleanupInterval:   v.GetDuration("cleanup_interval"),
		SMTP: mailer.SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the Config is usable and fills in defaulted durations.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.HostASBaseURL == "" {
		return fmt.Errorf("host AS base URL is required")
	}
	if c.HostASInternalURL == "" {
		c.HostASInternalURL = c.HostASBaseURL
	}
	if len(c.HMACSecret) < MinSecretLength {
		return fmt.Errorf("HMAC secret must be at least %d bytes", MinSecretLength)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.SMTP.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.SMTP.From == "" {
		return fmt.Errorf("SMTP from address is required")
	}
	if c.OTPTTL == 0 {
		c.OTPTTL = 15 * time.Minute
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	return nil
}
