// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/stacklok/otpbridge/pkg/api"
	"github.com/stacklok/otpbridge/pkg/config"
	"github.com/stacklok/otpbridge/pkg/hostas"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge server",
	Long: `Starts the bridge server: the login flow pages, the magic-callback
endpoint and the discovery-document override. Configuration is read from
OTPBRIDGE_* environment variables.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Ensure server is shutdown gracefully on Ctrl+C.
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		discovery, err := discoveryProxy(cfg.HostASBaseURL)
		if err != nil {
			return err
		}

		remote := hostas.NewRemote(cfg.HostASInternalURL, cfg.HostASToken)
		return api.Serve(ctx, cfg, api.Deps{
			Accounts:   remote,
			Identities: remote,
			Devices:    remote,
			Pending:    remote.Pending(),
			Clients:    remote.Clients(),
			Discovery:  discovery,
		})
	},
}

// discoveryProxy forwards well-known requests to the host AS so the bridge
// can rewrite the discovery document on the way back.
func discoveryProxy(hostASBase string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(hostASBase)
	if err != nil {
		return nil, fmt.Errorf("invalid host AS base URL: %w", err)
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}
