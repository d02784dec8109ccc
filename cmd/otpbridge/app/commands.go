// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the otpbridge command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/otpbridge/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "otpbridge",
	DisableAutoGenTag: true,
	Short:             "Email one-time-code authentication bridge for an OAuth authorization server",
	Long: `otpbridge fronts an OAuth 2.0 / OIDC authorization server with an email
one-time-code login flow. It serves the authorize and verification pages,
delivers codes over SMTP, rate-limits issuance and verification, and hands
verified logins back to the host authorization server through a signed
callback.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the otpbridge CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)

	return rootCmd
}
