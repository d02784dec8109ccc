// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the OTP bridge.
package main

import (
	"os"

	"github.com/stacklok/otpbridge/cmd/otpbridge/app"
	"github.com/stacklok/otpbridge/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
