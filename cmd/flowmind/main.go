// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the flowmind server CLI.
package main

import (
	"os"

	"github.com/flowmind/flowmind/cmd/flowmind/app"
	"github.com/flowmind/flowmind/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
