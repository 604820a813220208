// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the flowmind command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowmind/flowmind/pkg/logger"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:               "flowmind",
	DisableAutoGenTag: true,
	Short:             "flowmind is a cognitive-tool orchestration engine speaking MCP",
	Long: `flowmind exposes a catalog of cognitive analyzer tools over the Model
Context Protocol and composes them into DAG workflows with data
dependencies, parallel fan-out, retries, and progressive session state.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// Re-initialize after flag parsing so --debug takes effect.
		logger.Initialize()
	},
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the flowmind CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Fatalf("binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the flowmind version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(Version)
		},
	}
}
