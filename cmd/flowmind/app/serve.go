// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/flowmind/flowmind/pkg/cog/analyzers"
	"github.com/flowmind/flowmind/pkg/cog/dispatch"
	"github.com/flowmind/flowmind/pkg/cog/metrics"
	"github.com/flowmind/flowmind/pkg/cog/registry"
	"github.com/flowmind/flowmind/pkg/cog/server"
	"github.com/flowmind/flowmind/pkg/cog/store"
	"github.com/flowmind/flowmind/pkg/cog/store/sqlite"
	"github.com/flowmind/flowmind/pkg/cog/workflow"
	"github.com/flowmind/flowmind/pkg/logger"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the flowmind MCP server",
		Long: `Start the flowmind server. Transports:

  stdio  serve a single client over stdin/stdout (the default)
  http   serve streamable HTTP on --host/--port, with /healthz and /metrics

With --db the session log and workflow checkpoints persist to SQLite and
interrupted runs resume on startup; without it state is in memory.`,
		RunE: serveCmdFunc,
	}

	cmd.Flags().String("transport", "stdio", "Transport to serve on (stdio or http)")
	cmd.Flags().String("host", "127.0.0.1", "Host to listen on (http transport)")
	cmd.Flags().Int("port", 8094, "Port to listen on (http transport)")
	cmd.Flags().String("db", "", "SQLite database path; empty keeps state in memory")
	cmd.Flags().Int("workers", 0, "Max parallel workflow nodes (0 uses WORKFLOW_WORKERS or the default)")
	cmd.Flags().String("auth-token", "", "Require this bearer token on HTTP requests")

	for _, flag := range []string{"transport", "host", "port", "db", "workers", "auth-token"} {
		if err := viper.BindPFlag(flag, cmd.Flags().Lookup(flag)); err != nil {
			logger.Fatalf("binding %s flag: %v", flag, err)
		}
	}
	return cmd
}

func serveCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transport := viper.GetString("transport")
	if transport != "stdio" && transport != "http" {
		return fmt.Errorf("unsupported transport %q", transport)
	}

	var st store.Store
	if dbPath := viper.GetString("db"); dbPath != "" {
		sqliteStore, err := sqlite.Open(ctx, dbPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer sqliteStore.Close()
		st = sqliteStore
		logger.Infow("using sqlite store", "path", dbPath)
	} else {
		st = store.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	reg := registry.New()
	if err := analyzers.RegisterAll(reg); err != nil {
		return fmt.Errorf("registering analyzers: %w", err)
	}

	disp := dispatch.New(reg, st, m)

	workers := viper.GetInt("workers")
	if workers <= 0 {
		workers = workflow.WorkersFromEnv()
	}
	engine := workflow.NewEngine(reg, disp, st, st,
		workflow.WithWorkers(workers),
		workflow.WithObserver(m),
	)

	// Resume interrupted runs before accepting traffic.
	if err := engine.Rehydrate(ctx); err != nil {
		return fmt.Errorf("rehydrating workflow runs: %w", err)
	}

	srv := server.New(server.Config{
		Name:      "flowmind",
		Version:   Version,
		HTTPAddr:  fmt.Sprintf("%s:%d", viper.GetString("host"), viper.GetInt("port")),
		AuthToken: viper.GetString("auth-token"),
	}, reg, disp, engine)
	srv.SyncTools()

	group, groupCtx := errgroup.WithContext(ctx)
	switch transport {
	case "http":
		metricsHandler := promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		group.Go(func() error { return srv.ServeHTTP(groupCtx, metricsHandler) })
	default:
		group.Go(func() error { return srv.ServeStdio(groupCtx) })
	}
	return group.Wait()
}
