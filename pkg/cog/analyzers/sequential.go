// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package analyzers

import (
	"context"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/schema"
	"github.com/flowmind/flowmind/pkg/cog/store"
)

// sequentialThinking is the progressive analyzer: each call records one
// thought as a session step, optionally revising an earlier step or
// branching the chain. The session fields in the schema are lifted into
// the call envelope by the server, so the dispatcher handles the actual
// append; the handler only reports chain position.
func sequentialThinking() cog.ToolSpec {
	return cog.ToolSpec{
		Name:        "sequential_thinking",
		Version:     "1.0.0",
		Description: "Decompose a problem into an ordered chain of thoughts with support for revision and branching.",
		InputSchema: schema.Object(map[string]schema.Field{
			"thought":           schema.Req(schema.String().Describe("The current thinking step.")),
			"thoughtNumber":     schema.Req(schema.Integer().Bounded(1, 1000).Describe("Position of this thought in the chain.")),
			"totalThoughts":     schema.Req(schema.Integer().Bounded(1, 1000).Describe("Current estimate of the chain length.")),
			"nextThoughtNeeded": schema.OptDefault(schema.Boolean(), true),
			"sessionId":         schema.Opt(schema.String().Describe("Session to append this thought to.")),
			"branchId":          schema.Opt(schema.String()),
			"revisesStep":       schema.Opt(schema.Integer().Bounded(1, 1_000_000)),
			"branchFromStep":    schema.Opt(schema.Integer().Bounded(1, 1_000_000)),
		}),
		OutputSchema: schema.Object(map[string]schema.Field{
			"thought":           schema.Req(schema.String()),
			"thoughtNumber":     schema.Req(schema.Integer()),
			"totalThoughts":     schema.Req(schema.Integer()),
			"nextThoughtNeeded": schema.Req(schema.Boolean()),
			"recordedSteps":     schema.Req(schema.Integer().Describe("Steps already recorded in the session before this one.")),
		}),
		Handler:        sequentialThinkingHandler,
		DefaultTimeout: defaultTimeout,
	}
}

func sequentialThinkingHandler(ctx context.Context, args map[string]any) (map[string]any, error) {
	thoughtNumber := args["thoughtNumber"]
	totalThoughts := args["totalThoughts"]

	// A chain estimate shorter than the current position is extended
	// rather than rejected; estimates are expected to drift.
	if tn, ok := toInt64(thoughtNumber); ok {
		if tt, ok := toInt64(totalThoughts); ok && tt < tn {
			totalThoughts = tn
		}
	}

	recorded := 0
	if info, ok := cog.SessionInfoFrom(ctx); ok {
		if log, ok := store.SessionLogFrom(ctx); ok {
			steps, err := log.ReadSession(ctx, info.ID, store.ReadOptions{
				BranchID:     info.BranchID,
				FilterBranch: true,
			})
			if err == nil {
				recorded = len(steps)
			}
		}
	}

	return map[string]any{
		"thought":           args["thought"],
		"thoughtNumber":     thoughtNumber,
		"totalThoughts":     totalThoughts,
		"nextThoughtNeeded": args["nextThoughtNeeded"],
		"recordedSteps":     recorded,
	}, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
