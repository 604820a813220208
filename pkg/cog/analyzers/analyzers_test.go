// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package analyzers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/dispatch"
	"github.com/flowmind/flowmind/pkg/cog/registry"
	"github.com/flowmind/flowmind/pkg/cog/store"
)

// newAnalyzerDispatcher wires the analyzers into a real registry and
// dispatcher so the tests cover the same path production calls take.
func newAnalyzerDispatcher(t *testing.T, sessions store.SessionStore) *dispatch.Dispatcher {
	t.Helper()
	reg := registry.New()
	require.NoError(t, RegisterAll(reg))
	return dispatch.New(reg, sessions, nil)
}

func TestRegisterAll(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	require.NoError(t, RegisterAll(reg))

	descs := reg.List()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	assert.Equal(t, []string{
		"decision_matrix",
		"first_principles",
		"mental_model",
		"perspective_shift",
		"sequential_thinking",
	}, names)

	// Registering twice is idempotent.
	require.NoError(t, RegisterAll(reg))
	assert.Len(t, reg.List(), 5)
}

func TestDecisionMatrix(t *testing.T) {
	t.Parallel()
	d := newAnalyzerDispatcher(t, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool: "decision_matrix",
		Arguments: map[string]any{
			"options": []any{"postgres", "sqlite", "redis"},
			"criteria": []any{
				map[string]any{"name": "durability", "weight": float64(3)},
				map[string]any{"name": "simplicity"},
			},
			"scores": []any{
				[]any{float64(9), float64(4)},
				[]any{float64(7), float64(9)},
				[]any{float64(5), float64(8)},
			},
		},
	})
	require.True(t, result.OK(), result.ErrorMessage)

	assert.Equal(t, "postgres", result.Output["best"])
	rankings := result.Output["rankings"].([]any)
	require.Len(t, rankings, 3)
	first := rankings[0].(map[string]any)
	assert.Equal(t, "postgres", first["option"])
	assert.Equal(t, float64(31), first["score"], "9*3 + 4*1 with the default weight")
	second := rankings[1].(map[string]any)
	assert.Equal(t, "sqlite", second["option"])
	assert.Equal(t, float64(30), second["score"])
}

func TestDecisionMatrixDimensionMismatch(t *testing.T) {
	t.Parallel()
	d := newAnalyzerDispatcher(t, nil)

	tests := []struct {
		name   string
		scores []any
	}{
		{name: "wrong row count", scores: []any{[]any{float64(1)}}},
		{name: "wrong column count", scores: []any{[]any{float64(1), float64(2)}, []any{float64(3), float64(4)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := d.Call(context.Background(), cog.ToolCall{
				Tool: "decision_matrix",
				Arguments: map[string]any{
					"options":  []any{"a", "b"},
					"criteria": []any{map[string]any{"name": "c"}},
					"scores":   tt.scores,
				},
			})
			assert.Equal(t, cog.CallValidationError, result.Status)
			assert.Equal(t, cog.KindValidationError, result.ErrorKind)
		})
	}
}

func TestMentalModel(t *testing.T) {
	t.Parallel()
	d := newAnalyzerDispatcher(t, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool: "mental_model",
		Arguments: map[string]any{
			"model":   "pareto",
			"problem": "build times are slow",
		},
	})
	require.True(t, result.OK(), result.ErrorMessage)
	assert.Equal(t, "pareto", result.Output["model"])
	steps := result.Output["steps"].([]any)
	assert.Len(t, steps, 4)
	assert.Contains(t, result.Output["conclusion"], "pareto")

	// Unknown models are rejected by the enum before the handler runs.
	result = d.Call(context.Background(), cog.ToolCall{
		Tool: "mental_model",
		Arguments: map[string]any{
			"model":   "vibes",
			"problem": "anything",
		},
	})
	assert.Equal(t, cog.CallValidationError, result.Status)
}

func TestPerspectiveShift(t *testing.T) {
	t.Parallel()
	d := newAnalyzerDispatcher(t, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool:      "perspective_shift",
		Arguments: map[string]any{"statement": "migrate to the new queue"},
	})
	require.True(t, result.OK(), result.ErrorMessage)

	analyses := result.Output["analyses"].([]any)
	require.Len(t, analyses, 3, "defaults to user, engineer, business")
	perspectives := make([]string, len(analyses))
	for i, a := range analyses {
		entry := a.(map[string]any)
		perspectives[i] = entry["perspective"].(string)
		assert.NotEmpty(t, entry["considerations"])
	}
	assert.Equal(t, []string{"user", "engineer", "business"}, perspectives)
}

func TestFirstPrinciples(t *testing.T) {
	t.Parallel()
	d := newAnalyzerDispatcher(t, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool:      "first_principles",
		Arguments: map[string]any{"problem": "cache invalidation"},
	})
	require.True(t, result.OK(), result.ErrorMessage)
	assert.Len(t, result.Output["assumptions"].([]any), 3, "default depth")

	result = d.Call(context.Background(), cog.ToolCall{
		Tool:      "first_principles",
		Arguments: map[string]any{"problem": "cache invalidation", "depth": float64(5)},
	})
	require.True(t, result.OK(), result.ErrorMessage)
	assert.Len(t, result.Output["fundamentals"].([]any), 5)
}

func TestSequentialThinking(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore()
	d := newAnalyzerDispatcher(t, st)

	first := d.Call(context.Background(), cog.ToolCall{
		Tool:      "sequential_thinking",
		SessionID: "sess",
		Arguments: map[string]any{
			"thought":       "define the problem",
			"thoughtNumber": float64(1),
			"totalThoughts": float64(3),
		},
	})
	require.True(t, first.OK(), first.ErrorMessage)
	assert.Equal(t, int64(0), first.Output["recordedSteps"], "no steps existed before this call")
	assert.Equal(t, true, first.Output["nextThoughtNeeded"], "defaults to true")
	assert.Equal(t, 1, first.SessionStep)

	second := d.Call(context.Background(), cog.ToolCall{
		Tool:      "sequential_thinking",
		SessionID: "sess",
		Arguments: map[string]any{
			"thought":       "gather constraints",
			"thoughtNumber": float64(2),
			"totalThoughts": float64(3),
		},
	})
	require.True(t, second.OK(), second.ErrorMessage)
	assert.Equal(t, int64(1), second.Output["recordedSteps"])
	assert.Equal(t, 2, second.SessionStep)
}

func TestSequentialThinkingExtendsEstimate(t *testing.T) {
	t.Parallel()
	d := newAnalyzerDispatcher(t, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool: "sequential_thinking",
		Arguments: map[string]any{
			"thought":       "one more than planned",
			"thoughtNumber": float64(5),
			"totalThoughts": float64(3),
		},
	})
	require.True(t, result.OK(), result.ErrorMessage)
	assert.Equal(t, int64(5), result.Output["totalThoughts"], "estimate extends to the current position")
}

func TestAllSpecsHaveTimeouts(t *testing.T) {
	t.Parallel()
	for _, spec := range All() {
		assert.Equal(t, defaultTimeout, spec.DefaultTimeout, spec.Name)
		assert.NotNil(t, spec.OutputSchema, spec.Name)
	}
}
