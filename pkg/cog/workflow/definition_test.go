// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmind/flowmind/pkg/cog"
)

func TestParseDefinition(t *testing.T) {
	t.Parallel()

	def, err := ParseDefinition(map[string]any{
		"name":    "pipeline",
		"version": "1",
		"nodes": []any{
			map[string]any{"id": "a", "tool": "echo", "arguments": map[string]any{"text": "hi"}},
			map[string]any{
				"id": "b", "tool": "echo",
				"dependsOn":     []any{"a"},
				"timeoutMillis": float64(500),
				"onError":       "continue",
				"retryPolicy": map[string]any{
					"maxAttempts":          float64(2),
					"initialBackoffMillis": float64(10),
					"backoffMultiplier":    float64(1.5),
					"maxBackoffMillis":     float64(100),
					"retryableKinds":       []any{"timeout"},
				},
			},
		},
		"maxParallelism":     float64(2),
		"defaultRetryPolicy": map[string]any{"maxAttempts": float64(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, "pipeline", def.Name)
	assert.Equal(t, 2, def.MaxParallelism)
	require.Len(t, def.Nodes, 2)
	assert.Equal(t, []string{"a"}, def.Nodes[1].DependsOn)
	assert.Equal(t, int64(500), def.Nodes[1].TimeoutMillis)
	assert.Equal(t, OnErrorContinue, def.Nodes[1].OnError)
	require.NotNil(t, def.Nodes[1].Retry)
	assert.Equal(t, 2, def.Nodes[1].Retry.MaxAttempts)
	assert.Equal(t, 1.5, def.Nodes[1].Retry.Multiplier)
	require.NotNil(t, def.DefaultRetry)
	assert.Equal(t, 1, def.DefaultRetry.MaxAttempts)
}

func TestParseDefinitionUnknownField(t *testing.T) {
	t.Parallel()

	_, err := ParseDefinition(map[string]any{
		"nodes": []any{map[string]any{"id": "a", "tool": "echo"}},
		"steps": []any{},
	})
	assert.ErrorIs(t, err, cog.ErrInvalidInput)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	allTools := func(string) bool { return true }

	tests := []struct {
		name    string
		def     Definition
		tools   func(string) bool
		wantErr error
	}{
		{
			// An empty workflow is a valid degenerate graph; it completes
			// immediately with no work.
			name:  "no nodes",
			def:   Definition{},
			tools: allTools,
		},
		{
			name:    "empty node id",
			def:     Definition{Nodes: []Node{{Tool: "echo"}}},
			tools:   allTools,
			wantErr: cog.ErrInvalidInput,
		},
		{
			name:    "reserved characters in id",
			def:     Definition{Nodes: []Node{{ID: "a.b", Tool: "echo"}}},
			tools:   allTools,
			wantErr: cog.ErrInvalidInput,
		},
		{
			name:    "missing tool",
			def:     Definition{Nodes: []Node{{ID: "a"}}},
			tools:   allTools,
			wantErr: cog.ErrInvalidInput,
		},
		{
			name: "duplicate node id",
			def: Definition{Nodes: []Node{
				{ID: "a", Tool: "echo"},
				{ID: "a", Tool: "echo"},
			}},
			tools:   allTools,
			wantErr: cog.ErrInvalidInput,
		},
		{
			name:    "invalid onError",
			def:     Definition{Nodes: []Node{{ID: "a", Tool: "echo", OnError: "explode"}}},
			tools:   allTools,
			wantErr: cog.ErrInvalidInput,
		},
		{
			name:    "retry maxAttempts below one",
			def:     Definition{Nodes: []Node{{ID: "a", Tool: "echo", Retry: &RetryPolicy{MaxAttempts: 0}}}},
			tools:   allTools,
			wantErr: cog.ErrInvalidInput,
		},
		{
			name:    "unknown tool",
			def:     Definition{Nodes: []Node{{ID: "a", Tool: "nope"}}},
			tools:   func(string) bool { return false },
			wantErr: cog.ErrUnknownTool,
		},
		{
			name: "unknown dependency",
			def: Definition{Nodes: []Node{
				{ID: "a", Tool: "echo", DependsOn: []string{"ghost"}},
			}},
			tools:   allTools,
			wantErr: cog.ErrInvalidInput,
		},
		{
			name: "unknown referenced node",
			def: Definition{Nodes: []Node{
				{ID: "a", Tool: "echo", Arguments: map[string]any{"text": "${nodes.ghost.output.x}"}},
			}},
			tools:   allTools,
			wantErr: cog.ErrInvalidInput,
		},
		{
			name: "self dependency",
			def: Definition{Nodes: []Node{
				{ID: "a", Tool: "echo", DependsOn: []string{"a"}},
			}},
			tools:   allTools,
			wantErr: cog.ErrCyclicDependency,
		},
		{
			name: "valid diamond",
			def: Definition{Nodes: []Node{
				{ID: "a", Tool: "echo"},
				{ID: "b", Tool: "echo", DependsOn: []string{"a"}},
				{ID: "c", Tool: "echo", Arguments: map[string]any{"text": "${nodes.a.output.text}"}},
				{ID: "d", Tool: "echo", DependsOn: []string{"b", "c"}},
			}},
			tools: allTools,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.def.Validate(tt.tools)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateCycleNamesParticipants(t *testing.T) {
	t.Parallel()

	def := Definition{Nodes: []Node{
		{ID: "a", Tool: "echo", DependsOn: []string{"c"}},
		{ID: "b", Tool: "echo", DependsOn: []string{"a"}},
		{ID: "c", Tool: "echo", Arguments: map[string]any{"text": "${nodes.b.output.text}"}},
	}}
	err := def.Validate(nil)
	require.ErrorIs(t, err, cog.ErrCyclicDependency)
	assert.Contains(t, err.Error(), " -> ")
	for _, id := range []string{"a", "b", "c"} {
		assert.Contains(t, err.Error(), id)
	}
}

func TestEdgesMergesExplicitAndImplicit(t *testing.T) {
	t.Parallel()

	def := Definition{Nodes: []Node{
		{ID: "a", Tool: "echo"},
		{ID: "b", Tool: "echo"},
		{ID: "c", Tool: "echo",
			DependsOn: []string{"b"},
			Arguments: map[string]any{
				"text":  "${nodes.a.output.text}",
				"again": "also ${nodes.b.output.text} embedded",
			}},
	}}
	require.NoError(t, def.Validate(nil))
	assert.Equal(t, map[string][]string{
		"a": {},
		"b": {},
		"c": {"a", "b"},
	}, def.Edges())
}

func TestRetryPolicyRetryable(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	assert.True(t, p.Retryable(cog.KindTimeout))
	assert.True(t, p.Retryable(cog.KindHandlerError))
	assert.True(t, p.Retryable(cog.KindStoreUnavailable))

	// Never retried, even when listed explicitly.
	never := RetryPolicy{MaxAttempts: 5, RetryableKinds: []cog.ErrorKind{
		cog.KindValidationError, cog.KindReferenceError, cog.KindCancelled, cog.KindUnknownTool,
	}}
	assert.False(t, never.Retryable(cog.KindValidationError))
	assert.False(t, never.Retryable(cog.KindReferenceError))
	assert.False(t, never.Retryable(cog.KindCancelled))
	assert.False(t, never.Retryable(cog.KindUnknownTool))
}

func TestRetryForResolution(t *testing.T) {
	t.Parallel()

	nodePolicy := RetryPolicy{MaxAttempts: 7}
	defPolicy := RetryPolicy{MaxAttempts: 5}

	def := Definition{
		DefaultRetry: &defPolicy,
		Nodes: []Node{
			{ID: "override", Tool: "echo", Retry: &nodePolicy},
			{ID: "inherit", Tool: "echo"},
		},
	}
	assert.Equal(t, 7, def.retryFor(def.node("override")).MaxAttempts)
	assert.Equal(t, 5, def.retryFor(def.node("inherit")).MaxAttempts)

	bare := Definition{Nodes: []Node{{ID: "a", Tool: "echo"}}}
	assert.Equal(t, DefaultRetryPolicy(), bare.retryFor(bare.node("a")))
}

func TestOnErrorFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, OnErrorFail, onErrorFor(&Node{}))
	assert.Equal(t, OnErrorContinue, onErrorFor(&Node{OnError: OnErrorContinue}))
}
