// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/schema"
)

func echoSpec(name string) cog.ToolSpec {
	return cog.ToolSpec{
		Name:        name,
		Version:     "1.0.0",
		Description: "echoes its input",
		InputSchema: schema.Object(map[string]schema.Field{
			"text": schema.Req(schema.String()),
		}),
		OutputSchema: schema.Object(map[string]schema.Field{
			"text": schema.Req(schema.String()),
		}),
		Handler: func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"text": args["text"]}, nil
		},
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*cog.ToolSpec)
	}{
		{name: "empty name", mutate: func(s *cog.ToolSpec) { s.Name = "" }},
		{name: "name with spaces", mutate: func(s *cog.ToolSpec) { s.Name = "bad name" }},
		{name: "name starting with digit", mutate: func(s *cog.ToolSpec) { s.Name = "1tool" }},
		{name: "nil handler", mutate: func(s *cog.ToolSpec) { s.Handler = nil }},
		{name: "nil input schema", mutate: func(s *cog.ToolSpec) { s.InputSchema = nil }},
		{name: "non-object input schema", mutate: func(s *cog.ToolSpec) { s.InputSchema = schema.String() }},
		{name: "non-object output schema", mutate: func(s *cog.ToolSpec) { s.OutputSchema = schema.Integer() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec := echoSpec("echo")
			tt.mutate(&spec)
			err := New().Register(spec)
			assert.ErrorIs(t, err, cog.ErrInvalidInput)
		})
	}
}

func TestRegisterIdempotentAndReplace(t *testing.T) {
	t.Parallel()
	r := New()

	require.NoError(t, r.Register(echoSpec("echo")))
	require.NoError(t, r.Register(echoSpec("echo")))

	got, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", got.Version)

	replacement := echoSpec("echo")
	replacement.Version = "2.0.0"
	require.NoError(t, r.Register(replacement))

	got, err = r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", got.Version)
}

func TestGetUnknownTool(t *testing.T) {
	t.Parallel()

	_, err := New().Get("missing")
	assert.ErrorIs(t, err, cog.ErrUnknownTool)
	assert.False(t, New().Has("missing"))
}

func TestListSortedAndHandlerFree(t *testing.T) {
	t.Parallel()
	r := New()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(echoSpec(name)))
	}

	descs := r.List()
	require.Len(t, descs, 3)
	assert.Equal(t, "alpha", descs[0].Name)
	assert.Equal(t, "mid", descs[1].Name)
	assert.Equal(t, "zeta", descs[2].Name)
	for _, d := range descs {
		assert.NotNil(t, d.InputSchema)
	}
}

func TestConcurrentReadsDuringRegister(t *testing.T) {
	t.Parallel()
	r := New()
	require.NoError(t, r.Register(echoSpec("echo")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			spec := echoSpec("echo")
			spec.Version = "2.0.0"
			_ = r.Register(spec)
			_ = r.Register(echoSpec("echo"))
		}
	}()
	for i := 0; i < 200; i++ {
		spec, err := r.Get("echo")
		require.NoError(t, err)
		assert.NotNil(t, spec.Handler)
	}
	<-done
}
