// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package cog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "classified error", err: NewError(KindReferenceError, "missing path"), want: KindReferenceError},
		{name: "wrapped classified error", err: fmt.Errorf("resolving: %w", NewError(KindTimeout, "late")), want: KindTimeout},
		{name: "unknown tool sentinel", err: fmt.Errorf("tool %q: %w", "x", ErrUnknownTool), want: KindUnknownTool},
		{name: "cyclic dependency sentinel", err: fmt.Errorf("a -> b -> a: %w", ErrCyclicDependency), want: KindCyclicDependency},
		{name: "store sentinel", err: ErrStoreUnavailable, want: KindStoreUnavailable},
		{name: "not found sentinel", err: ErrNotFound, want: KindNotFound},
		{name: "cancelled sentinel", err: ErrCancelled, want: KindCancelled},
		{name: "invalid input sentinel", err: ErrInvalidInput, want: KindInvalidParams},
		{name: "unclassified error", err: errors.New("boom"), want: KindHandlerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestUpstreamFailureSentinel(t *testing.T) {
	t.Parallel()

	sentinel := UpstreamFailureSentinel("classify", KindTimeout, "deadline exceeded")
	require.True(t, IsUpstreamFailure(sentinel))
	assert.Equal(t, "classify", sentinel["nodeId"])
	assert.Equal(t, "timeout", sentinel["errorKind"])
	assert.Equal(t, "deadline exceeded", sentinel["errorMessage"])

	assert.False(t, IsUpstreamFailure(map[string]any{"nodeId": "classify"}))
	assert.False(t, IsUpstreamFailure("not a map"))
	assert.False(t, IsUpstreamFailure(nil))
}

func TestErrorWithDetails(t *testing.T) {
	t.Parallel()

	err := NewError(KindValidationError, "bad %s", "input").
		WithDetails(map[string]any{"violations": []any{"a.b"}})
	assert.Equal(t, "validationError: bad input", err.Error())
	assert.Equal(t, []any{"a.b"}, err.Details["violations"])

	var ce *Error
	require.ErrorAs(t, fmt.Errorf("wrap: %w", err), &ce)
	assert.Equal(t, KindValidationError, ce.Kind)
}
