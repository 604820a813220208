// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/registry"
	"github.com/flowmind/flowmind/pkg/cog/schema"
	"github.com/flowmind/flowmind/pkg/cog/store"
)

func newTestRegistry(t *testing.T, specs ...cog.ToolSpec) *registry.Registry {
	t.Helper()
	r := registry.New()
	for _, spec := range specs {
		require.NoError(t, r.Register(spec))
	}
	return r
}

func echoSpec() cog.ToolSpec {
	return cog.ToolSpec{
		Name: "echo",
		InputSchema: schema.Object(map[string]schema.Field{
			"text":  schema.Req(schema.String()),
			"count": schema.OptDefault(schema.Integer(), float64(1)),
		}),
		OutputSchema: schema.Object(map[string]schema.Field{
			"text": schema.Req(schema.String()),
		}),
		Handler: func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"text": args["text"]}, nil
		},
	}
}

func TestCallUnknownTool(t *testing.T) {
	t.Parallel()
	d := New(newTestRegistry(t), nil, nil)

	result := d.Call(context.Background(), cog.ToolCall{Tool: "missing"})
	assert.Equal(t, cog.CallValidationError, result.Status)
	assert.Equal(t, cog.KindUnknownTool, result.ErrorKind)
}

func TestCallValidationFailure(t *testing.T) {
	t.Parallel()
	d := New(newTestRegistry(t, echoSpec()), nil, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool:      "echo",
		Arguments: map[string]any{"count": "x"},
	})
	require.Equal(t, cog.CallValidationError, result.Status)
	assert.Equal(t, cog.KindValidationError, result.ErrorKind)

	violations, ok := result.ErrorDetails["violations"].([]any)
	require.True(t, ok)
	paths := make([]string, 0, len(violations))
	for _, v := range violations {
		paths = append(paths, v.(map[string]any)["path"].(string))
	}
	assert.Contains(t, paths, "text")
	assert.Contains(t, paths, "count")
}

func TestCallNormalizesArguments(t *testing.T) {
	t.Parallel()

	var seen map[string]any
	spec := echoSpec()
	spec.Handler = func(_ context.Context, args map[string]any) (map[string]any, error) {
		seen = args
		return map[string]any{"text": "ok"}, nil
	}
	d := New(newTestRegistry(t, spec), nil, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool:      "echo",
		Arguments: map[string]any{"text": "hi", "count": float64(3)},
	})
	require.True(t, result.OK())
	assert.Equal(t, int64(3), seen["count"], "integral floats normalize to int64")

	result = d.Call(context.Background(), cog.ToolCall{
		Tool:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	require.True(t, result.OK())
	assert.Equal(t, float64(1), seen["count"], "defaults are injected")
}

func TestCallOutputSchemaViolation(t *testing.T) {
	t.Parallel()

	spec := echoSpec()
	spec.Handler = func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"text": 42}, nil
	}
	d := New(newTestRegistry(t, spec), nil, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	assert.Equal(t, cog.CallHandlerError, result.Status)
	assert.Equal(t, cog.KindHandlerError, result.ErrorKind)
	assert.Equal(t, true, result.ErrorDetails["schemaViolation"])
}

func TestCallTimeout(t *testing.T) {
	t.Parallel()

	spec := echoSpec()
	spec.Handler = func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d := New(newTestRegistry(t, spec), nil, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool:      "echo",
		Arguments: map[string]any{"text": "hi"},
		Timeout:   20 * time.Millisecond,
	})
	assert.Equal(t, cog.CallTimeout, result.Status)
	assert.Equal(t, cog.KindTimeout, result.ErrorKind)
}

func TestCallTimeoutWithStuckHandler(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	spec := echoSpec()
	spec.Handler = func(_ context.Context, _ map[string]any) (map[string]any, error) {
		// Ignores cancellation entirely.
		<-release
		return map[string]any{"text": "late"}, nil
	}
	d := New(newTestRegistry(t, spec), nil, nil)

	start := time.Now()
	result := d.Call(context.Background(), cog.ToolCall{
		Tool:      "echo",
		Arguments: map[string]any{"text": "hi"},
		Timeout:   20 * time.Millisecond,
	})
	assert.Equal(t, cog.CallTimeout, result.Status)
	assert.Less(t, time.Since(start), 5*time.Second, "caller must not wait for a stuck handler")
}

func TestCallCancellation(t *testing.T) {
	t.Parallel()

	spec := echoSpec()
	spec.Handler = func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d := New(newTestRegistry(t, spec), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	result := d.Call(ctx, cog.ToolCall{Tool: "echo", Arguments: map[string]any{"text": "hi"}})
	assert.Equal(t, cog.CallCancelled, result.Status)
	assert.Equal(t, cog.KindCancelled, result.ErrorKind)
}

func TestCallPanicRecovery(t *testing.T) {
	t.Parallel()

	spec := echoSpec()
	spec.Handler = func(_ context.Context, _ map[string]any) (map[string]any, error) {
		panic("boom")
	}
	d := New(newTestRegistry(t, spec), nil, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	assert.Equal(t, cog.CallHandlerError, result.Status)
	assert.Equal(t, cog.KindHandlerError, result.ErrorKind)
	assert.Contains(t, result.ErrorMessage, "panicked")
}

func TestCallClassifiedErrorPassthrough(t *testing.T) {
	t.Parallel()

	spec := echoSpec()
	spec.Handler = func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, cog.NewError(cog.KindValidationError, "scores matrix has the wrong shape").
			WithDetails(map[string]any{"rows": 2})
	}
	d := New(newTestRegistry(t, spec), nil, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	assert.Equal(t, cog.CallValidationError, result.Status)
	assert.Equal(t, cog.KindValidationError, result.ErrorKind)
	assert.Equal(t, 2, result.ErrorDetails["rows"])
}

func TestCallStoreUnavailable(t *testing.T) {
	t.Parallel()

	spec := echoSpec()
	spec.Handler = func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, errors.Join(store.ErrUnavailable, errors.New("disk full"))
	}
	d := New(newTestRegistry(t, spec), nil, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	assert.Equal(t, cog.CallHandlerError, result.Status)
	assert.Equal(t, cog.KindStoreUnavailable, result.ErrorKind)
}

func TestCallSessionAppend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemoryStore()
	d := New(newTestRegistry(t, echoSpec()), st, nil)

	first := d.Call(ctx, cog.ToolCall{
		Tool:      "echo",
		Arguments: map[string]any{"text": "one"},
		SessionID: "sess",
	})
	require.True(t, first.OK())
	assert.Equal(t, 1, first.SessionStep)

	second := d.Call(ctx, cog.ToolCall{
		Tool:        "echo",
		Arguments:   map[string]any{"text": "two"},
		SessionID:   "sess",
		RevisesStep: 1,
	})
	require.True(t, second.OK())
	assert.Equal(t, 2, second.SessionStep)

	branch := d.Call(ctx, cog.ToolCall{
		Tool:           "echo",
		Arguments:      map[string]any{"text": "fork"},
		SessionID:      "sess",
		BranchID:       "alt",
		BranchFromStep: 1,
	})
	require.True(t, branch.OK())
	assert.Equal(t, 1, branch.SessionStep)

	steps, err := st.ReadSession(ctx, "sess", store.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, store.StepAnalyzer, steps[0].Kind)
	assert.Equal(t, store.StepRevision, steps[1].Kind)
	assert.Equal(t, store.StepBranch, steps[2].Kind)
	assert.Equal(t, "echo", steps[0].Payload["tool"])
	assert.Equal(t, map[string]any{"text": "one"}, steps[0].Payload["output"])
}

func TestCallSessionAppendBadRevision(t *testing.T) {
	t.Parallel()
	d := New(newTestRegistry(t, echoSpec()), store.NewMemoryStore(), nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool:        "echo",
		Arguments:   map[string]any{"text": "hi"},
		SessionID:   "sess",
		RevisesStep: 7,
	})
	assert.Equal(t, cog.CallValidationError, result.Status)
	assert.Equal(t, cog.KindValidationError, result.ErrorKind)
}

func TestCallFailedHandlerDoesNotAppend(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore()
	spec := echoSpec()
	spec.Handler = func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	}
	d := New(newTestRegistry(t, spec), st, nil)

	result := d.Call(context.Background(), cog.ToolCall{
		Tool:      "echo",
		Arguments: map[string]any{"text": "hi"},
		SessionID: "sess",
	})
	require.False(t, result.OK())

	_, err := st.ReadSession(context.Background(), "sess", store.ReadOptions{})
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestCallObserver(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	d := New(newTestRegistry(t, echoSpec()), nil, obs)

	d.Call(context.Background(), cog.ToolCall{Tool: "echo", Arguments: map[string]any{"text": "hi"}})
	d.Call(context.Background(), cog.ToolCall{Tool: "missing"})

	require.Len(t, obs.calls, 2)
	assert.Equal(t, cog.CallOK, obs.calls[0].status)
	assert.Equal(t, cog.KindUnknownTool, obs.calls[1].kind)
}

type observedCall struct {
	tool   string
	status cog.CallStatus
	kind   cog.ErrorKind
}

type recordingObserver struct {
	calls []observedCall
}

func (o *recordingObserver) ObserveToolCall(tool string, status cog.CallStatus, kind cog.ErrorKind, _ time.Duration) {
	o.calls = append(o.calls, observedCall{tool: tool, status: status, kind: kind})
}
