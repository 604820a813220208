// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/flowmind/flowmind/pkg/cog"
)

// fakeTools reports every listed name as registered.
type fakeTools struct {
	names map[string]bool
}

func newFakeTools(names ...string) *fakeTools {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return &fakeTools{names: set}
}

func (f *fakeTools) Has(name string) bool { return f.names[name] }

// fakeCaller routes calls to per-tool handlers and records every call it
// receives, tracking the peak number of concurrent invocations.
type fakeCaller struct {
	mu          sync.Mutex
	handlers    map[string]func(ctx context.Context, call cog.ToolCall) *cog.ToolResult
	calls       []cog.ToolCall
	inFlight    int
	maxInFlight int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		handlers: map[string]func(ctx context.Context, call cog.ToolCall) *cog.ToolResult{},
	}
}

func (f *fakeCaller) handle(tool string, h func(ctx context.Context, call cog.ToolCall) *cog.ToolResult) {
	f.handlers[tool] = h
}

func (f *fakeCaller) Call(ctx context.Context, call cog.ToolCall) *cog.ToolResult {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	h := f.handlers[call.Tool]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if h == nil {
		return okResult(map[string]any{"echo": call.Arguments})
	}
	return h(ctx, call)
}

func (f *fakeCaller) callsFor(tool string) []cog.ToolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []cog.ToolCall
	for _, c := range f.calls {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCaller) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func okResult(output map[string]any) *cog.ToolResult {
	return &cog.ToolResult{Status: cog.CallOK, Output: output, ProducedAt: time.Now().UTC()}
}

func failResult(kind cog.ErrorKind, message string) *cog.ToolResult {
	result := &cog.ToolResult{
		ErrorKind:    kind,
		ErrorMessage: message,
		ProducedAt:   time.Now().UTC(),
	}
	switch kind {
	case cog.KindTimeout:
		result.Status = cog.CallTimeout
	case cog.KindCancelled:
		result.Status = cog.CallCancelled
	case cog.KindValidationError:
		result.Status = cog.CallValidationError
	default:
		result.Status = cog.CallHandlerError
	}
	return result
}

// blockUntilCancelled is a handler that only returns once the engine
// cancels the run context.
func blockUntilCancelled(ctx context.Context, _ cog.ToolCall) *cog.ToolResult {
	<-ctx.Done()
	return failResult(cog.KindCancelled, "tool call cancelled")
}

// fastRetry is a retry policy with negligible backoff for tests.
func fastRetry(maxAttempts int, kinds ...cog.ErrorKind) *RetryPolicy {
	if len(kinds) == 0 {
		kinds = []cog.ErrorKind{cog.KindTimeout, cog.KindHandlerError, cog.KindStoreUnavailable}
	}
	return &RetryPolicy{
		MaxAttempts:          maxAttempts,
		InitialBackoffMillis: 1,
		Multiplier:           1.1,
		MaxBackoffMillis:     5,
		RetryableKinds:       kinds,
	}
}
