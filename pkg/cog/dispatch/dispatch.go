// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch implements the single funnel through which every tool
// invocation flows: registry lookup, input validation, deadline
// computation, handler execution with panic recovery, output validation,
// failure classification, and the session log append.
//
// Both the MCP surface and the workflow engine call tools exclusively
// through the dispatcher, so every invocation gets identical semantics.
// The dispatcher performs exactly one attempt; retry policy belongs to
// the workflow engine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/registry"
	"github.com/flowmind/flowmind/pkg/cog/schema"
	"github.com/flowmind/flowmind/pkg/cog/store"
	"github.com/flowmind/flowmind/pkg/logger"
)

// CallObserver receives one observation per completed invocation.
// Implemented by the metrics package; nil disables observation.
type CallObserver interface {
	ObserveToolCall(tool string, status cog.CallStatus, kind cog.ErrorKind, duration time.Duration)
}

// Dispatcher routes tool calls to registered handlers.
type Dispatcher struct {
	registry *registry.Registry
	sessions store.SessionStore
	observer CallObserver
}

// New creates a dispatcher. sessions may be nil to disable the session
// log; observer may be nil to disable metrics.
func New(reg *registry.Registry, sessions store.SessionStore, observer CallObserver) *Dispatcher {
	return &Dispatcher{registry: reg, sessions: sessions, observer: observer}
}

// Call executes one tool invocation and always returns a result; failures
// are carried in the result, never as a Go error. The context bounds the
// whole invocation together with the call's deadline fields and the
// tool's default timeout, whichever is tightest.
func (d *Dispatcher) Call(ctx context.Context, call cog.ToolCall) *cog.ToolResult {
	start := time.Now()

	result := d.call(ctx, call, start)
	result.DurationMillis = time.Since(start).Milliseconds()
	result.ProducedAt = time.Now().UTC()

	if d.observer != nil {
		d.observer.ObserveToolCall(call.Tool, result.Status, result.ErrorKind, time.Since(start))
	}
	if !result.OK() {
		logger.Debugw("tool call failed",
			"tool", call.Tool,
			"status", result.Status,
			"errorKind", result.ErrorKind,
			"error", result.ErrorMessage)
	}
	return result
}

func (d *Dispatcher) call(ctx context.Context, call cog.ToolCall, start time.Time) *cog.ToolResult {
	spec, err := d.registry.Get(call.Tool)
	if err != nil {
		return failure(cog.KindUnknownTool, fmt.Sprintf("tool %q is not registered", call.Tool), nil)
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	normalized, violations := schema.Validate(spec.InputSchema, args)
	if len(violations) > 0 {
		return failure(cog.KindValidationError,
			fmt.Sprintf("arguments for %q failed validation", call.Tool),
			violationDetails(violations))
	}
	normalizedArgs, ok := normalized.(map[string]any)
	if !ok {
		return failure(cog.KindValidationError,
			fmt.Sprintf("arguments for %q did not normalize to an object", call.Tool), nil)
	}

	ctx, cancel := withEffectiveDeadline(ctx, call, spec, start)
	defer cancel()

	if call.SessionID != "" {
		ctx = cog.WithSessionInfo(ctx, cog.SessionInfo{ID: call.SessionID, BranchID: call.BranchID})
		if d.sessions != nil {
			ctx = store.WithSessionLog(ctx, d.sessions)
		}
	}

	output, err := d.invoke(ctx, spec.Handler, normalizedArgs)
	if err != nil {
		return classify(ctx, err)
	}

	if spec.OutputSchema != nil {
		normOut, outViolations := schema.Validate(spec.OutputSchema, anyMap(output))
		if len(outViolations) > 0 {
			details := violationDetails(outViolations)
			details["schemaViolation"] = true
			return failure(cog.KindHandlerError,
				fmt.Sprintf("output of %q violates its output schema", call.Tool), details)
		}
		if m, ok := normOut.(map[string]any); ok {
			output = m
		}
	}

	result := &cog.ToolResult{Status: cog.CallOK, Output: output}

	if call.SessionID != "" && d.sessions != nil {
		stepNumber, err := d.appendStep(ctx, call, normalizedArgs, output)
		if err != nil {
			if errors.Is(err, store.ErrStepNotFound) {
				return failure(cog.KindValidationError, err.Error(), nil)
			}
			return failure(cog.KindStoreUnavailable,
				fmt.Sprintf("appending session step: %v", err), nil)
		}
		result.SessionStep = stepNumber
	}

	return result
}

// invoke runs the handler in its own goroutine so a handler that ignores
// context cancellation cannot stall the caller past the deadline. The
// abandoned goroutine finishes in the background; handlers are required
// to be retriable, so its late side effects are tolerated.
func (d *Dispatcher) invoke(ctx context.Context, handler cog.Handler, args map[string]any) (map[string]any, error) {
	type outcome struct {
		output map[string]any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("tool handler panicked", "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: cog.NewError(cog.KindHandlerError, "handler panicked: %v", r)}
			}
		}()
		output, err := handler(ctx, args)
		done <- outcome{output: output, err: err}
	}()

	select {
	case out := <-done:
		return out.output, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) appendStep(ctx context.Context, call cog.ToolCall, args, output map[string]any) (int, error) {
	kind := store.StepAnalyzer
	switch {
	case call.RevisesStep > 0:
		kind = store.StepRevision
	case call.BranchFromStep > 0:
		kind = store.StepBranch
	}
	// Appends survive caller cancellation so a result that was produced is
	// never lost from the log.
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return d.sessions.AppendStep(appendCtx, call.SessionID, store.Step{
		Kind:           kind,
		BranchID:       call.BranchID,
		RevisesStep:    call.RevisesStep,
		BranchFromStep: call.BranchFromStep,
		ParentStep:     call.ParentStep,
		Payload: map[string]any{
			"tool":      call.Tool,
			"arguments": args,
			"output":    output,
		},
	})
}

// withEffectiveDeadline applies the tightest of the caller deadline, the
// call's relative timeout, and the tool's default timeout.
func withEffectiveDeadline(ctx context.Context, call cog.ToolCall, spec cog.ToolSpec, start time.Time) (context.Context, context.CancelFunc) {
	deadline := time.Time{}
	tighten := func(t time.Time) {
		if deadline.IsZero() || t.Before(deadline) {
			deadline = t
		}
	}
	if !call.Deadline.IsZero() {
		tighten(call.Deadline)
	}
	if call.Timeout > 0 {
		tighten(start.Add(call.Timeout))
	}
	if spec.DefaultTimeout > 0 {
		tighten(start.Add(spec.DefaultTimeout))
	}
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}

// classify maps a handler failure to a result with a stable error kind.
func classify(ctx context.Context, err error) *cog.ToolResult {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return failure(cog.KindTimeout, "tool call deadline exceeded", nil)
	case errors.Is(err, context.Canceled):
		return failure(cog.KindCancelled, "tool call cancelled", nil)
	case errors.Is(err, store.ErrUnavailable):
		return failure(cog.KindStoreUnavailable, err.Error(), nil)
	}

	var ce *cog.Error
	if errors.As(err, &ce) {
		return failure(ce.Kind, ce.Message, ce.Details)
	}
	return failure(cog.KindHandlerError, err.Error(), nil)
}

// failure builds an error result. Status is the coarse class of the
// stable error kind.
func failure(kind cog.ErrorKind, message string, details map[string]any) *cog.ToolResult {
	var status cog.CallStatus
	switch kind {
	case cog.KindTimeout:
		status = cog.CallTimeout
	case cog.KindCancelled:
		status = cog.CallCancelled
	case cog.KindValidationError, cog.KindUnknownTool, cog.KindInvalidParams:
		status = cog.CallValidationError
	default:
		status = cog.CallHandlerError
	}
	return &cog.ToolResult{
		Status:       status,
		ErrorKind:    kind,
		ErrorMessage: message,
		ErrorDetails: details,
	}
}

func violationDetails(violations []schema.ValidationError) map[string]any {
	list := make([]any, len(violations))
	for i, v := range violations {
		list[i] = map[string]any{"path": v.Path, "message": v.Message}
	}
	return map[string]any{"violations": list}
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
