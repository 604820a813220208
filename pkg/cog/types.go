// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package cog defines the core domain types shared by the cognitive-tool
// orchestration engine: tool specifications, call envelopes, results, and
// the stable error-kind taxonomy.
//
// Following DDD principles, domain types and errors live at the package
// root; subpackages (schema, registry, dispatch, workflow, store, server)
// implement behavior on top of them.
package cog

import (
	"context"
	"time"

	"github.com/flowmind/flowmind/pkg/cog/schema"
)

// Handler implements one tool's behavior. Arguments are always the
// validated and normalized form produced by schema validation, never the
// caller's raw input.
//
// Handlers must respect context cancellation at every I/O boundary and
// must be idempotent or safely retriable: after a crash the workflow
// engine re-executes any node that was in flight.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// ToolSpec describes a registered tool. Name is the primary key in the
// registry; two tools with the same name cannot coexist.
type ToolSpec struct {
	// Name uniquely identifies the tool. Required, non-empty.
	Name string

	// Version is the tool version string (informational).
	Version string

	// Description describes what the tool does, surfaced in tools/list.
	Description string

	// InputSchema describes the shape of valid arguments. Required.
	InputSchema *schema.Schema

	// OutputSchema describes the shape of valid output. Required.
	OutputSchema *schema.Schema

	// Handler implements the tool. Required.
	Handler Handler

	// DefaultTimeout bounds a single invocation when the caller and the
	// workflow node supply no tighter deadline. Zero means no tool-level
	// default.
	DefaultTimeout time.Duration

	// Metadata stores free-form tool information.
	Metadata map[string]string
}

// Descriptor returns the handler-free view of the spec.
func (s ToolSpec) Descriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:         s.Name,
		Version:      s.Version,
		Description:  s.Description,
		InputSchema:  s.InputSchema,
		OutputSchema: s.OutputSchema,
		Metadata:     s.Metadata,
	}
}

// ToolDescriptor is the handler-free view of a ToolSpec returned by
// registry listing and the tools/list RPC.
type ToolDescriptor struct {
	Name         string            `json:"name"`
	Version      string            `json:"version,omitempty"`
	Description  string            `json:"description,omitempty"`
	InputSchema  *schema.Schema    `json:"inputSchema"`
	OutputSchema *schema.Schema    `json:"outputSchema"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ToolCall is the envelope the dispatcher builds for one invocation.
type ToolCall struct {
	// Tool is the registered tool name.
	Tool string

	// Arguments are the caller-supplied arguments. The dispatcher
	// validates and normalizes them before the handler sees them.
	Arguments map[string]any

	// Deadline is the caller's absolute deadline. Zero means none; the
	// effective per-call deadline is the minimum of this, the tool's
	// default timeout, and the workflow node timeout.
	Deadline time.Time

	// Timeout is an optional relative bound (typically the workflow node
	// timeout) folded into the effective deadline.
	Timeout time.Duration

	// SessionID optionally names the progressive session this call
	// appends to.
	SessionID string

	// BranchID optionally selects a session branch.
	BranchID string

	// RevisesStep optionally marks the appended step as a revision of an
	// earlier step.
	RevisesStep int

	// BranchFromStep optionally forks a new branch from an earlier step.
	BranchFromStep int

	// ParentStep optionally links the appended step to the step that
	// spawned it.
	ParentStep int

	// Attempt is the 1-based attempt number, set by the workflow engine
	// on retries. The dispatcher itself performs exactly one attempt.
	Attempt int
}

// CallStatus is the terminal status of one tool invocation.
type CallStatus string

const (
	// CallOK indicates the handler returned schema-conformant output.
	CallOK CallStatus = "ok"

	// CallValidationError indicates the arguments failed input-schema
	// validation; the handler was never invoked.
	CallValidationError CallStatus = "validationError"

	// CallHandlerError indicates the handler returned an error, panicked,
	// or produced output violating the output schema.
	CallHandlerError CallStatus = "handlerError"

	// CallTimeout indicates the per-call deadline elapsed.
	CallTimeout CallStatus = "timeout"

	// CallCancelled indicates the caller cancelled the invocation.
	CallCancelled CallStatus = "cancelled"
)

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	// Status classifies the outcome.
	Status CallStatus `json:"status"`

	// Output is the validated handler output. Valid iff Status is ok.
	Output map[string]any `json:"output,omitempty"`

	// ErrorKind is the stable error-kind identifier when Status is not ok.
	ErrorKind ErrorKind `json:"errorKind,omitempty"`

	// ErrorMessage is a human-readable description of the failure.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// ErrorDetails carries structured failure detail, e.g. the full list
	// of bad field paths on validation failure.
	ErrorDetails map[string]any `json:"errorDetails,omitempty"`

	// DurationMillis is the wall-clock duration of the invocation.
	DurationMillis int64 `json:"durationMillis"`

	// ProducedAt is when the result was produced.
	ProducedAt time.Time `json:"producedAt"`

	// SessionStep is the step number appended to the session log for this
	// call, when a session ID was supplied. Zero otherwise.
	SessionStep int `json:"sessionStep,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r *ToolResult) OK() bool {
	return r.Status == CallOK
}

// SessionInfo identifies the session a call executes under. It travels on
// the request context so handlers can accumulate progressive state.
type SessionInfo struct {
	ID       string
	BranchID string
}

type sessionInfoKey struct{}

// WithSessionInfo returns a context carrying the given session identity.
func WithSessionInfo(ctx context.Context, info SessionInfo) context.Context {
	return context.WithValue(ctx, sessionInfoKey{}, info)
}

// SessionInfoFrom extracts the session identity from the context, if any.
func SessionInfoFrom(ctx context.Context) (SessionInfo, bool) {
	info, ok := ctx.Value(sessionInfoKey{}).(SessionInfo)
	return info, ok
}
