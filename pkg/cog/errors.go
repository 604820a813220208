// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package cog

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable string identifier classifying a failure mode.
// These strings are part of the external contract and must not change.
type ErrorKind string

const (
	// KindUnknownTool indicates the requested tool is not registered.
	KindUnknownTool ErrorKind = "unknownTool"

	// KindValidationError indicates arguments failed schema validation.
	KindValidationError ErrorKind = "validationError"

	// KindHandlerError indicates a handler failure (error return, panic,
	// or output-schema violation).
	KindHandlerError ErrorKind = "handlerError"

	// KindTimeout indicates a deadline elapsed.
	KindTimeout ErrorKind = "timeout"

	// KindCancelled indicates explicit caller cancellation.
	KindCancelled ErrorKind = "cancelled"

	// KindReferenceError indicates a workflow reference resolved to a
	// path that does not exist in the referenced output.
	KindReferenceError ErrorKind = "referenceError"

	// KindCyclicDependency indicates a workflow definition contains a
	// reference cycle. Reported at parse time, never at run time.
	KindCyclicDependency ErrorKind = "cyclicDependency"

	// KindStoreUnavailable indicates a transient persistence failure.
	KindStoreUnavailable ErrorKind = "storeUnavailable"

	// KindInvalidParams indicates a malformed RPC request body.
	KindInvalidParams ErrorKind = "invalidParams"

	// KindNotFound indicates a requested resource (run, session) does
	// not exist.
	KindNotFound ErrorKind = "notFound"
)

// Common domain errors used across subpackages, checked with errors.Is.
var (
	// ErrUnknownTool indicates a lookup for an unregistered tool name.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrNotFound indicates a requested resource was not found.
	// Wrapping errors should say what was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrWorkflowFailed indicates workflow execution failed.
	// Wrapping errors should include the node ID and failure reason.
	ErrWorkflowFailed = errors.New("workflow execution failed")

	// ErrCyclicDependency indicates a reference cycle in a workflow
	// definition.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrStoreUnavailable indicates a transient persistence failure that
	// the workflow engine may retry at the node level.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrCancelled indicates an operation was cancelled.
	ErrCancelled = errors.New("operation cancelled")
)

// Error is a classified error carrying a stable kind plus structured
// detail. Handlers may return *Error to control how the dispatcher
// classifies their failures.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates a classified error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured detail and returns the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf extracts the ErrorKind from an error chain. Unclassified errors
// map to KindHandlerError; nil maps to the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, ErrUnknownTool):
		return KindUnknownTool
	case errors.Is(err, ErrCyclicDependency):
		return KindCyclicDependency
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidParams
	default:
		return KindHandlerError
	}
}

// Upstream-failure sentinel keys. When a node fails and a dependent with
// onError=continue references its output, the reference resolves to a
// sentinel object built from these keys so downstream schemas can model
// and inspect the failure.
const (
	sentinelKey             = "$upstreamFailed"
	sentinelNodeKey         = "nodeId"
	sentinelErrorKindKey    = "errorKind"
	sentinelErrorMessageKey = "errorMessage"
)

// UpstreamFailureSentinel builds the designated sentinel value that
// replaces references into a failed upstream node's output.
func UpstreamFailureSentinel(nodeID string, kind ErrorKind, message string) map[string]any {
	return map[string]any{
		sentinelKey:             true,
		sentinelNodeKey:         nodeID,
		sentinelErrorKindKey:    string(kind),
		sentinelErrorMessageKey: message,
	}
}

// IsUpstreamFailure reports whether a value is an upstream-failure
// sentinel.
func IsUpstreamFailure(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	flag, ok := m[sentinelKey].(bool)
	return ok && flag
}
