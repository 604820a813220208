// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package store defines the persistence contract for progressive session
// logs and workflow-run snapshots, together with an in-memory
// implementation suitable for tests and single-instance deployments.
//
// Backends are pluggable: the sqlite subpackage provides the durable
// implementation. The engine expects linearizable semantics per session
// and per run; each backend is responsible for its own concurrency.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// StepKind classifies a session log entry.
type StepKind string

const (
	// StepAnalyzer is a regular analyzer step.
	StepAnalyzer StepKind = "analyzerStep"

	// StepBranch forks a new branch from an earlier step.
	StepBranch StepKind = "branch"

	// StepRevision supersedes an earlier step without deleting it.
	StepRevision StepKind = "revision"
)

// MainBranch is the implicit branch every session starts on.
const MainBranch = ""

// Step is one entry in a session's append-only log. Steps are never
// deleted; revisions name the step they supersede.
type Step struct {
	SessionID  string   `json:"sessionId"`
	StepNumber int      `json:"stepNumber"`
	Kind       StepKind `json:"kind"`

	// BranchID selects the branch the step belongs to. Empty is the main
	// branch. Step numbers are contiguous 1..N within each branch.
	BranchID string `json:"branchId,omitempty"`

	// RevisesStep names the superseded step for revision steps.
	RevisesStep int `json:"revisesStep,omitempty"`

	// BranchFromStep names the fork point for branch steps.
	BranchFromStep int `json:"branchFromStep,omitempty"`

	// ParentStep optionally links to the step that spawned this one.
	ParentStep int `json:"parentStep,omitempty"`

	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`

	// Embedding optionally carries a vector embedding of the payload.
	// Stored opaquely; no semantic search is provided.
	Embedding []float64 `json:"embedding,omitempty"`
}

// ReadOptions filters ReadSession results.
type ReadOptions struct {
	// BranchID restricts results to one branch when FilterBranch is set.
	BranchID     string
	FilterBranch bool
}

// Sentinel errors. Transient backend failures wrap ErrUnavailable, which
// the workflow engine treats as retriable at the node level.
var (
	// ErrSessionNotFound indicates the session has no steps.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRunNotFound indicates no snapshot exists for the run ID.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrStepNotFound indicates a revisesStep or branchFromStep reference
	// to a step that does not exist.
	ErrStepNotFound = errors.New("referenced step not found")

	// ErrUnavailable indicates a transient backend failure.
	ErrUnavailable = errors.New("session store unavailable")
)

// SessionStore is the append-only session log.
type SessionStore interface {
	// AppendStep appends a step to the session and returns the assigned
	// step number, monotonic and contiguous within the step's branch.
	// Steps whose RevisesStep or BranchFromStep does not exist in the
	// session are rejected with ErrStepNotFound.
	//
	// After AppendStep returns, the step is durable: a subsequent
	// ReadSession against the same backend returns it.
	AppendStep(ctx context.Context, sessionID string, step Step) (int, error)

	// ReadSession returns the session's steps in append order, optionally
	// filtered to one branch. An unknown session returns
	// ErrSessionNotFound.
	ReadSession(ctx context.Context, sessionID string, opts ReadOptions) ([]Step, error)
}

// RunSnapshot is the persisted form of a workflow run. Data is the
// engine's serialized run record; Status is duplicated out of it so
// backends can filter active runs without decoding.
type RunSnapshot struct {
	RunID     string          `json:"runId"`
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// RunStore persists workflow-run snapshots.
type RunStore interface {
	// SaveRunSnapshot atomically overwrites the snapshot for the run. An
	// interrupted save never leaves a partial record observable.
	SaveRunSnapshot(ctx context.Context, snapshot RunSnapshot) error

	// LoadRun returns the latest snapshot, or ErrRunNotFound.
	LoadRun(ctx context.Context, runID string) (RunSnapshot, error)

	// ListActiveRuns returns the IDs of runs whose persisted status is
	// non-terminal.
	ListActiveRuns(ctx context.Context) ([]string, error)

	// DeleteRun removes a run snapshot. Idempotent.
	DeleteRun(ctx context.Context, runID string) error
}

// Store combines the session log and run snapshot contracts; concrete
// backends implement both.
type Store interface {
	SessionStore
	RunStore
}

// activeStatuses are the non-terminal run statuses ListActiveRuns
// filters on. Kept here so every backend agrees.
var activeStatuses = map[string]bool{
	"pending":    true,
	"running":    true,
	"cancelling": true,
}

// IsActiveStatus reports whether a persisted run status is non-terminal.
func IsActiveStatus(status string) bool {
	return activeStatuses[status]
}

type sessionLogKey struct{}

// WithSessionLog returns a context carrying the session store, making it
// available to tool handlers that accumulate progressive state.
func WithSessionLog(ctx context.Context, s SessionStore) context.Context {
	return context.WithValue(ctx, sessionLogKey{}, s)
}

// SessionLogFrom extracts the session store from the context, if any.
func SessionLogFrom(ctx context.Context) (SessionStore, bool) {
	s, ok := ctx.Value(sessionLogKey{}).(SessionStore)
	return s, ok
}
