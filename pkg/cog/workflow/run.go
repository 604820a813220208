// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/store"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	// RunPending is set between submission and the first scheduled node.
	RunPending RunStatus = "pending"

	// RunRunning indicates nodes are executing.
	RunRunning RunStatus = "running"

	// RunCancelling indicates cancellation was requested and in-flight
	// nodes are draining.
	RunCancelling RunStatus = "cancelling"

	// RunSucceeded indicates every node succeeded or was skipped.
	RunSucceeded RunStatus = "succeeded"

	// RunFailed indicates a node with onError=fail finally failed.
	RunFailed RunStatus = "failed"

	// RunPartial indicates the run finished but some nodes finally
	// failed under onError=continue or skipDependents.
	RunPartial RunStatus = "partial"

	// RunCancelled is the terminal state after cancellation drains.
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunPartial, RunCancelled:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of one node within a run.
type NodeStatus string

const (
	// NodeWaiting means upstream dependencies have not completed.
	NodeWaiting NodeStatus = "waiting"

	// NodeReady means the node is eligible to run: dependencies are
	// satisfied, or a failed attempt is waiting out its retry backoff.
	NodeReady NodeStatus = "ready"

	// NodeRunning means an attempt is in flight.
	NodeRunning NodeStatus = "running"

	// NodeSucceeded means an attempt produced valid output.
	NodeSucceeded NodeStatus = "succeeded"

	// NodeFailed means the final attempt failed.
	NodeFailed NodeStatus = "failed"

	// NodeSkipped means the node never ran: an upstream skipDependents
	// failure removed it, or the run ended before it started.
	NodeSkipped NodeStatus = "skipped"
)

// NodeState is the per-node record within a run.
type NodeState struct {
	ID     string     `json:"id"`
	Status NodeStatus `json:"status"`

	// Attempts counts started attempts.
	Attempts int `json:"attempts"`

	// Output is the validated tool output once the node succeeds.
	Output map[string]any `json:"output,omitempty"`

	ErrorKind    cog.ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`

	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// Run is the complete state of one workflow execution.
type Run struct {
	ID         string     `json:"id"`
	Definition Definition `json:"definition"`

	// Input is the run input document referenced via ${input.<path>}.
	Input map[string]any `json:"input,omitempty"`

	// SessionID optionally binds the run's tool calls to a session.
	SessionID string `json:"sessionId,omitempty"`

	Status RunStatus `json:"status"`

	// Error describes why the run failed, when it did.
	Error string `json:"error,omitempty"`

	Nodes map[string]*NodeState `json:"nodes"`

	CreatedAt  time.Time `json:"createdAt"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// newRun builds the initial run record with every node pending.
func newRun(id string, def Definition, input map[string]any, sessionID string) *Run {
	nodes := make(map[string]*NodeState, len(def.Nodes))
	for i := range def.Nodes {
		nodes[def.Nodes[i].ID] = &NodeState{ID: def.Nodes[i].ID, Status: NodeWaiting}
	}
	return &Run{
		ID:         id,
		Definition: def,
		Input:      input,
		SessionID:  sessionID,
		Status:     RunPending,
		Nodes:      nodes,
		CreatedAt:  time.Now().UTC(),
	}
}

// Clone returns a deep copy safe to hand outside the engine.
func (r *Run) Clone() *Run {
	data, err := json.Marshal(r)
	if err != nil {
		// Run state is plain JSON data; marshaling cannot fail in practice.
		return r
	}
	var out Run
	if err := json.Unmarshal(data, &out); err != nil {
		return r
	}
	return &out
}

// snapshot serializes the run for checkpointing.
func (r *Run) snapshot() (store.RunSnapshot, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return store.RunSnapshot{}, fmt.Errorf("encoding run %s: %w", r.ID, err)
	}
	return store.RunSnapshot{
		RunID:     r.ID,
		Status:    string(r.Status),
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// runFromSnapshot decodes a checkpointed run.
func runFromSnapshot(snap store.RunSnapshot) (*Run, error) {
	var run Run
	if err := json.Unmarshal(snap.Data, &run); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", snap.RunID, err)
	}
	return &run, nil
}
