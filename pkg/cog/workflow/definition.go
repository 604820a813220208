// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow implements the DAG workflow engine: definition
// parsing and validation, reference resolution between nodes, bounded
// parallel scheduling with retries, checkpointing, and progress events.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/flowmind/flowmind/pkg/cog"
)

// OnError selects how a node's final (post-retry) failure affects the
// rest of the run.
type OnError string

const (
	// OnErrorFail fails the run: no new nodes start, in-flight nodes
	// drain, and every node that has not started is cancelled.
	OnErrorFail OnError = "fail"

	// OnErrorContinue lets dependents run; their references into the
	// failed node's output resolve to the upstream-failure sentinel.
	OnErrorContinue OnError = "continue"

	// OnErrorSkipDependents skips every descendant of the failed node and
	// lets the rest of the run proceed.
	OnErrorSkipDependents OnError = "skipDependents"
)

// RetryPolicy bounds automatic re-execution of a failed node. Only
// failures whose error kind appears in RetryableKinds are retried.
type RetryPolicy struct {
	MaxAttempts          int             `json:"maxAttempts"`
	InitialBackoffMillis int64           `json:"initialBackoffMillis"`
	Multiplier           float64         `json:"backoffMultiplier"`
	MaxBackoffMillis     int64           `json:"maxBackoffMillis"`
	RetryableKinds       []cog.ErrorKind `json:"retryableKinds"`
}

// DefaultRetryPolicy returns the engine-wide default applied when a
// definition supplies no policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          3,
		InitialBackoffMillis: 200,
		Multiplier:           2.0,
		MaxBackoffMillis:     5000,
		RetryableKinds: []cog.ErrorKind{
			cog.KindTimeout,
			cog.KindHandlerError,
			cog.KindStoreUnavailable,
		},
	}
}

// Retryable reports whether the policy retries the given error kind.
// Validation, reference, cancellation, and unknown-tool failures are
// never retried regardless of the configured kinds.
func (p RetryPolicy) Retryable(kind cog.ErrorKind) bool {
	switch kind {
	case cog.KindValidationError, cog.KindReferenceError, cog.KindCancelled, cog.KindUnknownTool:
		return false
	}
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Node is one unit of work in a workflow definition.
type Node struct {
	// ID uniquely identifies the node within the definition.
	ID string `json:"id"`

	// Tool is the registered tool the node invokes.
	Tool string `json:"tool"`

	// Arguments may embed references to run input, session state, and
	// upstream node outputs.
	Arguments map[string]any `json:"arguments,omitempty"`

	// DependsOn lists explicit upstream node IDs. References inside
	// Arguments add implicit edges; the effective dependency set is the
	// union of both.
	DependsOn []string `json:"dependsOn,omitempty"`

	// TimeoutMillis bounds one attempt of this node. Zero defers to the
	// tool's default timeout.
	TimeoutMillis int64 `json:"timeoutMillis,omitempty"`

	// OnError defaults to fail.
	OnError OnError `json:"onError,omitempty"`

	// Retry overrides the definition-level policy for this node.
	Retry *RetryPolicy `json:"retryPolicy,omitempty"`
}

// Definition is a parsed workflow.
type Definition struct {
	// Name labels the workflow in logs and events.
	Name string `json:"name,omitempty"`

	// Version is an informational workflow version string.
	Version string `json:"version,omitempty"`

	Nodes []Node `json:"nodes"`

	// MaxParallelism caps parallel node execution for this run. Zero
	// defers to the engine default.
	MaxParallelism int `json:"maxParallelism,omitempty"`

	// DefaultRetry is the definition-level default policy.
	DefaultRetry *RetryPolicy `json:"defaultRetryPolicy,omitempty"`
}

// ParseDefinition decodes a raw definition map, as received on the RPC
// surface, into a Definition. Structural problems are reported as
// invalid-input errors; graph problems (duplicate IDs, unknown
// dependencies, cycles) come from Validate.
func ParseDefinition(raw map[string]any) (*Definition, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding workflow definition: %v", cog.ErrInvalidInput, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: decoding workflow definition: %v", cog.ErrInvalidInput, err)
	}
	return &def, nil
}

// Validate checks the definition graph: node shape, ID uniqueness, known
// tools, resolvable dependencies, and acyclicity. toolExists reports
// whether a tool name is registered; nil skips the tool check.
func (d *Definition) Validate(toolExists func(string) bool) error {
	byID := make(map[string]*Node, len(d.Nodes))
	for i := range d.Nodes {
		node := &d.Nodes[i]
		if node.ID == "" {
			return fmt.Errorf("%w: node %d has no id", cog.ErrInvalidInput, i)
		}
		if strings.ContainsAny(node.ID, ".${}[] ") {
			return fmt.Errorf("%w: node id %q contains reserved characters", cog.ErrInvalidInput, node.ID)
		}
		if node.Tool == "" {
			return fmt.Errorf("%w: node %q has no tool", cog.ErrInvalidInput, node.ID)
		}
		if _, dup := byID[node.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", cog.ErrInvalidInput, node.ID)
		}
		switch node.OnError {
		case "", OnErrorFail, OnErrorContinue, OnErrorSkipDependents:
		default:
			return fmt.Errorf("%w: node %q has invalid onError %q", cog.ErrInvalidInput, node.ID, node.OnError)
		}
		if node.Retry != nil && node.Retry.MaxAttempts < 1 {
			return fmt.Errorf("%w: node %q retry maxAttempts must be at least 1", cog.ErrInvalidInput, node.ID)
		}
		byID[node.ID] = node

		if toolExists != nil && !toolExists(node.Tool) {
			return fmt.Errorf("node %q: tool %q: %w", node.ID, node.Tool, cog.ErrUnknownTool)
		}
	}

	edges, err := d.edges(byID)
	if err != nil {
		return err
	}
	return detectCycle(byID, edges)
}

// edges returns the effective dependency map: node ID to the sorted set
// of upstream node IDs, merging explicit dependsOn with reference-derived
// dependencies.
func (d *Definition) edges(byID map[string]*Node) (map[string][]string, error) {
	edges := make(map[string][]string, len(d.Nodes))
	for i := range d.Nodes {
		node := &d.Nodes[i]
		deps := map[string]bool{}
		for _, dep := range node.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: node %q depends on unknown node %q", cog.ErrInvalidInput, node.ID, dep)
			}
			deps[dep] = true
		}
		for _, ref := range extractNodeRefs(node.Arguments) {
			if _, ok := byID[ref]; !ok {
				return nil, fmt.Errorf("%w: node %q references unknown node %q", cog.ErrInvalidInput, node.ID, ref)
			}
			deps[ref] = true
		}
		if deps[node.ID] {
			return nil, fmt.Errorf("node %q depends on itself: %w", node.ID, cog.ErrCyclicDependency)
		}
		sorted := make([]string, 0, len(deps))
		for dep := range deps {
			sorted = append(sorted, dep)
		}
		sort.Strings(sorted)
		edges[node.ID] = sorted
	}
	return edges, nil
}

// Edges exposes the effective dependency map for a validated definition.
func (d *Definition) Edges() map[string][]string {
	byID := make(map[string]*Node, len(d.Nodes))
	for i := range d.Nodes {
		byID[d.Nodes[i].ID] = &d.Nodes[i]
	}
	edges, err := d.edges(byID)
	if err != nil {
		// Validate runs before any caller uses Edges.
		return map[string][]string{}
	}
	return edges
}

// node returns the definition node by ID.
func (d *Definition) node(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// retryFor resolves the retry policy for a node: node override, then
// definition default, then the engine default.
func (d *Definition) retryFor(node *Node) RetryPolicy {
	if node.Retry != nil {
		return *node.Retry
	}
	if d.DefaultRetry != nil {
		return *d.DefaultRetry
	}
	return DefaultRetryPolicy()
}

// onErrorFor resolves a node's error mode, applying the fail default.
func onErrorFor(node *Node) OnError {
	if node.OnError == "" {
		return OnErrorFail
	}
	return node.OnError
}

// detectCycle runs a DFS over the dependency edges and reports the first
// cycle found, naming its participants.
func detectCycle(byID map[string]*Node, edges map[string][]string) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	visited := make(map[string]bool, len(ids))
	inStack := make(map[string]bool, len(ids))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		inStack[id] = true
		stack = append(stack, id)
		for _, dep := range edges[id] {
			if inStack[dep] {
				return fmt.Errorf("%w: %s", cog.ErrCyclicDependency, cyclePath(stack, dep))
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		inStack[id] = false
		return nil
	}

	for _, id := range ids {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// cyclePath renders the cycle portion of the DFS stack, closing the loop
// back to the repeated node.
func cyclePath(stack []string, repeat string) string {
	start := 0
	for i, id := range stack {
		if id == repeat {
			start = i
			break
		}
	}
	return strings.Join(append(append([]string{}, stack[start:]...), repeat), " -> ")
}
