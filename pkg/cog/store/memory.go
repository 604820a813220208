// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memoryStore is the in-memory backend. All reads return clones so callers
// can never mutate internal state.
type memoryStore struct {
	mu sync.RWMutex

	// sessions maps sessionID to the full append-order log.
	sessions map[string][]Step

	// counters maps sessionID/branchID to the next step number.
	counters map[string]map[string]int

	runs map[string]RunSnapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions: make(map[string][]Step),
		counters: make(map[string]map[string]int),
		runs:     make(map[string]RunSnapshot),
	}
}

func (m *memoryStore) AppendStep(ctx context.Context, sessionID string, step Step) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if sessionID == "" {
		return 0, fmt.Errorf("session ID must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.sessions[sessionID]
	if step.RevisesStep != 0 && !stepExists(log, step.BranchID, step.RevisesStep) {
		return 0, fmt.Errorf("revisesStep %d in branch %q: %w", step.RevisesStep, step.BranchID, ErrStepNotFound)
	}
	if step.BranchFromStep != 0 && !sessionStepExists(log, step.BranchFromStep) {
		return 0, fmt.Errorf("branchFromStep %d: %w", step.BranchFromStep, ErrStepNotFound)
	}

	branches, ok := m.counters[sessionID]
	if !ok {
		branches = make(map[string]int)
		m.counters[sessionID] = branches
	}
	branches[step.BranchID]++

	step.SessionID = sessionID
	step.StepNumber = branches[step.BranchID]
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	m.sessions[sessionID] = append(log, cloneStep(step))

	return step.StepNumber, nil
}

func (m *memoryStore) ReadSession(ctx context.Context, sessionID string, opts ReadOptions) ([]Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	log, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
	}

	out := make([]Step, 0, len(log))
	for _, step := range log {
		if opts.FilterBranch && step.BranchID != opts.BranchID {
			continue
		}
		out = append(out, cloneStep(step))
	}
	return out, nil
}

func (m *memoryStore) SaveRunSnapshot(ctx context.Context, snapshot RunSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot.RunID == "" {
		return fmt.Errorf("run ID must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now().UTC()
	}
	m.runs[snapshot.RunID] = cloneSnapshot(snapshot)
	return nil
}

func (m *memoryStore) LoadRun(ctx context.Context, runID string) (RunSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return RunSnapshot{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.runs[runID]
	if !ok {
		return RunSnapshot{}, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	return cloneSnapshot(snap), nil
}

func (m *memoryStore) ListActiveRuns(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, snap := range m.runs {
		if IsActiveStatus(snap.Status) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memoryStore) DeleteRun(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.runs, runID)
	return nil
}

// stepExists reports whether a step number exists within the given branch.
func stepExists(log []Step, branchID string, number int) bool {
	for _, step := range log {
		if step.BranchID == branchID && step.StepNumber == number {
			return true
		}
	}
	return false
}

// sessionStepExists reports whether a step number exists anywhere in the
// session. Branch fork points may come from any branch.
func sessionStepExists(log []Step, number int) bool {
	for _, step := range log {
		if step.StepNumber == number {
			return true
		}
	}
	return false
}

func cloneStep(step Step) Step {
	out := step
	if step.Payload != nil {
		out.Payload = cloneMap(step.Payload)
	}
	if step.Embedding != nil {
		out.Embedding = append([]float64(nil), step.Embedding...)
	}
	return out
}

func cloneSnapshot(snap RunSnapshot) RunSnapshot {
	out := snap
	if snap.Data != nil {
		out.Data = append([]byte(nil), snap.Data...)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
