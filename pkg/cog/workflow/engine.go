// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/store"
	"github.com/flowmind/flowmind/pkg/logger"
)

// DefaultWorkers bounds parallel node execution when neither the
// definition nor the environment overrides it.
const DefaultWorkers = 4

// WorkersFromEnv returns the worker bound from WORKFLOW_WORKERS, falling
// back to DefaultWorkers when unset or invalid.
func WorkersFromEnv() int {
	raw := os.Getenv("WORKFLOW_WORKERS")
	if raw == "" {
		return DefaultWorkers
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		logger.Warnf("ignoring invalid WORKFLOW_WORKERS=%q", raw)
		return DefaultWorkers
	}
	return n
}

// Caller executes one tool invocation. Satisfied by dispatch.Dispatcher.
type Caller interface {
	Call(ctx context.Context, call cog.ToolCall) *cog.ToolResult
}

// ToolSet answers tool existence checks at submission time. Satisfied by
// registry.Registry.
type ToolSet interface {
	Has(name string) bool
}

// Observer receives engine-level observations. Satisfied by
// metrics.Metrics; nil disables observation.
type Observer interface {
	ObserveNodeRetry(kind cog.ErrorKind)
	RunStarted()
	RunCompleted(status string)
}

// Engine schedules workflow runs.
type Engine struct {
	tools    ToolSet
	caller   Caller
	runs     store.RunStore
	sessions store.SessionStore
	bus      *Bus
	observer Observer
	workers  int

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	mu        sync.Mutex
	run       *Run
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

// Option configures the engine.
type Option func(*Engine)

// WithWorkers sets the default parallel-node bound.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithObserver attaches engine metrics.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates a workflow engine. sessions may be nil when no
// session log is configured; ${session.<path>} references then fail with
// a reference error.
func NewEngine(tools ToolSet, caller Caller, runs store.RunStore, sessions store.SessionStore, opts ...Option) *Engine {
	e := &Engine{
		tools:    tools,
		caller:   caller,
		runs:     runs,
		sessions: sessions,
		bus:      NewBus(),
		workers:  DefaultWorkers,
		active:   map[string]*activeRun{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe returns progress events for one run, or all runs when runID
// is empty.
func (e *Engine) Subscribe(runID string) (<-chan Event, func()) {
	return e.bus.Subscribe(runID)
}

// Submit validates the definition, checkpoints the run as pending, and
// starts executing it in the background. The returned run is a snapshot;
// poll Status or Wait for progress.
func (e *Engine) Submit(ctx context.Context, def Definition, input map[string]any, sessionID string) (*Run, error) {
	var toolExists func(string) bool
	if e.tools != nil {
		toolExists = e.tools.Has
	}
	if err := def.Validate(toolExists); err != nil {
		return nil, err
	}

	run := newRun(uuid.New().String(), def, input, sessionID)
	if err := e.checkpoint(ctx, run); err != nil {
		return nil, err
	}

	ar := e.start(run)
	logger.Infow("workflow run submitted", "run", run.ID, "workflow", def.Name, "nodes", len(def.Nodes))
	return ar.snapshotRun(), nil
}

// Execute runs a workflow synchronously. Cancelling ctx cancels the run;
// Execute still waits for in-flight nodes to drain and returns the
// terminal run state.
func (e *Engine) Execute(ctx context.Context, def Definition, input map[string]any, sessionID string) (*Run, error) {
	run, err := e.Submit(ctx, def, input, sessionID)
	if err != nil {
		return nil, err
	}
	return e.Wait(ctx, run.ID)
}

// Wait blocks until the run reaches a terminal status. Cancelling ctx
// requests run cancellation and keeps waiting for the drain.
func (e *Engine) Wait(ctx context.Context, runID string) (*Run, error) {
	e.mu.Lock()
	ar, ok := e.active[runID]
	e.mu.Unlock()
	if !ok {
		return e.Status(ctx, runID)
	}

	select {
	case <-ar.done:
	case <-ctx.Done():
		ar.requestCancel()
		<-ar.done
	}
	return ar.snapshotRun(), nil
}

// Status returns the current run state, from memory for active runs and
// from the run store otherwise.
func (e *Engine) Status(ctx context.Context, runID string) (*Run, error) {
	e.mu.Lock()
	ar, ok := e.active[runID]
	e.mu.Unlock()
	if ok {
		return ar.snapshotRun(), nil
	}

	snap, err := e.runs.LoadRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return nil, fmt.Errorf("run %q: %w", runID, cog.ErrNotFound)
		}
		return nil, err
	}
	return runFromSnapshot(snap)
}

// Cancel requests cancellation of an active run. Cancelling a run that
// already reached a terminal status is a no-op.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	e.mu.Lock()
	ar, ok := e.active[runID]
	e.mu.Unlock()
	if ok {
		ar.requestCancel()
		logger.Infow("workflow run cancellation requested", "run", runID)
		return nil
	}

	run, err := e.Status(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Status.Terminal() {
		// Active in the store but not in memory: another instance owns it,
		// which single-instance deployments never hit.
		return fmt.Errorf("run %q is not owned by this instance: %w", runID, cog.ErrInvalidInput)
	}
	return nil
}

// Rehydrate resumes every non-terminal run found in the run store. Nodes
// that were in flight at crash time are re-executed; succeeded nodes keep
// their checkpointed outputs.
func (e *Engine) Rehydrate(ctx context.Context) error {
	ids, err := e.runs.ListActiveRuns(ctx)
	if err != nil {
		return fmt.Errorf("listing active runs: %w", err)
	}
	for _, id := range ids {
		snap, err := e.runs.LoadRun(ctx, id)
		if err != nil {
			return fmt.Errorf("loading run %s: %w", id, err)
		}
		run, err := runFromSnapshot(snap)
		if err != nil {
			return err
		}
		for _, node := range run.Nodes {
			if node.Status == NodeRunning || node.Status == NodeReady {
				node.Status = NodeWaiting
			}
		}
		e.start(run)
		logger.Infow("workflow run rehydrated", "run", id, "workflow", run.Definition.Name)
	}
	return nil
}

// start registers the run as active and launches its scheduler.
func (e *Engine) start(run *Run) *activeRun {
	ctx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{run: run, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.active[run.ID] = ar
	e.mu.Unlock()

	if e.observer != nil {
		e.observer.RunStarted()
	}
	go e.execute(ctx, ar)
	return ar
}

func (ar *activeRun) requestCancel() {
	ar.mu.Lock()
	ar.cancelled = true
	ar.mu.Unlock()
	ar.cancel()
}

func (ar *activeRun) cancelRequested() bool {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.cancelled
}

func (ar *activeRun) snapshotRun() *Run {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.run.Clone()
}

// nodeResult carries one completed attempt back to the scheduler.
type nodeResult struct {
	nodeID string
	result *cog.ToolResult
}

// execute is the scheduler: a single goroutine owns the run state and
// fans node attempts out to at most `workers` concurrent calls.
func (e *Engine) execute(ctx context.Context, ar *activeRun) {
	defer close(ar.done)

	run := ar.run
	def := &run.Definition
	edges := def.Edges()
	dependents := reverse(edges)

	workers := e.workers
	if def.MaxParallelism > 0 {
		workers = def.MaxParallelism
	}

	// remaining counts unresolved dependencies per pending node. A
	// dependency resolves when it succeeds or finally fails under
	// onError=continue.
	remaining := map[string]int{}
	outputs := map[string]map[string]any{}
	failed := map[string]NodeFailure{}
	for id, state := range run.Nodes {
		switch state.Status {
		case NodeSucceeded:
			outputs[id] = state.Output
		case NodeFailed:
			if onErrorFor(def.node(id)) == OnErrorContinue {
				failed[id] = NodeFailure{Kind: state.ErrorKind, Message: state.ErrorMessage}
			}
		}
	}
	for id, state := range run.Nodes {
		if state.Status != NodeWaiting {
			continue
		}
		n := 0
		for _, dep := range edges[id] {
			if _, ok := outputs[dep]; ok {
				continue
			}
			if _, ok := failed[dep]; ok {
				continue
			}
			n++
		}
		remaining[id] = n
	}

	var ready []string
	for id, n := range remaining {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	setStatus(ar, func() { run.Status = RunRunning })
	e.bus.Publish(Event{RunID: run.ID, Type: EventRunStatusChanged, RunStatus: RunRunning})
	e.checkpointLogged(run)

	resultCh := make(chan nodeResult, len(def.Nodes))
	retryCh := make(chan string, len(def.Nodes))
	timers := map[string]*time.Timer{}
	backoffs := map[string]*backoff.ExponentialBackOff{}
	inFlight := 0
	retrying := 0
	halted := false
	ctxDone := ctx.Done()

	enqueue := func(id string) {
		ready = append(ready, id)
		sort.Strings(ready)
	}

	// resolveDep marks a dependency of every dependent as satisfied and
	// enqueues those that become ready.
	resolveDep := func(id string) {
		for _, dep := range dependents[id] {
			if run.Nodes[dep].Status != NodeWaiting {
				continue
			}
			remaining[dep]--
			if remaining[dep] == 0 {
				enqueue(dep)
			}
		}
	}

	// skipDescendants marks every transitive dependent as skipped.
	var skipDescendants func(id string)
	skipDescendants = func(id string) {
		for _, dep := range dependents[id] {
			state := run.Nodes[dep]
			if state.Status != NodeWaiting {
				continue
			}
			setStatus(ar, func() {
				state.Status = NodeSkipped
				state.FinishedAt = time.Now().UTC()
			})
			e.bus.Publish(Event{RunID: run.ID, Type: EventNodeSkipped, NodeID: dep})
			skipDescendants(dep)
		}
	}

	launch := func(id string) {
		node := def.node(id)
		state := run.Nodes[id]
		setStatus(ar, func() {
			state.Attempts++
			state.Status = NodeRunning
			if state.StartedAt.IsZero() {
				state.StartedAt = time.Now().UTC()
			}
		})
		e.bus.Publish(Event{RunID: run.ID, Type: EventNodeRunning, NodeID: id, Attempt: state.Attempts})

		resolver := &Resolver{
			Input:   run.Input,
			Session: e.sessionDocument(ctx, run, node),
			Outputs: outputs,
			Failed:  failed,
		}
		args, err := resolver.ResolveArguments(node.Arguments)
		if err != nil {
			var ce *cog.Error
			if !errors.As(err, &ce) {
				ce = cog.NewError(cog.KindReferenceError, "%v", err)
			}
			resultCh <- nodeResult{nodeID: id, result: &cog.ToolResult{
				Status:       cog.CallHandlerError,
				ErrorKind:    ce.Kind,
				ErrorMessage: ce.Message,
				ErrorDetails: ce.Details,
				ProducedAt:   time.Now().UTC(),
			}}
			inFlight++
			return
		}

		call := cog.ToolCall{
			Tool:      node.Tool,
			Arguments: args,
			Timeout:   time.Duration(node.TimeoutMillis) * time.Millisecond,
			SessionID: run.SessionID,
			Attempt:   state.Attempts,
		}
		inFlight++
		go func() {
			resultCh <- nodeResult{nodeID: id, result: e.caller.Call(ctx, call)}
		}()
	}

	handle := func(res nodeResult) {
		inFlight--
		id := res.nodeID
		node := def.node(id)
		state := run.Nodes[id]

		if res.result.OK() {
			setStatus(ar, func() {
				state.Status = NodeSucceeded
				state.Output = res.result.Output
				state.ErrorKind = ""
				state.ErrorMessage = ""
				state.FinishedAt = time.Now().UTC()
			})
			outputs[id] = res.result.Output
			e.bus.Publish(Event{RunID: run.ID, Type: EventNodeSucceeded, NodeID: id, Attempt: state.Attempts})
			e.checkpointLogged(run)
			resolveDep(id)
			return
		}

		kind := res.result.ErrorKind
		policy := def.retryFor(node)
		if !halted && policy.Retryable(kind) && state.Attempts < policy.MaxAttempts {
			setStatus(ar, func() {
				state.Status = NodeReady
				state.ErrorKind = kind
				state.ErrorMessage = res.result.ErrorMessage
			})
			retrying++
			if e.observer != nil {
				e.observer.ObserveNodeRetry(kind)
			}
			bo := backoffs[id]
			if bo == nil {
				bo = newBackOff(policy)
				backoffs[id] = bo
			}
			delay := bo.NextBackOff()
			e.bus.Publish(Event{
				RunID: run.ID, Type: EventNodeReady, NodeID: id,
				Attempt: state.Attempts, ErrorKind: kind, ErrorMessage: res.result.ErrorMessage,
			})
			logger.Debugw("retrying workflow node",
				"run", run.ID, "node", id, "attempt", state.Attempts, "delay", delay, "errorKind", kind)
			timers[id] = time.AfterFunc(delay, func() { retryCh <- id })
			e.checkpointLogged(run)
			return
		}

		setStatus(ar, func() {
			state.Status = NodeFailed
			state.ErrorKind = kind
			state.ErrorMessage = res.result.ErrorMessage
			state.FinishedAt = time.Now().UTC()
		})
		e.bus.Publish(Event{
			RunID: run.ID, Type: EventNodeFailed, NodeID: id,
			Attempt: state.Attempts, ErrorKind: kind, ErrorMessage: res.result.ErrorMessage,
		})
		logger.Warnw("workflow node failed",
			"run", run.ID, "node", id, "errorKind", kind, "error", res.result.ErrorMessage)

		switch onErrorFor(node) {
		case OnErrorContinue:
			failed[id] = NodeFailure{Kind: kind, Message: res.result.ErrorMessage}
			resolveDep(id)
		case OnErrorSkipDependents:
			skipDescendants(id)
		default:
			halted = true
			setStatus(ar, func() {
				run.Error = fmt.Sprintf("node %s failed: %s: %s", id, kind, res.result.ErrorMessage)
			})
		}
		e.checkpointLogged(run)
	}

	for {
		for !halted && inFlight < workers && len(ready) > 0 {
			id := ready[0]
			ready = ready[1:]
			launch(id)
		}
		if inFlight == 0 && (halted || (len(ready) == 0 && retrying == 0)) {
			break
		}

		select {
		case res := <-resultCh:
			handle(res)
		case id := <-retryCh:
			retrying--
			delete(timers, id)
			if halted {
				continue
			}
			if run.Nodes[id].Status == NodeReady {
				enqueue(id)
			}
		case <-ctxDone:
			ctxDone = nil
			halted = true
			setStatus(ar, func() { run.Status = RunCancelling })
			e.bus.Publish(Event{RunID: run.ID, Type: EventRunStatusChanged, RunStatus: RunCancelling})
			e.checkpointLogged(run)
		}
	}

	for _, timer := range timers {
		timer.Stop()
	}

	e.finalize(ar, halted)
}

// finalize settles non-terminal nodes, computes the terminal run status,
// checkpoints, and publishes runCompleted.
func (e *Engine) finalize(ar *activeRun, halted bool) {
	run := ar.run
	cancelled := ar.cancelRequested()

	anyFailed := false
	setStatus(ar, func() {
		for _, state := range run.Nodes {
			switch state.Status {
			case NodeWaiting, NodeReady:
				if halted {
					state.Status = NodeSkipped
					state.FinishedAt = time.Now().UTC()
				}
			case NodeFailed:
				anyFailed = true
			}
		}

		switch {
		case cancelled:
			run.Status = RunCancelled
		case halted:
			run.Status = RunFailed
		case anyFailed:
			run.Status = RunPartial
		default:
			run.Status = RunSucceeded
		}
		run.FinishedAt = time.Now().UTC()
	})

	e.checkpointLogged(run)
	e.bus.Publish(Event{RunID: run.ID, Type: EventRunStatusChanged, RunStatus: run.Status})
	if e.observer != nil {
		e.observer.RunCompleted(string(run.Status))
	}
	logger.Infow("workflow run completed", "run", run.ID, "status", run.Status)

	e.mu.Lock()
	delete(e.active, run.ID)
	e.mu.Unlock()
}

// sessionDocument assembles the document behind ${session.<path>}: the
// run's session log as {"steps": [payload...], "stepCount": n}. Returns
// nil when the run has no session, which makes session references fail.
func (e *Engine) sessionDocument(ctx context.Context, run *Run, node *Node) map[string]any {
	if run.SessionID == "" || e.sessions == nil {
		return nil
	}
	if len(extractSessionRefs(node.Arguments)) == 0 {
		return nil
	}
	steps, err := e.sessions.ReadSession(ctx, run.SessionID, store.ReadOptions{})
	if err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			logger.Warnw("reading session for reference resolution",
				"run", run.ID, "session", run.SessionID, "error", err)
			return nil
		}
		steps = nil
	}
	payloads := make([]any, len(steps))
	for i, step := range steps {
		payloads[i] = step.Payload
	}
	return map[string]any{
		"steps":     payloads,
		"stepCount": len(steps),
	}
}

// checkpoint persists the run snapshot.
func (e *Engine) checkpoint(ctx context.Context, run *Run) error {
	snap, err := run.snapshot()
	if err != nil {
		return err
	}
	if err := e.runs.SaveRunSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("checkpointing run %s: %w", run.ID, err)
	}
	return nil
}

// checkpointLogged persists the snapshot and downgrades failures to a
// log line; a missed checkpoint costs replay after a crash, not the run.
func (e *Engine) checkpointLogged(run *Run) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.checkpoint(ctx, run); err != nil {
		logger.Warnw("workflow checkpoint failed", "run", run.ID, "error", err)
	}
}

// setStatus mutates run state under the active-run lock so concurrent
// Status calls see consistent snapshots.
func setStatus(ar *activeRun, mutate func()) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	mutate()
}

func newBackOff(policy RetryPolicy) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(policy.InitialBackoffMillis) * time.Millisecond
	bo.Multiplier = policy.Multiplier
	bo.MaxInterval = time.Duration(policy.MaxBackoffMillis) * time.Millisecond
	bo.RandomizationFactor = 0.2
	bo.Reset()
	return bo
}

// reverse inverts a dependency map into a dependents map.
func reverse(edges map[string][]string) map[string][]string {
	out := map[string][]string{}
	for id, deps := range edges {
		for _, dep := range deps {
			out[dep] = append(out[dep], id)
		}
	}
	for id := range out {
		sort.Strings(out[id])
	}
	return out
}

// extractSessionRefs reports the session references inside a value.
func extractSessionRefs(v any) []string {
	var out []string
	collectSessionRefs(v, &out)
	return out
}

func collectSessionRefs(v any, out *[]string) {
	switch val := v.(type) {
	case string:
		for _, match := range refPattern.FindAllStringSubmatch(val, -1) {
			if match[1] == "session" {
				*out = append(*out, match[0])
			}
		}
	case map[string]any:
		for _, item := range val {
			collectSessionRefs(item, out)
		}
	case []any:
		for _, item := range val {
			collectSessionRefs(item, out)
		}
	}
}
