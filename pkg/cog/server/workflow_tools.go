// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/workflow"
)

// Request schemas for the workflow operations. These are fixed contracts
// validated ahead of any engine work; additionalProperties is closed so
// typos surface as invalidParams instead of being ignored.
const (
	workflowRunSchema = `{
		"type": "object",
		"properties": {
			"definition": {"type": "object"},
			"input": {"type": "object"},
			"sessionId": {"type": "string"},
			"deadlineMillis": {"type": "integer", "minimum": 1},
			"async": {"type": "boolean"}
		},
		"required": ["definition"],
		"additionalProperties": false
	}`

	runIDSchema = `{
		"type": "object",
		"properties": {
			"runId": {"type": "string", "minLength": 1}
		},
		"required": ["runId"],
		"additionalProperties": false
	}`
)

var (
	workflowRunValidator = mustSchema(workflowRunSchema)
	runIDValidator       = mustSchema(runIDSchema)
)

func mustSchema(raw string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid workflow request schema: %v", err))
	}
	return s
}

// validateRequest checks an argument map against a request schema and
// returns an invalidParams result when it does not conform.
func validateRequest(schema *gojsonschema.Schema, args map[string]any) *mcp.CallToolResult {
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return errorResult(cog.KindInvalidParams, fmt.Sprintf("validating request: %v", err), nil)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]any, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		violations = append(violations, map[string]any{
			"path":    verr.Field(),
			"message": verr.Description(),
		})
	}
	return errorResult(cog.KindInvalidParams, "request does not match the operation schema",
		map[string]any{"violations": violations})
}

func (s *Server) registerWorkflowTools() {
	s.mcp.AddTool(mcp.NewToolWithRawSchema(
		"workflow_run",
		"Execute a workflow of tool nodes. Set async to get a run ID back immediately; "+
			"otherwise the call returns the terminal run state.",
		[]byte(workflowRunSchema),
	), s.workflowRun)

	s.mcp.AddTool(mcp.NewToolWithRawSchema(
		"workflow_status",
		"Report the current state of a workflow run.",
		[]byte(runIDSchema),
	), s.workflowStatus)

	s.mcp.AddTool(mcp.NewToolWithRawSchema(
		"workflow_cancel",
		"Cancel a workflow run. In-flight nodes drain; unstarted nodes are cancelled.",
		[]byte(runIDSchema),
	), s.workflowCancel)
}

func (s *Server) workflowRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	if res := validateRequest(workflowRunValidator, args); res != nil {
		return res, nil
	}

	rawDef, _ := args["definition"].(map[string]any)
	def, err := workflow.ParseDefinition(rawDef)
	if err != nil {
		return errorResult(cog.KindOf(err), err.Error(), nil), nil
	}

	input, _ := args["input"].(map[string]any)
	sessionID, _ := args["sessionId"].(string)
	async, _ := args["async"].(bool)
	if millis, ok := args["deadlineMillis"].(float64); ok && millis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(millis)*time.Millisecond)
		defer cancel()
	}

	if async {
		run, err := s.engine.Submit(ctx, *def, input, sessionID)
		if err != nil {
			return errorResult(cog.KindOf(err), err.Error(), nil), nil
		}
		return mcp.NewToolResultStructuredOnly(map[string]any{
			"runId":  run.ID,
			"status": string(run.Status),
		}), nil
	}

	run, err := s.engine.Execute(ctx, *def, input, sessionID)
	if err != nil {
		return errorResult(cog.KindOf(err), err.Error(), nil), nil
	}
	res := mcp.NewToolResultStructuredOnly(map[string]any{
		"runId":       run.ID,
		"terminalRun": runSummary(run),
	})
	res.IsError = run.Status == workflow.RunFailed
	return res, nil
}

func (s *Server) workflowStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	if res := validateRequest(runIDValidator, args); res != nil {
		return res, nil
	}
	runID, _ := args["runId"].(string)

	run, err := s.engine.Status(ctx, runID)
	if err != nil {
		if errors.Is(err, cog.ErrNotFound) {
			return errorResult(cog.KindNotFound, err.Error(), nil), nil
		}
		return errorResult(cog.KindOf(err), err.Error(), nil), nil
	}
	return mcp.NewToolResultStructuredOnly(runSummary(run)), nil
}

func (s *Server) workflowCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	if res := validateRequest(runIDValidator, args); res != nil {
		return res, nil
	}
	runID, _ := args["runId"].(string)

	if err := s.engine.Cancel(ctx, runID); err != nil {
		return errorResult(cog.KindOf(err), err.Error(), nil), nil
	}
	return mcp.NewToolResultStructuredOnly(map[string]any{
		"runId":    runID,
		"accepted": true,
	}), nil
}

// runSummary renders a run for the RPC surface.
func runSummary(run *workflow.Run) map[string]any {
	nodes := make(map[string]any, len(run.Nodes))
	for id, node := range run.Nodes {
		entry := map[string]any{
			"status":   string(node.Status),
			"attempts": node.Attempts,
		}
		if node.Output != nil {
			entry["output"] = node.Output
		}
		if node.ErrorKind != "" {
			entry["errorKind"] = string(node.ErrorKind)
			entry["errorMessage"] = node.ErrorMessage
		}
		nodes[id] = entry
	}
	out := map[string]any{
		"runId":      run.ID,
		"status":     string(run.Status),
		"nodeStates": nodes,
		"startedAt":  run.CreatedAt,
	}
	if run.Error != "" {
		out["error"] = run.Error
	}
	if !run.FinishedAt.IsZero() {
		out["completedAt"] = run.FinishedAt
	}
	if run.SessionID != "" {
		out["sessionId"] = run.SessionID
	}
	return out
}
