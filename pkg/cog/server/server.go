// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the engine over the Model Context Protocol:
// registered tools surface through tools/list and tools/call, workflow
// operations surface as built-in tools, and run progress streams out as
// notifications. Both stdio and streamable HTTP transports are supported.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/dispatch"
	"github.com/flowmind/flowmind/pkg/cog/registry"
	"github.com/flowmind/flowmind/pkg/cog/workflow"
	"github.com/flowmind/flowmind/pkg/logger"
)

// Config holds server settings.
type Config struct {
	// Name and Version identify the server in the MCP handshake.
	Name    string
	Version string

	// HTTPAddr is the streamable HTTP listen address. Empty disables the
	// HTTP transport.
	HTTPAddr string

	// AuthToken, when set, requires a matching bearer token on every HTTP
	// request except the health endpoint.
	AuthToken string
}

// Server wires the registry, dispatcher, and engine to MCP transports.
type Server struct {
	cfg        Config
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	engine     *workflow.Engine
	mcp        *mcpserver.MCPServer
}

// New builds the MCP server and registers the workflow operations. Call
// SyncTools after tool registration to surface registry tools.
func New(cfg Config, reg *registry.Registry, disp *dispatch.Dispatcher, engine *workflow.Engine) *Server {
	if cfg.Name == "" {
		cfg.Name = "flowmind"
	}
	s := &Server{
		cfg:        cfg,
		registry:   reg,
		dispatcher: disp,
		engine:     engine,
		mcp: mcpserver.NewMCPServer(
			cfg.Name,
			cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithLogging(),
		),
	}
	s.registerWorkflowTools()
	return s
}

// SyncTools surfaces every registry tool on the MCP server. Safe to call
// again after further registrations.
func (s *Server) SyncTools() {
	for _, desc := range s.registry.List() {
		raw, err := json.Marshal(desc.InputSchema.ToMap())
		if err != nil {
			logger.Errorw("skipping tool with unserializable schema", "tool", desc.Name, "error", err)
			continue
		}
		tool := mcp.NewToolWithRawSchema(desc.Name, desc.Description, raw)
		s.mcp.AddTool(tool, s.callTool(desc.Name))
	}
}

// callTool adapts one registry tool to an MCP tool handler. All calls
// flow through the dispatcher.
func (s *Server) callTool(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		call := cog.ToolCall{Tool: name}
		// Envelope fields ride alongside the tool arguments on every call.
		// Lift them onto the call and strip them before validation so
		// closed input schemas do not reject them as unknown fields.
		if millis, ok := args["deadlineMillis"].(float64); ok && millis > 0 {
			call.Timeout = time.Duration(millis) * time.Millisecond
		}
		if id, ok := args["sessionId"].(string); ok {
			call.SessionID = id
		}
		if id, ok := args["branchId"].(string); ok {
			call.BranchID = id
		}
		if n, ok := intArg(args["revisesStep"]); ok {
			call.RevisesStep = n
		}
		if n, ok := intArg(args["branchFromStep"]); ok {
			call.BranchFromStep = n
		}
		call.Arguments = stripEnvelope(args)

		result := s.dispatcher.Call(ctx, call)
		return toolResult(result), nil
	}
}

// toolResult renders a dispatcher result as a structured MCP result,
// marking failures with IsError so clients can branch without parsing.
func toolResult(result *cog.ToolResult) *mcp.CallToolResult {
	res := mcp.NewToolResultStructuredOnly(result)
	res.IsError = !result.OK()
	return res
}

// errorResult renders a classified failure outside the dispatcher path.
func errorResult(kind cog.ErrorKind, message string, details map[string]any) *mcp.CallToolResult {
	res := mcp.NewToolResultStructuredOnly(map[string]any{
		"errorKind":    string(kind),
		"errorMessage": message,
		"errorDetails": details,
	})
	res.IsError = true
	return res
}

// forwardEvents streams engine progress events to connected clients as
// notifications until ctx ends. Delivery is best effort.
func (s *Server) forwardEvents(ctx context.Context) {
	events, cancel := s.engine.Subscribe("")
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.mcp.SendNotificationToAllClients("notifications/progress", map[string]any{
				"runId":        event.RunID,
				"type":         string(event.Type),
				"nodeId":       event.NodeID,
				"attempt":      event.Attempt,
				"runStatus":    string(event.RunStatus),
				"errorKind":    string(event.ErrorKind),
				"errorMessage": event.ErrorMessage,
				"timestamp":    event.Timestamp,
			})
		}
	}
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	go s.forwardEvents(ctx)
	logger.Infof("serving MCP on stdio")
	if err := mcpserver.ServeStdio(s.mcp); err != nil {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// envelopeFields are call-envelope keys, never tool arguments.
var envelopeFields = map[string]bool{
	"deadlineMillis": true,
	"sessionId":      true,
	"branchId":       true,
	"revisesStep":    true,
	"branchFromStep": true,
}

func stripEnvelope(args map[string]any) map[string]any {
	stripped := make(map[string]any, len(args))
	for k, v := range args {
		if !envelopeFields[k] {
			stripped[k] = v
		}
	}
	return stripped
}

func intArg(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
