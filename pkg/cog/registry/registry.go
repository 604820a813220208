// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the tool registry: the authoritative map
// from tool name to tool spec. Reads are lock-free over an immutable
// snapshot; Register swaps in a new snapshot atomically so concurrent
// lookups always observe a consistent view.
package registry

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/schema"
	"github.com/flowmind/flowmind/pkg/logger"
)

// toolNameRE constrains tool names to the character set MCP clients and
// the workflow reference grammar can address.
var toolNameRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// Registry holds the registered tools.
type Registry struct {
	mu    sync.Mutex
	tools atomic.Pointer[map[string]cog.ToolSpec]
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	empty := map[string]cog.ToolSpec{}
	r.tools.Store(&empty)
	return r
}

// Register adds a tool. Registering the same name with an identical spec
// is idempotent; a different spec replaces the previous registration
// atomically, so in-flight calls that already resolved the old spec
// complete against it.
func (r *Registry) Register(spec cog.ToolSpec) error {
	if !toolNameRE.MatchString(spec.Name) {
		return fmt.Errorf("%w: invalid tool name %q", cog.ErrInvalidInput, spec.Name)
	}
	if spec.Handler == nil {
		return fmt.Errorf("%w: tool %q has no handler", cog.ErrInvalidInput, spec.Name)
	}
	if spec.InputSchema == nil {
		return fmt.Errorf("%w: tool %q has no input schema", cog.ErrInvalidInput, spec.Name)
	}
	if spec.InputSchema.Kind != schema.KindObject {
		return fmt.Errorf("%w: tool %q input schema must be an object", cog.ErrInvalidInput, spec.Name)
	}
	if spec.OutputSchema != nil && spec.OutputSchema.Kind != schema.KindObject {
		return fmt.Errorf("%w: tool %q output schema must be an object", cog.ErrInvalidInput, spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.tools.Load()
	if existing, ok := current[spec.Name]; ok {
		if specsEqual(existing, spec) {
			return nil
		}
		logger.Infow("replacing tool registration", "tool", spec.Name, "version", spec.Version)
	} else {
		logger.Infow("registering tool", "tool", spec.Name, "version", spec.Version)
	}

	next := make(map[string]cog.ToolSpec, len(current)+1)
	for name, s := range current {
		next[name] = s
	}
	next[spec.Name] = spec
	r.tools.Store(&next)
	return nil
}

// Get returns the spec for a tool name.
func (r *Registry) Get(name string) (cog.ToolSpec, error) {
	current := *r.tools.Load()
	spec, ok := current[name]
	if !ok {
		return cog.ToolSpec{}, fmt.Errorf("tool %q: %w", name, cog.ErrUnknownTool)
	}
	return spec, nil
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := (*r.tools.Load())[name]
	return ok
}

// List returns handler-free descriptors for every registered tool,
// sorted by name.
func (r *Registry) List() []cog.ToolDescriptor {
	current := *r.tools.Load()
	out := make([]cog.ToolDescriptor, 0, len(current))
	for _, spec := range current {
		out = append(out, spec.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// specsEqual compares everything but the handler, which has no useful
// equality.
func specsEqual(a, b cog.ToolSpec) bool {
	if a.Name != b.Name || a.Version != b.Version || a.Description != b.Description {
		return false
	}
	if a.DefaultTimeout != b.DefaultTimeout {
		return false
	}
	return schema.Equal(a.InputSchema, b.InputSchema) && schema.Equal(a.OutputSchema, b.OutputSchema)
}
