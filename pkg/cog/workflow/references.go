// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/flowmind/flowmind/pkg/cog"
)

// Reference grammar: ${nodes.<id>.output.<path>}, ${input.<path>},
// ${session.<path>}. Paths are dotted field names with optional [n]
// array indices. A string that is exactly one reference resolves to the
// referenced value with its native type; a reference embedded in a
// larger string interpolates as text.

var (
	refPattern = regexp.MustCompile(`\$\{(nodes|input|session)((?:\.[^}]+)?)\}`)

	// arrayIndex rewrites [n] indices into gjson's dotted form.
	arrayIndex = regexp.MustCompile(`\[(\d+)\]`)
)

// NodeFailure captures a finally-failed upstream node for sentinel
// substitution under onError=continue.
type NodeFailure struct {
	Kind    cog.ErrorKind
	Message string
}

// Resolver materializes references against the state of one run.
type Resolver struct {
	// Input is the run input document.
	Input map[string]any

	// Session is the session state document, assembled from the session
	// log when the run is bound to a session.
	Session map[string]any

	// Outputs maps succeeded node IDs to their validated outputs.
	Outputs map[string]map[string]any

	// Failed maps finally-failed node IDs to their failures. References
	// into these nodes resolve to the upstream-failure sentinel.
	Failed map[string]NodeFailure
}

// ResolveArguments returns a deep copy of args with every reference
// materialized. A reference to a missing path yields a reference error;
// the arguments are untouched on failure.
func (r *Resolver) ResolveArguments(args map[string]any) (map[string]any, error) {
	resolved, err := r.resolveValue(args)
	if err != nil {
		return nil, err
	}
	out, ok := resolved.(map[string]any)
	if !ok {
		// args is a map, so resolveValue returns one.
		return nil, cog.NewError(cog.KindReferenceError, "arguments did not resolve to an object")
	}
	return out, nil
}

func (r *Resolver) resolveValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return r.resolveString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := r.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *Resolver) resolveString(s string) (any, error) {
	match := refPattern.FindStringSubmatch(s)
	if match == nil {
		return s, nil
	}

	// Whole-leaf reference: keep the native type.
	if match[0] == s {
		return r.resolveRef(match[1], strings.TrimPrefix(match[2], "."))
	}

	// Embedded references interpolate as text.
	var refErr error
	out := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := refPattern.FindStringSubmatch(ref)
		value, err := r.resolveRef(m[1], strings.TrimPrefix(m[2], "."))
		if err != nil {
			if refErr == nil {
				refErr = err
			}
			return ref
		}
		return stringify(value)
	})
	if refErr != nil {
		return nil, refErr
	}
	return out, nil
}

// resolveRef resolves one reference given its root and remaining path.
func (r *Resolver) resolveRef(root, rest string) (any, error) {
	switch root {
	case "input":
		return lookup(r.Input, rest, "input")
	case "session":
		return lookup(r.Session, rest, "session")
	case "nodes":
		return r.resolveNodeRef(rest)
	default:
		return nil, cog.NewError(cog.KindReferenceError, "unknown reference root %q", root)
	}
}

func (r *Resolver) resolveNodeRef(rest string) (any, error) {
	parts := strings.SplitN(rest, ".", 3)
	if len(parts) < 2 || parts[1] != "output" {
		return nil, cog.NewError(cog.KindReferenceError,
			"malformed node reference %q: expected nodes.<id>.output.<path>", "${nodes."+rest+"}")
	}
	nodeID := parts[0]
	path := ""
	if len(parts) == 3 {
		path = parts[2]
	}

	if failure, failed := r.Failed[nodeID]; failed {
		// The sentinel replaces any reference into the failed output,
		// whatever path was asked for.
		return cog.UpstreamFailureSentinel(nodeID, failure.Kind, failure.Message), nil
	}

	output, ok := r.Outputs[nodeID]
	if !ok {
		return nil, cog.NewError(cog.KindReferenceError, "node %q has no output available", nodeID)
	}
	return lookup(output, path, "nodes."+nodeID+".output")
}

// lookup traverses a document by dotted path, returning the whole
// document for the empty path.
func lookup(doc map[string]any, path, where string) (any, error) {
	if doc == nil {
		return nil, cog.NewError(cog.KindReferenceError, "%s is not available", where)
	}
	if path == "" {
		return doc, nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, cog.NewError(cog.KindReferenceError, "%s is not serializable: %v", where, err)
	}
	result := gjson.GetBytes(data, arrayIndex.ReplaceAllString(path, ".$1"))
	if !result.Exists() {
		return nil, cog.NewError(cog.KindReferenceError, "path %q not found in %s", path, where)
	}
	return result.Value(), nil
}

// stringify renders a resolved value for embedding into a larger string.
// Strings embed verbatim; everything else embeds as compact JSON.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// extractNodeRefs walks a value and returns the sorted set of node IDs
// referenced anywhere inside it.
func extractNodeRefs(v any) []string {
	set := map[string]bool{}
	collectNodeRefs(v, set)
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func collectNodeRefs(v any, set map[string]bool) {
	switch val := v.(type) {
	case string:
		for _, match := range refPattern.FindAllStringSubmatch(val, -1) {
			if match[1] != "nodes" {
				continue
			}
			rest := strings.TrimPrefix(match[2], ".")
			if id, _, _ := strings.Cut(rest, "."); id != "" {
				set[id] = true
			}
		}
	case map[string]any:
		for _, item := range val {
			collectNodeRefs(item, set)
		}
	case []any:
		for _, item := range val {
			collectNodeRefs(item, set)
		}
	}
}
