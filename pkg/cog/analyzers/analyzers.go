// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package analyzers ships the built-in cognitive tools. Each analyzer is
// an ordinary registered tool: a typed schema plus an opaque handler. The
// handlers structure their input deterministically rather than reason
// over it; callers compose them into workflows for anything deeper.
package analyzers

import (
	"time"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/registry"
)

// defaultTimeout bounds a single analyzer invocation.
const defaultTimeout = 10 * time.Second

// All returns the built-in analyzer specs.
func All() []cog.ToolSpec {
	return []cog.ToolSpec{
		sequentialThinking(),
		mentalModel(),
		decisionMatrix(),
		perspectiveShift(),
		firstPrinciples(),
	}
}

// RegisterAll registers every built-in analyzer.
func RegisterAll(reg *registry.Registry) error {
	for _, spec := range All() {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
