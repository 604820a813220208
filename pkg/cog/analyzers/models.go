// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package analyzers

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/schema"
)

// mentalModelSteps holds the application procedure per supported model.
var mentalModelSteps = map[string][]string{
	"first_principles": {
		"State the problem without inherited framing.",
		"List every assumption baked into the current approach.",
		"Strip assumptions down to verifiable fundamentals.",
		"Rebuild a solution from the fundamentals alone.",
	},
	"opportunity_cost": {
		"Enumerate the alternatives the decision forecloses.",
		"Estimate the value of the best foreclosed alternative.",
		"Compare the chosen path against that foregone value.",
	},
	"pareto": {
		"List the contributing factors.",
		"Rank factors by contribution to the outcome.",
		"Isolate the minority of factors driving most of the effect.",
		"Concentrate effort on that minority.",
	},
	"occams_razor": {
		"List the candidate explanations.",
		"Count the independent assumptions each requires.",
		"Prefer the explanation with the fewest assumptions.",
	},
	"second_order": {
		"State the immediate consequence of the action.",
		"For each consequence, derive its own consequences.",
		"Weigh the delayed effects against the immediate ones.",
	},
}

func mentalModelNames() []string {
	return []string{"first_principles", "occams_razor", "opportunity_cost", "pareto", "second_order"}
}

func mentalModel() cog.ToolSpec {
	return cog.ToolSpec{
		Name:        "mental_model",
		Version:     "1.0.0",
		Description: "Apply a named mental model to a problem statement and return the structured application steps.",
		InputSchema: schema.Object(map[string]schema.Field{
			"model":   schema.Req(schema.StringEnum(mentalModelNames()...).Describe("Mental model to apply.")),
			"problem": schema.Req(schema.String().Describe("Problem statement.")),
		}),
		OutputSchema: schema.Object(map[string]schema.Field{
			"model":      schema.Req(schema.String()),
			"problem":    schema.Req(schema.String()),
			"steps":      schema.Req(schema.Array(schema.String())),
			"conclusion": schema.Req(schema.String()),
		}),
		Handler:        mentalModelHandler,
		DefaultTimeout: defaultTimeout,
	}
}

func mentalModelHandler(_ context.Context, args map[string]any) (map[string]any, error) {
	model, _ := args["model"].(string)
	problem, _ := args["problem"].(string)
	steps, ok := mentalModelSteps[model]
	if !ok {
		return nil, cog.NewError(cog.KindHandlerError, "model %q has no application procedure", model)
	}
	return map[string]any{
		"model":      model,
		"problem":    problem,
		"steps":      stringsToAny(steps),
		"conclusion": fmt.Sprintf("Applied %s to: %s", model, problem),
	}, nil
}

func perspectiveShift() cog.ToolSpec {
	return cog.ToolSpec{
		Name:        "perspective_shift",
		Version:     "1.0.0",
		Description: "Examine a statement from multiple stakeholder perspectives.",
		InputSchema: schema.Object(map[string]schema.Field{
			"statement": schema.Req(schema.String().Describe("The claim or plan to examine.")),
			"perspectives": schema.OptDefault(
				schema.Array(schema.String()).Describe("Perspectives to take; defaults to user, engineer, and business."),
				[]any{"user", "engineer", "business"},
			),
		}),
		OutputSchema: schema.Object(map[string]schema.Field{
			"statement": schema.Req(schema.String()),
			"analyses": schema.Req(schema.Array(schema.Object(map[string]schema.Field{
				"perspective":    schema.Req(schema.String()),
				"considerations": schema.Req(schema.Array(schema.String())),
			}))),
		}),
		Handler:        perspectiveShiftHandler,
		DefaultTimeout: defaultTimeout,
	}
}

func perspectiveShiftHandler(_ context.Context, args map[string]any) (map[string]any, error) {
	statement, _ := args["statement"].(string)
	rawPerspectives, _ := args["perspectives"].([]any)

	analyses := make([]any, 0, len(rawPerspectives))
	for _, raw := range rawPerspectives {
		perspective, _ := raw.(string)
		analyses = append(analyses, map[string]any{
			"perspective": perspective,
			"considerations": []any{
				fmt.Sprintf("How does %q affect the %s directly?", statement, perspective),
				fmt.Sprintf("What would the %s need to accept this?", perspective),
				fmt.Sprintf("What risk does the %s carry if it goes wrong?", perspective),
			},
		})
	}
	return map[string]any{
		"statement": statement,
		"analyses":  analyses,
	}, nil
}

func firstPrinciples() cog.ToolSpec {
	return cog.ToolSpec{
		Name:        "first_principles",
		Version:     "1.0.0",
		Description: "Decompose a problem into assumptions and fundamentals, then reconstruct from the fundamentals.",
		InputSchema: schema.Object(map[string]schema.Field{
			"problem": schema.Req(schema.String().Describe("Problem statement.")),
			"depth":   schema.OptDefault(schema.Integer().Bounded(1, 10).Describe("Decomposition depth."), float64(3)),
		}),
		OutputSchema: schema.Object(map[string]schema.Field{
			"problem":        schema.Req(schema.String()),
			"assumptions":    schema.Req(schema.Array(schema.String())),
			"fundamentals":   schema.Req(schema.Array(schema.String())),
			"reconstruction": schema.Req(schema.String()),
		}),
		Handler:        firstPrinciplesHandler,
		DefaultTimeout: defaultTimeout,
	}
}

func firstPrinciplesHandler(_ context.Context, args map[string]any) (map[string]any, error) {
	problem, _ := args["problem"].(string)
	depth, _ := toInt64(args["depth"])

	assumptions := make([]any, 0, depth)
	fundamentals := make([]any, 0, depth)
	for i := int64(1); i <= depth; i++ {
		assumptions = append(assumptions, fmt.Sprintf("Level %d assumption behind: %s", i, problem))
		fundamentals = append(fundamentals, fmt.Sprintf("Level %d fundamental constraint of: %s", i, problem))
	}
	return map[string]any{
		"problem":        problem,
		"assumptions":    assumptions,
		"fundamentals":   fundamentals,
		"reconstruction": fmt.Sprintf("Rebuilt %q from %d fundamental constraints.", strings.TrimSpace(problem), depth),
	}, nil
}
