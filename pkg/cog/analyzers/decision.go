// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package analyzers

import (
	"context"
	"sort"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/cog/schema"
)

func decisionMatrix() cog.ToolSpec {
	minOne := 1
	return cog.ToolSpec{
		Name:        "decision_matrix",
		Version:     "1.0.0",
		Description: "Score options against weighted criteria and rank them.",
		InputSchema: schema.Object(map[string]schema.Field{
			"options": schema.Req(&schema.Schema{
				Kind:     schema.KindArray,
				Items:    schema.String(),
				MinItems: &minOne,
			}),
			"criteria": schema.Req(&schema.Schema{
				Kind: schema.KindArray,
				Items: schema.Object(map[string]schema.Field{
					"name":   schema.Req(schema.String()),
					"weight": schema.OptDefault(schema.Number().Bounded(0, 100), float64(1)),
				}),
				MinItems: &minOne,
			}),
			"scores": schema.Req(schema.Array(schema.Array(schema.Number().Bounded(0, 10))).
				Describe("scores[i][j] rates option i against criterion j, 0 to 10.")),
		}),
		OutputSchema: schema.Object(map[string]schema.Field{
			"rankings": schema.Req(schema.Array(schema.Object(map[string]schema.Field{
				"option": schema.Req(schema.String()),
				"score":  schema.Req(schema.Number()),
			}))),
			"best": schema.Req(schema.String()),
		}),
		Handler:        decisionMatrixHandler,
		DefaultTimeout: defaultTimeout,
	}
}

func decisionMatrixHandler(_ context.Context, args map[string]any) (map[string]any, error) {
	options, _ := args["options"].([]any)
	criteria, _ := args["criteria"].([]any)
	scores, _ := args["scores"].([]any)

	if len(scores) != len(options) {
		return nil, cog.NewError(cog.KindValidationError,
			"scores has %d rows, expected one per option (%d)", len(scores), len(options)).
			WithDetails(map[string]any{"violations": []any{
				map[string]any{"path": "scores", "message": "row count must match options"},
			}})
	}

	weights := make([]float64, len(criteria))
	for j, raw := range criteria {
		criterion, _ := raw.(map[string]any)
		weights[j], _ = criterion["weight"].(float64)
	}

	type ranked struct {
		option string
		score  float64
	}
	rankings := make([]ranked, len(options))
	for i, raw := range options {
		option, _ := raw.(string)
		row, _ := scores[i].([]any)
		if len(row) != len(criteria) {
			return nil, cog.NewError(cog.KindValidationError,
				"scores[%d] has %d entries, expected one per criterion (%d)", i, len(row), len(criteria))
		}
		total := 0.0
		for j, rawScore := range row {
			score, _ := rawScore.(float64)
			total += score * weights[j]
		}
		rankings[i] = ranked{option: option, score: total}
	}

	sort.SliceStable(rankings, func(i, j int) bool { return rankings[i].score > rankings[j].score })

	out := make([]any, len(rankings))
	for i, r := range rankings {
		out[i] = map[string]any{"option": r.option, "score": r.score}
	}
	return map[string]any{
		"rankings": out,
		"best":     rankings[0].option,
	}, nil
}
