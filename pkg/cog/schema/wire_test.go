// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireRoundTrip(t *testing.T) {
	t.Parallel()

	original := Object(map[string]Field{
		"query": Req(String().Describe("Search query.")),
		"limit": OptDefault(Integer().Bounded(1, 100), float64(10)),
		"tags":  Opt(Array(String())),
		"shape": Opt(OneOf("kind",
			Object(map[string]Field{"kind": Req(StringEnum("circle")), "r": Req(Number())}),
		)),
		"home": Opt(Ref("address")),
	}).WithDefs(map[string]*Schema{"address": addressSchema()})

	parsed, err := FromMap(original.ToMap())
	require.NoError(t, err)
	assert.True(t, Equal(original, parsed), "round trip must preserve structural equality")
	assert.True(t, parsed.Fields["query"].Required, "required flags survive the round trip")
	assert.False(t, parsed.Fields["limit"].Required)
}

func TestWireRoundTripThroughJSON(t *testing.T) {
	t.Parallel()

	original := Object(map[string]Field{
		"query": Req(String()),
		"limit": Opt(Integer()),
	})
	data, err := json.Marshal(original.ToMap())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	parsed, err := FromMap(m)
	require.NoError(t, err)

	assert.True(t, Equal(original, parsed))
	assert.True(t, parsed.Fields["query"].Required)
}

func TestEqual(t *testing.T) {
	t.Parallel()

	a := Object(map[string]Field{"x": Req(Integer())})
	b := Object(map[string]Field{"x": Req(Integer())})
	c := Object(map[string]Field{"x": Opt(Integer())})

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, nil))
	assert.True(t, Equal(nil, nil))
}

func TestCanonicalIsDeterministic(t *testing.T) {
	t.Parallel()

	s := Object(map[string]Field{
		"b": Req(String()),
		"a": Req(String()),
		"c": Opt(Boolean()),
	})
	first, err := s.Canonical()
	require.NoError(t, err)
	second, err := s.Canonical()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
