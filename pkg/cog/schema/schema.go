// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema provides the reified schema model for tool inputs and
// outputs: a tagged union of kinds with validation, lossless coercion,
// and a canonical serialization used for caching, persistence, and the
// tools/list wire form.
//
// Schemas are pure data. They carry no behavior beyond traversal, so they
// can be shipped to clients and persisted alongside workflow runs. Two
// schemas are equal iff their canonical serializations are equal.
package schema

// Kind discriminates the schema union.
type Kind string

// Schema kinds.
const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindEnum    Kind = "enum"
	KindOneOf   Kind = "oneOf"
	KindRef     Kind = "ref"
)

// Schema describes the shape of a value. Exactly the fields relevant to
// Kind are populated; the rest stay zero.
type Schema struct {
	Kind        Kind
	Description string

	// Object.
	Fields map[string]Field
	// Open permits fields not named in Fields. Objects are closed by
	// default: unknown fields are validation errors.
	Open bool

	// Array.
	Items    *Schema
	MinItems *int
	MaxItems *int

	// String.
	MinLen *int
	MaxLen *int

	// Number / integer bounds (inclusive).
	Minimum *float64
	Maximum *float64

	// Enum members, compared by canonical serialization.
	Enum []any

	// OneOf branches. When Discriminator is set, the named field of the
	// value selects the branch; otherwise exactly one branch must match.
	Branches      []*Schema
	Discriminator string

	// Ref names an entry in the root schema's Defs.
	Ref string

	// Defs holds named schemas referenced via KindRef. Only meaningful on
	// a root schema.
	Defs map[string]*Schema
}

// Field describes one named member of an object schema.
type Field struct {
	Schema      *Schema
	Required    bool
	Description string
	// Default is applied during validation when the field is absent.
	// A field with a default is never reported missing.
	Default any
}

// ValidationError describes one violation found during validation,
// addressed by a dotted field path ("a.b[2].c"; "" is the root).
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// Constructors. These keep tool and test declarations compact.

// Object returns a closed object schema.
func Object(fields map[string]Field) *Schema {
	return &Schema{Kind: KindObject, Fields: fields}
}

// OpenObject returns an object schema that tolerates unknown fields.
func OpenObject(fields map[string]Field) *Schema {
	return &Schema{Kind: KindObject, Fields: fields, Open: true}
}

// String returns a string schema.
func String() *Schema { return &Schema{Kind: KindString} }

// Number returns a number schema.
func Number() *Schema { return &Schema{Kind: KindNumber} }

// Integer returns an integer schema.
func Integer() *Schema { return &Schema{Kind: KindInteger} }

// Boolean returns a boolean schema.
func Boolean() *Schema { return &Schema{Kind: KindBoolean} }

// Array returns an array schema with the given item schema.
func Array(items *Schema) *Schema { return &Schema{Kind: KindArray, Items: items} }

// Enums returns an enum schema over the given members.
func Enums(members ...any) *Schema { return &Schema{Kind: KindEnum, Enum: members} }

// StringEnum returns an enum schema over string members.
func StringEnum(members ...string) *Schema {
	vals := make([]any, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return Enums(vals...)
}

// OneOf returns a union schema. disc may be empty for undiscriminated
// unions, which then require exactly one branch to match.
func OneOf(disc string, branches ...*Schema) *Schema {
	return &Schema{Kind: KindOneOf, Branches: branches, Discriminator: disc}
}

// Ref returns a reference to a named schema in the root's Defs.
func Ref(name string) *Schema { return &Schema{Kind: KindRef, Ref: name} }

// Req marks a field required.
func Req(s *Schema) Field { return Field{Schema: s, Required: true} }

// Opt marks a field optional.
func Opt(s *Schema) Field { return Field{Schema: s} }

// OptDefault marks a field optional with a default applied when absent.
func OptDefault(s *Schema, def any) Field { return Field{Schema: s, Default: def} }

// Describe attaches a description and returns the schema.
func (s *Schema) Describe(desc string) *Schema {
	s.Description = desc
	return s
}

// Bounded sets inclusive numeric bounds and returns the schema.
func (s *Schema) Bounded(minVal, maxVal float64) *Schema {
	s.Minimum = &minVal
	s.Maximum = &maxVal
	return s
}

// WithDefs attaches named definitions for KindRef resolution and returns
// the schema.
func (s *Schema) WithDefs(defs map[string]*Schema) *Schema {
	s.Defs = defs
	return s
}
