// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Wire form: schemas serialize to the JSON-Schema-shaped maps shipped in
// tools/list responses and persisted with workflow runs. The mapping is
// lossless in both directions so canonical-serialize → deserialize is the
// identity.

// ToMap renders the schema in its JSON-Schema-shaped wire form.
func (s *Schema) ToMap() map[string]any {
	if s == nil {
		return nil
	}
	m := map[string]any{}
	if s.Description != "" {
		m["description"] = s.Description
	}

	switch s.Kind {
	case KindObject:
		m["type"] = "object"
		props := map[string]any{}
		var required []string
		for name, field := range s.Fields {
			prop := field.Schema.ToMap()
			if field.Description != "" {
				prop["description"] = field.Description
			}
			if field.Default != nil {
				prop["default"] = field.Default
			}
			props[name] = prop
			if field.Required {
				required = append(required, name)
			}
		}
		m["properties"] = props
		if len(required) > 0 {
			sort.Strings(required)
			m["required"] = required
		}
		m["additionalProperties"] = s.Open

	case KindArray:
		m["type"] = "array"
		if s.Items != nil {
			m["items"] = s.Items.ToMap()
		}
		if s.MinItems != nil {
			m["minItems"] = *s.MinItems
		}
		if s.MaxItems != nil {
			m["maxItems"] = *s.MaxItems
		}

	case KindString:
		m["type"] = "string"
		if s.MinLen != nil {
			m["minLength"] = *s.MinLen
		}
		if s.MaxLen != nil {
			m["maxLength"] = *s.MaxLen
		}

	case KindNumber, KindInteger:
		m["type"] = string(s.Kind)
		if s.Minimum != nil {
			m["minimum"] = *s.Minimum
		}
		if s.Maximum != nil {
			m["maximum"] = *s.Maximum
		}

	case KindBoolean:
		m["type"] = "boolean"

	case KindEnum:
		m["enum"] = s.Enum

	case KindOneOf:
		branches := make([]any, len(s.Branches))
		for i, b := range s.Branches {
			branches[i] = b.ToMap()
		}
		m["oneOf"] = branches
		if s.Discriminator != "" {
			m["discriminator"] = map[string]any{"propertyName": s.Discriminator}
		}

	case KindRef:
		m["$ref"] = "#/$defs/" + s.Ref
	}

	if len(s.Defs) > 0 {
		defs := map[string]any{}
		for name, def := range s.Defs {
			defs[name] = def.ToMap()
		}
		m["$defs"] = defs
	}

	return m
}

// FromMap parses the wire form back into a Schema.
func FromMap(m map[string]any) (*Schema, error) {
	if m == nil {
		return nil, fmt.Errorf("schema map is nil")
	}

	s := &Schema{}
	if desc, ok := m["description"].(string); ok {
		s.Description = desc
	}

	if defs, ok := m["$defs"].(map[string]any); ok {
		s.Defs = make(map[string]*Schema, len(defs))
		for name, raw := range defs {
			defMap, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("$defs.%s: expected object", name)
			}
			def, err := FromMap(defMap)
			if err != nil {
				return nil, fmt.Errorf("$defs.%s: %w", name, err)
			}
			s.Defs[name] = def
		}
	}

	if ref, ok := m["$ref"].(string); ok {
		s.Kind = KindRef
		s.Ref = strings.TrimPrefix(ref, "#/$defs/")
		return s, nil
	}

	if rawBranches, ok := m["oneOf"].([]any); ok {
		s.Kind = KindOneOf
		for i, raw := range rawBranches {
			branchMap, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("oneOf[%d]: expected object", i)
			}
			branch, err := FromMap(branchMap)
			if err != nil {
				return nil, fmt.Errorf("oneOf[%d]: %w", i, err)
			}
			s.Branches = append(s.Branches, branch)
		}
		if disc, ok := m["discriminator"].(map[string]any); ok {
			s.Discriminator, _ = disc["propertyName"].(string)
		}
		return s, nil
	}

	if members, ok := m["enum"].([]any); ok {
		s.Kind = KindEnum
		s.Enum = members
		return s, nil
	}

	typ, _ := m["type"].(string)
	switch typ {
	case "object":
		s.Kind = KindObject
		if open, ok := m["additionalProperties"].(bool); ok {
			s.Open = open
		}
		// required arrives as []string from ToMap and as []any after a trip
		// through encoding/json; both carry the same flags.
		requiredSet := map[string]bool{}
		switch required := m["required"].(type) {
		case []string:
			for _, name := range required {
				requiredSet[name] = true
			}
		case []any:
			for _, name := range required {
				if str, ok := name.(string); ok {
					requiredSet[str] = true
				}
			}
		}
		if props, ok := m["properties"].(map[string]any); ok {
			s.Fields = make(map[string]Field, len(props))
			for name, raw := range props {
				propMap, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("properties.%s: expected object", name)
				}
				fieldSchema, err := FromMap(propMap)
				if err != nil {
					return nil, fmt.Errorf("properties.%s: %w", name, err)
				}
				field := Field{
					Schema:   fieldSchema,
					Required: requiredSet[name],
					Default:  propMap["default"],
				}
				// Description belongs to the field on round trip; the
				// nested schema keeps its copy too, harmlessly.
				if desc, ok := propMap["description"].(string); ok {
					field.Description = desc
				}
				s.Fields[name] = field
			}
		} else {
			s.Fields = map[string]Field{}
		}

	case "array":
		s.Kind = KindArray
		if items, ok := m["items"].(map[string]any); ok {
			parsed, err := FromMap(items)
			if err != nil {
				return nil, fmt.Errorf("items: %w", err)
			}
			s.Items = parsed
		}
		if v, ok := intFromMap(m, "minItems"); ok {
			s.MinItems = &v
		}
		if v, ok := intFromMap(m, "maxItems"); ok {
			s.MaxItems = &v
		}

	case "string":
		s.Kind = KindString
		if v, ok := intFromMap(m, "minLength"); ok {
			s.MinLen = &v
		}
		if v, ok := intFromMap(m, "maxLength"); ok {
			s.MaxLen = &v
		}

	case "number", "integer":
		s.Kind = Kind(typ)
		if v, ok := floatFromMap(m, "minimum"); ok {
			s.Minimum = &v
		}
		if v, ok := floatFromMap(m, "maximum"); ok {
			s.Maximum = &v
		}

	case "boolean":
		s.Kind = KindBoolean

	default:
		return nil, fmt.Errorf("unsupported schema type %q", typ)
	}

	return s, nil
}

// Canonical returns the canonical serialization of the schema: the wire
// form marshaled with lexicographically ordered keys. encoding/json sorts
// map keys, so marshaling the wire map is already canonical.
func (s *Schema) Canonical() ([]byte, error) {
	return json.Marshal(s.ToMap())
}

// Equal reports structural equality via canonical serialization.
func Equal(a, b *Schema) bool {
	if a == nil || b == nil {
		return a == b
	}
	ca, errA := a.Canonical()
	cb, errB := b.Canonical()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// MarshalJSON renders the wire form.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToMap())
}

// UnmarshalJSON parses the wire form.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := FromMap(m)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// CanonicalValue returns the canonical serialization of an arbitrary
// value (JSON with sorted object keys). Deserializing the result yields
// an equal value.
func CanonicalValue(v any) ([]byte, error) {
	return json.Marshal(v)
}

func intFromMap(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func floatFromMap(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
