// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"math"
	"strconv"
)

// Validate traverses schema and value in lockstep and returns either a
// normalized value or a non-empty list of validation errors, never both.
// Normalization coerces compatible primitives losslessly and applies
// field defaults. Validation is total: it terminates for any input.
func Validate(s *Schema, value any) (any, []ValidationError) {
	v := &validator{root: s}
	normalized, errs := v.validate(s, value, "")
	if len(errs) > 0 {
		return nil, errs
	}
	return normalized, nil
}

// validator threads the root schema for ref resolution.
type validator struct {
	root *Schema
}

func (v *validator) validate(s *Schema, value any, path string) (any, []ValidationError) {
	if s == nil {
		return nil, []ValidationError{{Path: path, Message: "schema is nil"}}
	}

	switch s.Kind {
	case KindObject:
		return v.validateObject(s, value, path)
	case KindArray:
		return v.validateArray(s, value, path)
	case KindString:
		return v.validateString(s, value, path)
	case KindNumber:
		return v.validateNumber(s, value, path)
	case KindInteger:
		return v.validateInteger(s, value, path)
	case KindBoolean:
		return v.validateBoolean(value, path)
	case KindEnum:
		return v.validateEnum(s, value, path)
	case KindOneOf:
		return v.validateOneOf(s, value, path)
	case KindRef:
		return v.validateRef(s, value, path)
	default:
		return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("unknown schema kind %q", s.Kind)}}
	}
}

func (v *validator) validateObject(s *Schema, value any, path string) (any, []ValidationError) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("expected object, got %s", typeName(value))}}
	}

	var errs []ValidationError
	normalized := make(map[string]any, len(obj))

	for name, field := range s.Fields {
		fieldPath := joinPath(path, name)
		raw, present := obj[name]
		if !present {
			switch {
			case field.Default != nil:
				normalized[name] = field.Default
			case field.Required:
				errs = append(errs, ValidationError{Path: fieldPath, Message: "required field is missing"})
			}
			continue
		}
		norm, fieldErrs := v.validate(field.Schema, raw, fieldPath)
		if len(fieldErrs) > 0 {
			errs = append(errs, fieldErrs...)
			continue
		}
		normalized[name] = norm
	}

	for name := range obj {
		if _, known := s.Fields[name]; known {
			continue
		}
		if s.Open {
			normalized[name] = obj[name]
			continue
		}
		errs = append(errs, ValidationError{Path: joinPath(path, name), Message: "unknown field"})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return normalized, nil
}

func (v *validator) validateArray(s *Schema, value any, path string) (any, []ValidationError) {
	arr, ok := value.([]any)
	if !ok {
		return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("expected array, got %s", typeName(value))}}
	}

	var errs []ValidationError
	if s.MinItems != nil && len(arr) < *s.MinItems {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf("array has %d items, minimum is %d", len(arr), *s.MinItems)})
	}
	if s.MaxItems != nil && len(arr) > *s.MaxItems {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf("array has %d items, maximum is %d", len(arr), *s.MaxItems)})
	}

	normalized := make([]any, len(arr))
	for i, item := range arr {
		itemPath := indexPath(path, i)
		if s.Items == nil {
			normalized[i] = item
			continue
		}
		norm, itemErrs := v.validate(s.Items, item, itemPath)
		if len(itemErrs) > 0 {
			errs = append(errs, itemErrs...)
			continue
		}
		normalized[i] = norm
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return normalized, nil
}

func (*validator) validateString(s *Schema, value any, path string) (any, []ValidationError) {
	str, ok := value.(string)
	if !ok {
		return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("expected string, got %s", typeName(value))}}
	}

	var errs []ValidationError
	if s.MinLen != nil && len(str) < *s.MinLen {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf("string has length %d, minimum is %d", len(str), *s.MinLen)})
	}
	if s.MaxLen != nil && len(str) > *s.MaxLen {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf("string has length %d, maximum is %d", len(str), *s.MaxLen)})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return str, nil
}

func (*validator) validateNumber(s *Schema, value any, path string) (any, []ValidationError) {
	f, ok := toFloat(value)
	if !ok {
		return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("expected number, got %s", typeName(value))}}
	}
	if errs := checkBounds(s, f, path); len(errs) > 0 {
		return nil, errs
	}
	return f, nil
}

func (*validator) validateInteger(s *Schema, value any, path string) (any, []ValidationError) {
	n, ok := toInt(value)
	if !ok {
		return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("expected integer, got %s", typeName(value))}}
	}
	if errs := checkBounds(s, float64(n), path); len(errs) > 0 {
		return nil, errs
	}
	return n, nil
}

func (*validator) validateBoolean(value any, path string) (any, []ValidationError) {
	switch b := value.(type) {
	case bool:
		return b, nil
	case string:
		// Lossless coercion: exactly "true" or "false".
		if b == "true" {
			return true, nil
		}
		if b == "false" {
			return false, nil
		}
	}
	return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("expected boolean, got %s", typeName(value))}}
}

func (*validator) validateEnum(s *Schema, value any, path string) (any, []ValidationError) {
	canon, err := CanonicalValue(value)
	if err != nil {
		return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("value is not serializable: %v", err)}}
	}
	for _, member := range s.Enum {
		memberCanon, err := CanonicalValue(member)
		if err != nil {
			continue
		}
		if string(canon) == string(memberCanon) {
			return value, nil
		}
	}
	return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("value %s is not a member of the enum", canon)}}
}

func (v *validator) validateOneOf(s *Schema, value any, path string) (any, []ValidationError) {
	if len(s.Branches) == 0 {
		return nil, []ValidationError{{Path: path, Message: "oneOf schema has no branches"}}
	}

	if s.Discriminator != "" {
		return v.validateDiscriminated(s, value, path)
	}

	// Undiscriminated union: exactly one branch must match.
	var (
		matched    any
		matchCount int
		allErrs    []ValidationError
	)
	for _, branch := range s.Branches {
		norm, errs := v.validate(branch, value, path)
		if len(errs) == 0 {
			matched = norm
			matchCount++
			continue
		}
		allErrs = append(allErrs, errs...)
	}
	switch matchCount {
	case 1:
		return matched, nil
	case 0:
		return nil, append([]ValidationError{{Path: path, Message: "value matches no oneOf branch"}}, allErrs...)
	default:
		return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("value ambiguously matches %d oneOf branches", matchCount)}}
	}
}

func (v *validator) validateDiscriminated(s *Schema, value any, path string) (any, []ValidationError) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("discriminated union requires an object, got %s", typeName(value))}}
	}
	tag, ok := obj[s.Discriminator]
	if !ok {
		return nil, []ValidationError{{Path: joinPath(path, s.Discriminator), Message: "discriminator field is missing"}}
	}

	for _, branch := range s.Branches {
		if branch.Kind != KindObject {
			continue
		}
		field, ok := branch.Fields[s.Discriminator]
		if !ok || field.Schema == nil || field.Schema.Kind != KindEnum {
			continue
		}
		if _, errs := v.validateEnum(field.Schema, tag, ""); len(errs) == 0 {
			return v.validate(branch, value, path)
		}
	}
	return nil, []ValidationError{{
		Path:    joinPath(path, s.Discriminator),
		Message: fmt.Sprintf("no oneOf branch accepts discriminator value %v", tag),
	}}
}

func (v *validator) validateRef(s *Schema, value any, path string) (any, []ValidationError) {
	if v.root == nil || v.root.Defs == nil {
		return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("unresolvable ref %q: no definitions", s.Ref)}}
	}
	target, ok := v.root.Defs[s.Ref]
	if !ok {
		return nil, []ValidationError{{Path: path, Message: fmt.Sprintf("unresolvable ref %q", s.Ref)}}
	}
	return v.validate(target, value, path)
}

func checkBounds(s *Schema, f float64, path string) []ValidationError {
	var errs []ValidationError
	if s.Minimum != nil && f < *s.Minimum {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf("value %v is below minimum %v", f, *s.Minimum)})
	}
	if s.Maximum != nil && f > *s.Maximum {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf("value %v is above maximum %v", f, *s.Maximum)})
	}
	return errs
}

// toFloat widens any numeric Go representation to float64.
func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// toInt narrows a numeric value to int64 only when no precision is lost.
func toInt(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	case float32:
		f := float64(n)
		if f == math.Trunc(f) {
			return int64(f), true
		}
	}
	return 0, false
}

func joinPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

func indexPath(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", value)
	}
}
