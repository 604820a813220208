// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "math"

// Coerce performs best-effort lossless coercion of a raw value toward the
// given schema. Values that cannot be coerced losslessly are returned
// unchanged; Coerce never loses precision and never fails. Callers that
// need errors should use Validate, which applies the same coercions.
func Coerce(s *Schema, raw any) any {
	if s == nil {
		return raw
	}

	switch s.Kind {
	case KindObject:
		obj, ok := raw.(map[string]any)
		if !ok {
			return raw
		}
		out := make(map[string]any, len(obj))
		for name, value := range obj {
			if field, known := s.Fields[name]; known {
				out[name] = Coerce(field.Schema, value)
			} else {
				out[name] = value
			}
		}
		return out

	case KindArray:
		arr, ok := raw.([]any)
		if !ok {
			return raw
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			out[i] = Coerce(s.Items, item)
		}
		return out

	case KindInteger:
		if f, ok := raw.(float64); ok && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f)
		}
		return raw

	case KindNumber:
		if f, ok := toFloat(raw); ok {
			return f
		}
		return raw

	case KindBoolean:
		if str, ok := raw.(string); ok {
			if str == "true" {
				return true
			}
			if str == "false" {
				return false
			}
		}
		return raw

	default:
		return raw
	}
}
