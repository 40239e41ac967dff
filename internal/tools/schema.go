package tools

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the closed set of argument types a tool schema can declare
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
)

// Param describes a single argument
type Param struct {
	Kind        Kind
	Description string
	Enum        []string
	Default     any
	Minimum     *float64
	Maximum     *float64
	Items       *Param
	Properties  map[string]*Param
	Required    []string
}

// Schema is the input shape of a tool
type Schema struct {
	Properties map[string]*Param
	Required   []string
}

// Args are tool arguments after coercion
type Args map[string]any

func propString(desc string) *Param {
	return &Param{Kind: KindString, Description: desc}
}

func propEnum(desc string, values ...string) *Param {
	return &Param{Kind: KindString, Description: desc, Enum: values}
}

func propNumber(desc string, lo, hi float64) *Param {
	return &Param{Kind: KindNumber, Description: desc, Minimum: &lo, Maximum: &hi}
}

func propInteger(desc string, lo, hi float64) *Param {
	return &Param{Kind: KindInteger, Description: desc, Minimum: &lo, Maximum: &hi}
}

func propBool(desc string) *Param {
	return &Param{Kind: KindBoolean, Description: desc}
}

func propArray(desc string, items *Param) *Param {
	return &Param{Kind: KindArray, Description: desc, Items: items}
}

func propObject(props map[string]*Param, required ...string) *Param {
	return &Param{Kind: KindObject, Properties: props, Required: required}
}

func (p *Param) withDefault(v any) *Param {
	p.Default = v
	return p
}

// JSONSchema renders the schema as a JSON-schema object for LLM providers
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.jsonSchema()
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = append([]string(nil), s.Required...)
	}
	return out
}

func (p *Param) jsonSchema() map[string]any {
	out := map[string]any{"type": string(p.Kind)}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = append([]string(nil), p.Enum...)
	}
	if p.Minimum != nil {
		out["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		out["maximum"] = *p.Maximum
	}
	if p.Items != nil {
		out["items"] = p.Items.jsonSchema()
	}
	if p.Kind == KindObject && p.Properties != nil {
		inner := Schema{Properties: p.Properties, Required: p.Required}.JSONSchema()
		out["properties"] = inner["properties"]
		if req, ok := inner["required"]; ok {
			out["required"] = req
		}
	}
	return out
}

// PropertyNames returns declared argument names in lexical order
func (s Schema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Coerce maps raw decoded JSON arguments onto the schema. Unknown fields are
// dropped, missing required fields are filled from the default, the first enum
// value or the type's zero value, and malformed arrays/objects become empty.
// Malformed optional scalars are dropped so the tool applies its own default.
// Coercing already-coerced arguments returns them unchanged.
func (s Schema) Coerce(raw map[string]any) Args {
	return Args(coerceObject(s.Properties, s.Required, raw))
}

func coerceObject(props map[string]*Param, required []string, raw map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for name, p := range props {
		v, present := raw[name]
		if present && v != nil {
			if cv, ok := p.coerce(v); ok {
				out[name] = cv
				continue
			}
		}
		if p.Default != nil {
			out[name] = p.Default
			continue
		}
		if contains(required, name) || (present && (p.Kind == KindArray || p.Kind == KindObject)) {
			out[name] = p.zero()
		}
	}
	return out
}

func (p *Param) zero() any {
	switch p.Kind {
	case KindString:
		if len(p.Enum) > 0 {
			return p.Enum[0]
		}
		return ""
	case KindNumber, KindInteger:
		return 0.0
	case KindBoolean:
		return false
	case KindArray:
		return []any{}
	default:
		return map[string]any{}
	}
}

func (p *Param) coerce(v any) (any, bool) {
	switch p.Kind {
	case KindString:
		s, ok := asString(v)
		if !ok {
			return nil, false
		}
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			if match, found := matchEnum(p.Enum, s); found {
				return match, true
			}
			return p.Enum[0], true
		}
		return s, true

	case KindNumber:
		f, ok := asFloat(v)
		return f, ok

	case KindInteger:
		f, ok := asFloat(v)
		if !ok {
			return nil, false
		}
		return math.Round(f), true

	case KindBoolean:
		return asBool(v)

	case KindArray:
		arr, ok := asArray(v)
		if !ok {
			return []any{}, true
		}
		if p.Items == nil {
			return arr, true
		}
		out := make([]any, 0, len(arr))
		for _, item := range arr {
			if cv, ok := p.Items.coerce(item); ok {
				out = append(out, cv)
			}
		}
		return out, true

	case KindObject:
		obj, ok := asObject(v)
		if !ok {
			return map[string]any{}, true
		}
		if p.Properties == nil {
			return obj, true
		}
		return coerceObject(p.Properties, p.Required, obj), true
	}
	return nil, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// matchEnum accepts case and separator variants of an enum value
func matchEnum(enum []string, s string) (string, bool) {
	key := normalizeKey(s)
	for _, v := range enum {
		if normalizeKey(v) == key {
			return v, true
		}
	}
	return "", false
}

func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func asString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	}
	return "", false
}

func asFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asBool(v any) (any, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return nil, false
		}
		return b, true
	case float64:
		return val != 0, true
	}
	return nil, false
}

func asArray(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(val))
		for i, m := range val {
			out[i] = m
		}
		return out, true
	case string:
		var arr []any
		if err := json.Unmarshal([]byte(val), &arr); err == nil {
			return arr, true
		}
	}
	return nil, false
}

func asObject(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, true
	case Args:
		return map[string]any(val), true
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(val), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

// String returns the string argument or def when absent
func (a Args) String(key, def string) string {
	if v, ok := a[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Float returns the numeric argument and whether it was supplied
func (a Args) Float(key string, def float64) (float64, bool) {
	if v, ok := a[key].(float64); ok {
		return v, true
	}
	return def, false
}

// Int returns the integer argument and whether it was supplied
func (a Args) Int(key string, def int) (int, bool) {
	if v, ok := a[key].(float64); ok {
		return int(v), true
	}
	return def, false
}

// Bool returns the boolean argument or def when absent
func (a Args) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

// Array returns the array argument, never nil
func (a Args) Array(key string) []any {
	if v, ok := a[key].([]any); ok {
		return v
	}
	return []any{}
}

// Strings returns the string elements of an array argument
func (a Args) Strings(key string) []string {
	var out []string
	for _, v := range a.Array(key) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
