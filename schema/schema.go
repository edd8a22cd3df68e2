// Package schema turns form schema JSON of several tolerated shapes into an ordered list of
// field descriptors, and resolves selectable options for choice fields.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Field is one normalized form field.
type Field struct {
	Key       string   `json:"key"`
	Label     string   `json:"label"`
	Type      string   `json:"type"`
	Required  bool     `json:"required"`
	OptionKey string   `json:"option_key,omitempty"`
	Options   []Option `json:"options,omitempty"`
}

// IsChoice reports whether answers to the field carry an option key and label.
func (f Field) IsChoice() bool {
	return IsChoiceType(f.Type)
}

func IsChoiceType(t string) bool {
	switch t {
	case "select", "radio", "multiple_choice":
		return true
	}
	return false
}

// Shape is the layout a schema document was recognized as.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeFields
	ShapeNestedSchema
	ShapeNestedForm
	ShapeSections
	ShapeJSONSchema
)

func (s Shape) String() string {
	switch s {
	case ShapeFields:
		return "fields"
	case ShapeNestedSchema:
		return "schema.fields"
	case ShapeNestedForm:
		return "form.fields"
	case ShapeSections:
		return "sections"
	case ShapeJSONSchema:
		return "json-schema"
	}
	return "unknown"
}

type probe struct {
	shape Shape
	raw   func(doc map[string]any) []any
}

// probes run in order; the first one yielding at least one raw field wins.
var probes = []probe{
	{ShapeFields, func(doc map[string]any) []any { return array(doc["fields"]) }},
	{ShapeNestedSchema, func(doc map[string]any) []any { return array(object(doc["schema"])["fields"]) }},
	{ShapeNestedForm, func(doc map[string]any) []any { return array(object(doc["form"])["fields"]) }},
	{ShapeSections, flattenSections},
	{ShapeJSONSchema, jsonSchemaFields},
}

// Extract recognizes the shape of schemaJSON and returns its fields. schemaJSON may be decoded
// JSON, raw bytes or a JSON string. Unrecognized input yields ShapeUnknown and no fields.
func Extract(schemaJSON any) (Shape, []Field) {
	doc := object(Decode(schemaJSON))
	if doc == nil {
		return ShapeUnknown, nil
	}
	for _, p := range probes {
		raw := p.raw(doc)
		if len(raw) == 0 {
			continue
		}
		return p.shape, normalizeFields(raw)
	}
	return ShapeUnknown, nil
}

// ExtractFields is Extract without the shape.
func ExtractFields(schemaJSON any) []Field {
	_, fields := Extract(schemaJSON)
	return fields
}

// Decode turns bytes or a JSON string into decoded JSON; anything else is returned as is.
// Malformed input decodes to nil.
func Decode(v any) any {
	var data []byte
	switch t := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		data = t
	case []byte:
		data = t
	case string:
		data = []byte(t)
	default:
		return v
	}
	if len(data) == 0 {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func flattenSections(doc map[string]any) []any {
	var out []any
	for _, s := range array(doc["sections"]) {
		out = append(out, array(object(s)["fields"])...)
	}
	return out
}

func jsonSchemaFields(doc map[string]any) []any {
	props := object(doc["properties"])
	if len(props) == 0 {
		return nil
	}
	required := map[string]bool{}
	for _, r := range array(doc["required"]) {
		if s, ok := r.(string); ok {
			required[s] = true
		}
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, key := range keys {
		def := object(props[key])
		typ := strings.ToLower(Stringify(first(def, "type")))
		label := Stringify(first(def, "title"))
		if label == "" {
			label = key
		}

		field := map[string]any{
			"key":      key,
			"label":    label,
			"required": required[key],
		}
		if enum, ok := def["enum"].([]any); ok {
			field["type"] = "select"
			field["options"] = enum
		} else if typ == "integer" || typ == "number" {
			field["type"] = "number"
		} else {
			field["type"] = "text"
		}
		out = append(out, field)
	}
	return out
}

func normalizeFields(raw []any) []Field {
	fields := make([]Field, 0, len(raw))
	seen := map[string]int{}
	for i, r := range raw {
		obj := object(r)

		key := strings.TrimSpace(Stringify(first(obj, "key", "name", "field_key", "fieldKey", "code", "id")))
		if key == "" {
			key = fmt.Sprintf("field_%d", i)
		}
		if n := seen[key]; n > 0 {
			base := key
			for ; seen[key] > 0; n++ {
				key = fmt.Sprintf("%s__%d", base, n)
			}
			seen[base] = n
		}
		seen[key]++

		label := strings.TrimSpace(Stringify(first(obj, "label", "title", "name")))
		if label == "" {
			label = key
		}

		typ := strings.ToLower(strings.TrimSpace(Stringify(first(obj, "type", "field_type", "fieldType"))))
		if typ == "" {
			typ = "text"
		}

		fields = append(fields, Field{
			Key:       key,
			Label:     label,
			Type:      typ,
			Required:  truthy(obj["required"]),
			OptionKey: strings.TrimSpace(Stringify(first(obj, "option_key", "optionKey"))),
			Options:   NormalizeOptions(obj["options"]),
		})
	}
	return fields
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case nil:
		return false
	}
	return true
}
