package schema

import "strings"

// Option is one selectable choice.
type Option struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// OptionsForField returns the field's inline options when it has any; otherwise the list found
// under the field's option key in mappingJSON, looked up at the top level, then under
// "options", then under "mappings".
func OptionsForField(field Field, mappingJSON any) []Option {
	if len(field.Options) > 0 {
		return field.Options
	}
	if field.OptionKey == "" {
		return nil
	}

	mapping := object(Decode(mappingJSON))
	if mapping == nil {
		return nil
	}
	bucket := mapping[field.OptionKey]
	if bucket == nil {
		bucket = object(mapping["options"])[field.OptionKey]
	}
	if bucket == nil {
		bucket = object(mapping["mappings"])[field.OptionKey]
	}
	return NormalizeOptions(bucket)
}

// NormalizeOptions accepts bare primitives and objects with assorted key/label names. Entries
// without a key are dropped, as are repeated keys.
func NormalizeOptions(raw any) []Option {
	var out []Option
	seen := map[string]bool{}
	for _, it := range array(raw) {
		var key, label string
		switch t := it.(type) {
		case nil:
			continue
		case string, float64, bool:
			key = Stringify(t)
			label = key
		case map[string]any:
			key = strings.TrimSpace(Stringify(first(t, "key", "value", "id", "code", "name", "label")))
			label = strings.TrimSpace(Stringify(first(t, "label", "name", "title", "value", "key", "id", "code")))
			if label == "" {
				label = key
			}
		default:
			continue
		}
		if strings.TrimSpace(key) == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Option{Key: key, Label: label})
	}
	return out
}

// LabelFor finds the label of key among options.
func LabelFor(options []Option, key string) (string, bool) {
	for _, o := range options {
		if o.Key == key {
			return o.Label, true
		}
	}
	return "", false
}
