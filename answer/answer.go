// Package answer resolves a raw answer value and its field snapshot into the typed value slots
// stored on the server. Client and server share it so both sides agree on every slot.
package answer

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/mbolis/fieldsync/model"
	"github.com/mbolis/fieldsync/schema"
)

// Value is one of Text, Number, Bool, JSON, Choice or Null.
type Value interface {
	isValue()
}

type (
	Text   string
	Number float64
	Bool   bool
	JSON   json.RawMessage
	Choice struct {
		Key   string
		Label string
	}
	Null struct{}
)

func (Text) isValue()   {}
func (Number) isValue() {}
func (Bool) isValue()   {}
func (JSON) isValue()   {}
func (Choice) isValue() {}
func (Null) isValue()   {}

// Slots is the column-level layout of a Value. At most one slot is set.
type Slots struct {
	Text   *string
	Number *float64
	Bool   *bool
	JSON   json.RawMessage
}

// Record is a resolved answer ready to be stored.
type Record struct {
	FieldKey string
	Value    Value
	Snapshot model.Snapshot
}

func (r Record) Slots() Slots {
	switch v := r.Value.(type) {
	case Text:
		s := string(v)
		return Slots{Text: &s}
	case Choice:
		s := v.Label
		return Slots{Text: &s}
	case Number:
		f := float64(v)
		return Slots{Number: &f}
	case Bool:
		b := bool(v)
		return Slots{Bool: &b}
	case JSON:
		return Slots{JSON: json.RawMessage(v)}
	}
	return Slots{}
}

// Resolve applies the slot precedence: an option label wins as text, then a bool, a finite
// number, an object or array as JSON, and anything else as its string form. Choice fields
// without an option key take a primitive raw value as their key.
func Resolve(fieldKey string, raw any, snap model.Snapshot) Record {
	rec := Record{FieldKey: fieldKey, Snapshot: snap}

	if snap.Type != nil && schema.IsChoiceType(*snap.Type) && snap.OptionKey == nil {
		switch raw.(type) {
		case string, float64, bool, json.Number:
			key := schema.Stringify(raw)
			rec.Snapshot.OptionKey = &key
		}
	}

	if snap.OptionLabel != nil && *snap.OptionLabel != "" {
		key := ""
		if rec.Snapshot.OptionKey != nil {
			key = *rec.Snapshot.OptionKey
		}
		rec.Value = Choice{Key: key, Label: *snap.OptionLabel}
		return rec
	}

	switch v := raw.(type) {
	case nil:
		rec.Value = Null{}
	case bool:
		rec.Value = Bool(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			rec.Value = Text(schema.Stringify(v))
		} else {
			rec.Value = Number(v)
		}
	case json.Number:
		if f, err := v.Float64(); err == nil && !math.IsInf(f, 0) {
			rec.Value = Number(f)
		} else {
			rec.Value = Text(v.String())
		}
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			rec.Value = Null{}
		} else {
			rec.Value = JSON(data)
		}
	default:
		rec.Value = Text(schema.Stringify(v))
	}
	return rec
}

// Build computes the snapshot for a field from the schema. For a choice field with a primitive
// value the snapshot records the selected option: its key is the value and its label comes from
// the field's options (hint supplies them when the field has none inline), else the value itself.
func Build(field schema.Field, raw any, hint []schema.Option) Record {
	snap := model.Snapshot{
		Label: model.Str(field.Label),
		Type:  model.Str(field.Type),
	}

	if field.IsChoice() {
		switch raw.(type) {
		case string, float64, bool:
			key := schema.Stringify(raw)
			options := field.Options
			if len(options) == 0 {
				options = hint
			}
			label, ok := schema.LabelFor(options, key)
			if !ok {
				label = key
			}
			snap.OptionKey = &key
			snap.OptionLabel = &label
		}
	}

	return Resolve(field.Key, raw, snap)
}

// Human picks the value an answer is displayed with.
func Human(a model.Answer) model.HumanAnswer {
	h := model.HumanAnswer{
		FieldKey:    a.FieldKey,
		Label:       nonBlank(a.Label),
		Type:        nonBlank(a.Type),
		OptionKey:   nonBlank(a.OptionKey),
		OptionLabel: nonBlank(a.OptionLabel),
	}

	switch {
	case h.OptionLabel != nil:
		h.Value = *h.OptionLabel
	case a.ValueText != nil && strings.TrimSpace(*a.ValueText) != "":
		h.Value = *a.ValueText
	case a.ValueNumber != nil:
		h.Value = *a.ValueNumber
	case a.ValueBool != nil:
		if *a.ValueBool {
			h.Value = "Yes"
		} else {
			h.Value = "No"
		}
	case len(a.ValueJSON) > 0 && string(a.ValueJSON) != "null":
		h.Value = a.ValueJSON
	}
	return h
}

func nonBlank(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
