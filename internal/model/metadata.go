package model

import (
	"encoding/json"
	"time"
)

// FieldType is the declared type of a metadata field.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeNumber      FieldType = "number"
	FieldTypeSelect      FieldType = "select"
	FieldTypeMultiSelect FieldType = "multi-select"
	FieldTypeDate        FieldType = "date"
	FieldTypeURL         FieldType = "url"
)

// IsValid checks if the field type is valid
func (t FieldType) IsValid() bool {
	switch t {
	case FieldTypeText,
		FieldTypeNumber,
		FieldTypeSelect,
		FieldTypeMultiSelect,
		FieldTypeDate,
		FieldTypeURL:
		return true
	default:
		return false
	}
}

// Well-known metadata field ids used for retrieval filters.
const (
	FieldTrack       = "track"
	FieldTags        = "tags"
	FieldSessionType = "session_type"
	FieldSpeaker     = "speaker"
)

// FieldOption is an allowed value of a select or multi-select field.
type FieldOption struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// FieldDefinition describes one metadata field.
type FieldDefinition struct {
	ID       string        `yaml:"id" json:"id"`
	Name     string        `yaml:"name" json:"name"`
	Type     FieldType     `yaml:"type" json:"type"`
	Required bool          `yaml:"required" json:"required"`
	Options  []FieldOption `yaml:"options,omitempty" json:"options,omitempty"`
}

// FieldSchema is the set of metadata fields content items may carry.
type FieldSchema struct {
	Fields []FieldDefinition `yaml:"fields" json:"fields"`
}

// DefaultFieldSchema is the conference schema used when none is configured.
// Select fields without options accept any value.
func DefaultFieldSchema() *FieldSchema {
	return &FieldSchema{
		Fields: []FieldDefinition{
			{ID: FieldTrack, Name: "Track", Type: FieldTypeSelect},
			{ID: FieldTags, Name: "Tags", Type: FieldTypeMultiSelect},
			{ID: FieldSessionType, Name: "Session type", Type: FieldTypeSelect},
			{ID: FieldSpeaker, Name: "Speaker", Type: FieldTypeText},
		},
	}
}

// FieldValue is a typed metadata value.
type FieldValue struct {
	Type  FieldType `json:"type" firestore:"Type"`
	Value any       `json:"value" firestore:"Value"`
}

// UnmarshalJSON restores the Go type of Value from Type, so stored
// metadata reads back the way the constructors below build it.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  FieldType       `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Type, v.Value = raw.Type, nil
	if len(raw.Value) == 0 || string(raw.Value) == "null" {
		return nil
	}

	var err error
	switch raw.Type {
	case FieldTypeMultiSelect:
		var s []string
		err = json.Unmarshal(raw.Value, &s)
		v.Value = s
	case FieldTypeNumber:
		var f float64
		err = json.Unmarshal(raw.Value, &f)
		v.Value = f
	case FieldTypeDate:
		var t time.Time
		err = json.Unmarshal(raw.Value, &t)
		v.Value = t
	default:
		var a any
		err = json.Unmarshal(raw.Value, &a)
		v.Value = a
	}
	return err
}

// Metadata is the typed metadata bag of a content item, keyed by field id.
type Metadata map[string]FieldValue

// TextValue builds a text field value.
func TextValue(s string) FieldValue { return FieldValue{Type: FieldTypeText, Value: s} }

// SelectValue builds a select field value.
func SelectValue(s string) FieldValue { return FieldValue{Type: FieldTypeSelect, Value: s} }

// MultiSelectValue builds a multi-select field value.
func MultiSelectValue(s ...string) FieldValue {
	return FieldValue{Type: FieldTypeMultiSelect, Value: s}
}

// NumberValue builds a number field value.
func NumberValue(f float64) FieldValue { return FieldValue{Type: FieldTypeNumber, Value: f} }

// DateValue builds a date field value.
func DateValue(t time.Time) FieldValue { return FieldValue{Type: FieldTypeDate, Value: t} }

// Text returns the string value of a single-valued field, or "".
func (m Metadata) Text(id string) string {
	v, ok := m[id]
	if !ok {
		return ""
	}
	s, _ := v.Value.(string)
	return s
}

// Strings returns the values of a multi-valued field. Single string values
// are returned as a one-element slice.
func (m Metadata) Strings(id string) []string {
	v, ok := m[id]
	if !ok {
		return nil
	}
	switch val := v.Value.(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	default:
		return nil
	}
}

// Copy returns a copy of the metadata. Slice values are cloned.
func (m Metadata) Copy() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		switch val := v.Value.(type) {
		case []string:
			v.Value = append([]string(nil), val...)
		case []any:
			v.Value = append([]any(nil), val...)
		}
		out[k] = v
	}
	return out
}
