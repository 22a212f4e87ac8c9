package model

import (
	"fmt"
	"net/url"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// FieldValidator validates content metadata against a field schema
type FieldValidator struct {
	schema *FieldSchema
}

// NewFieldValidator creates a new FieldValidator with the given schema.
// A nil schema falls back to DefaultFieldSchema.
func NewFieldValidator(schema *FieldSchema) *FieldValidator {
	if schema == nil {
		schema = DefaultFieldSchema()
	}
	return &FieldValidator{schema: schema}
}

// ValidateSchema checks the schema itself: unique ids and known types.
func ValidateSchema(schema *FieldSchema) error {
	seen := make(map[string]bool)
	for _, fd := range schema.Fields {
		if fd.ID == "" {
			return goerr.Wrap(ErrInvalidSchema, "field id is empty")
		}
		if seen[fd.ID] {
			return goerr.Wrap(ErrInvalidSchema, "duplicate field id", goerr.V(FieldIDKey, fd.ID))
		}
		seen[fd.ID] = true
		if !fd.Type.IsValid() {
			return goerr.Wrap(ErrInvalidSchema, "unknown field type",
				goerr.V(FieldIDKey, fd.ID), goerr.V(ExpectedTypeKey, fd.Type))
		}
	}
	return nil
}

// Validate checks every known field of m and that required fields are present.
// Fields not in the schema are ignored.
func (v *FieldValidator) Validate(m Metadata) error {
	for _, fd := range v.schema.Fields {
		fv, ok := m[fd.ID]
		if !ok {
			if fd.Required {
				return goerr.Wrap(ErrMissingRequired, "required field not provided",
					goerr.V(FieldIDKey, fd.ID))
			}
			continue
		}
		if fv.Type != "" && fv.Type != fd.Type {
			return goerr.Wrap(ErrInvalidFieldType, "declared type does not match schema",
				goerr.V(FieldIDKey, fd.ID),
				goerr.V(ExpectedTypeKey, fd.Type),
				goerr.V(ActualTypeKey, fv.Type))
		}
		if err := v.validateValue(fd, fv.Value); err != nil {
			return goerr.Wrap(err, "field validation failed", goerr.V(FieldIDKey, fd.ID))
		}
	}
	return nil
}

func (v *FieldValidator) validateValue(fd FieldDefinition, value any) error {
	switch fd.Type {
	case FieldTypeText:
		return expectString(fd, value)
	case FieldTypeNumber:
		switch value.(type) {
		case float64, float32, int, int64, int32:
			return nil
		}
		return typeError(fd, value)
	case FieldTypeSelect:
		if err := expectString(fd, value); err != nil {
			return err
		}
		return checkOptions(fd, value.(string))
	case FieldTypeMultiSelect:
		values, ok := toStrings(value)
		if !ok {
			return typeError(fd, value)
		}
		for _, s := range values {
			if err := checkOptions(fd, s); err != nil {
				return err
			}
		}
		return nil
	case FieldTypeDate:
		switch val := value.(type) {
		case time.Time:
			return nil
		case string:
			if _, err := time.Parse(time.RFC3339, val); err != nil {
				return goerr.Wrap(ErrInvalidFieldType, "date value must be RFC3339 format string",
					goerr.V(FieldValueKey, val))
			}
			return nil
		}
		return typeError(fd, value)
	case FieldTypeURL:
		if err := expectString(fd, value); err != nil {
			return err
		}
		u, err := url.Parse(value.(string))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return goerr.Wrap(ErrInvalidFieldType, "value must be an absolute URL",
				goerr.V(FieldValueKey, value))
		}
		return nil
	default:
		return goerr.Wrap(ErrInvalidFieldType, "unsupported field type",
			goerr.V(ExpectedTypeKey, fd.Type))
	}
}

func expectString(fd FieldDefinition, value any) error {
	if _, ok := value.(string); !ok {
		return typeError(fd, value)
	}
	return nil
}

func typeError(fd FieldDefinition, value any) error {
	return goerr.Wrap(ErrInvalidFieldType, "value has wrong type",
		goerr.V(ExpectedTypeKey, fd.Type),
		goerr.V(ActualTypeKey, fmt.Sprintf("%T", value)))
}

// checkOptions accepts any value when the definition lists no options.
func checkOptions(fd FieldDefinition, optionID string) error {
	if len(fd.Options) == 0 {
		return nil
	}
	for _, opt := range fd.Options {
		if opt.ID == optionID {
			return nil
		}
	}
	return goerr.Wrap(ErrInvalidOptionID, "option ID not found in field definition",
		goerr.V(OptionIDKey, optionID))
}

func toStrings(value any) ([]string, bool) {
	switch val := value.(type) {
	case []string:
		return val, true
	case []any:
		out := make([]string, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}
