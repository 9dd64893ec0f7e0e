package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aidanlsb/formsync/internal/dates"
)

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("Field '%s': %s", e.Field, e.Message)
}

// Parse converts raw user input into the typed value stored in submission
// data. Empty input yields nil; Validate decides whether nil is acceptable.
func (f Field) Parse(raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	switch f.Type {
	case FieldTypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected number")
		}
		return n, nil

	case FieldTypeDate:
		if !dates.IsValidDate(raw) {
			return nil, fmt.Errorf("invalid date format, expected YYYY-MM-DD")
		}
		return raw, nil

	case FieldTypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected true or false")
		}
		return b, nil

	case FieldTypeText, FieldTypeReference:
		return raw, nil
	}
	return nil, fmt.Errorf("unknown field type %q", f.Type)
}

// Validate checks a typed value against the field's required and type
// constraints.
func (f Field) Validate(value interface{}) error {
	if isEmpty(value) {
		if f.Required {
			return fmt.Errorf("required field is missing")
		}
		return nil
	}

	switch f.Type {
	case FieldTypeText, FieldTypeReference:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string")
		}
	case FieldTypeNumber:
		switch value.(type) {
		case float64, float32, int, int64, int32:
		default:
			return fmt.Errorf("expected number")
		}
	case FieldTypeDate:
		s, ok := value.(string)
		if !ok || !dates.IsValidDate(s) {
			return fmt.Errorf("invalid date format, expected YYYY-MM-DD")
		}
	case FieldTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean")
		}
	default:
		return fmt.Errorf("unknown field type %q", f.Type)
	}
	return nil
}

// ValidateData validates every field of the form against data.
// Unknown keys are not errors; see Form.StaleLabels.
func ValidateData(form *Form, data map[string]interface{}) []ValidationError {
	var errs []ValidationError
	for _, field := range form.Fields {
		if err := field.Validate(data[field.Label]); err != nil {
			errs = append(errs, ValidationError{Field: field.Label, Message: err.Error()})
		}
	}
	return errs
}

func isEmpty(value interface{}) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return true
	}
	return false
}
