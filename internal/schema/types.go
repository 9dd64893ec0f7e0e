// Package schema handles form schemas: ordered, typed fields and the
// validation of values entered against them.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// FieldType represents the type of a field.
type FieldType string

const (
	FieldTypeText      FieldType = "text"
	FieldTypeNumber    FieldType = "number"
	FieldTypeDate      FieldType = "date"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeReference FieldType = "reference"
)

// ParseFieldType normalizes a wire or config type name.
// "form reference" is the legacy spelling of reference.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string":
		return FieldTypeText, nil
	case "number":
		return FieldTypeNumber, nil
	case "date":
		return FieldTypeDate, nil
	case "boolean", "bool":
		return FieldTypeBoolean, nil
	case "reference", "ref", "form reference":
		return FieldTypeReference, nil
	}
	return "", fmt.Errorf("unknown field type %q", s)
}

// UnmarshalText lets FieldType be decoded from YAML and JSON with aliases.
func (t *FieldType) UnmarshalText(b []byte) error {
	parsed, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Form is a user-defined ordered schema of fields.
type Form struct {
	ID             string  `yaml:"id" json:"id"`
	Name           string  `yaml:"name" json:"name"`
	OwnerProjectID string  `yaml:"owner_project_id,omitempty" json:"owner_project_id,omitempty"`
	Fields         []Field `yaml:"fields" json:"fields"`
}

// Field is one typed, labeled slot in a form.
type Field struct {
	Label        string    `yaml:"label" json:"label"`
	Type         FieldType `yaml:"type" json:"type"`
	Required     bool      `yaml:"required,omitempty" json:"required"`
	IsPrimaryKey bool      `yaml:"is_primary_key,omitempty" json:"is_primary_key"`

	// ReferencedFormName is set iff Type is reference. Forms are referenced
	// by name, so renaming a referenced form breaks the reference.
	ReferencedFormName string `yaml:"form_name,omitempty" json:"form_name,omitempty"`

	Order int `yaml:"order" json:"order"`
}

// Kind is the tagged variant of a field's type: either Scalar or Reference.
type Kind interface {
	FieldType() FieldType
}

// Scalar is every field kind that holds its own value.
type Scalar struct {
	Type FieldType
}

func (s Scalar) FieldType() FieldType { return s.Type }

// Reference is a field whose value is the primary key of a record in the
// named target form.
type Reference struct {
	TargetFormName string
}

func (Reference) FieldType() FieldType { return FieldTypeReference }

// Kind returns the field's tagged variant.
func (f Field) Kind() Kind {
	if f.Type == FieldTypeReference {
		return Reference{TargetFormName: f.ReferencedFormName}
	}
	return Scalar{Type: f.Type}
}

// Reference returns the target form name for reference fields.
func (f Field) Reference() (string, bool) {
	if ref, ok := f.Kind().(Reference); ok {
		return ref.TargetFormName, true
	}
	return "", false
}

// Check verifies the field's own invariants.
func (f Field) Check() error {
	if strings.TrimSpace(f.Label) == "" {
		return fmt.Errorf("field label is required")
	}
	if _, err := ParseFieldType(string(f.Type)); err != nil {
		return fmt.Errorf("field %q: %w", f.Label, err)
	}
	isRef := f.Type == FieldTypeReference
	hasTarget := strings.TrimSpace(f.ReferencedFormName) != ""
	if isRef && !hasTarget {
		return fmt.Errorf("field %q: reference field needs form_name", f.Label)
	}
	if !isRef && hasTarget {
		return fmt.Errorf("field %q: form_name is only valid on reference fields", f.Label)
	}
	return nil
}

// Normalize sorts fields by Order and fills in missing orders from position.
// Fields with equal order keep their relative position.
func (f *Form) Normalize() {
	for i := range f.Fields {
		if f.Fields[i].Order == 0 {
			f.Fields[i].Order = i + 1
		}
		if f.Fields[i].Type != FieldTypeReference {
			f.Fields[i].ReferencedFormName = ""
		}
	}
	sort.SliceStable(f.Fields, func(i, j int) bool {
		return f.Fields[i].Order < f.Fields[j].Order
	})
}

// Field returns the field with the given label.
func (f *Form) Field(label string) (Field, bool) {
	for _, field := range f.Fields {
		if field.Label == label {
			return field, true
		}
	}
	return Field{}, false
}

// Labels returns the field labels in order.
func (f *Form) Labels() []string {
	labels := make([]string, len(f.Fields))
	for i, field := range f.Fields {
		labels[i] = field.Label
	}
	return labels
}

// PrimaryKey returns the first field marked as primary key.
func (f *Form) PrimaryKey() (Field, bool) {
	for _, field := range f.Fields {
		if field.IsPrimaryKey {
			return field, true
		}
	}
	return Field{}, false
}

// ReferenceFields returns the reference fields in order.
func (f *Form) ReferenceFields() []Field {
	var refs []Field
	for _, field := range f.Fields {
		if _, ok := field.Reference(); ok {
			refs = append(refs, field)
		}
	}
	return refs
}

// StaleLabels returns data keys that the form does not define, sorted.
func (f *Form) StaleLabels(data map[string]interface{}) []string {
	known := make(map[string]struct{}, len(f.Fields))
	for _, field := range f.Fields {
		known[field.Label] = struct{}{}
	}
	var stale []string
	for label := range data {
		if _, ok := known[label]; !ok {
			stale = append(stale, label)
		}
	}
	sort.Strings(stale)
	return stale
}

// Issues reports structural problems with the form. Multiple primary keys
// are reported here; callers decide whether that blocks.
func (f *Form) Issues() []ValidationError {
	var issues []ValidationError
	if strings.TrimSpace(f.Name) == "" {
		issues = append(issues, ValidationError{Message: "form name is required"})
	}
	seen := make(map[string]bool, len(f.Fields))
	var pks []string
	for _, field := range f.Fields {
		if err := field.Check(); err != nil {
			issues = append(issues, ValidationError{Field: field.Label, Message: err.Error()})
		}
		if seen[field.Label] {
			issues = append(issues, ValidationError{Field: field.Label, Message: "duplicate field label"})
		}
		seen[field.Label] = true
		if field.IsPrimaryKey {
			pks = append(pks, field.Label)
		}
	}
	if len(pks) > 1 {
		issues = append(issues, ValidationError{
			Field:   pks[1],
			Message: fmt.Sprintf("more than one primary key field: %s", strings.Join(pks, ", ")),
		})
	}
	return issues
}
