package model

import "fmt"

// ConditionCode identifies a non-fatal condition surfaced to the runtime.
type ConditionCode string

const (
	// ConditionReferenceUnavailable means candidate or record lookup failed.
	// The field stays enterable-as-empty.
	ConditionReferenceUnavailable ConditionCode = "REFERENCE_UNAVAILABLE"

	// ConditionReferenceTargetMissing means the referenced form does not
	// exist (yet, or it was renamed).
	ConditionReferenceTargetMissing ConditionCode = "REFERENCE_TARGET_MISSING"

	// ConditionSchemaInconsistent means a submission carries labels the
	// current schema no longer has. The stale keys are kept.
	ConditionSchemaInconsistent ConditionCode = "SCHEMA_INCONSISTENT"
)

// Condition is a warning attached to a field or submission.
type Condition struct {
	Code    ConditionCode `json:"code"`
	Field   string        `json:"field,omitempty"`
	Message string        `json:"message"`
}

func (c Condition) String() string {
	if c.Field == "" {
		return fmt.Sprintf("%s: %s", c.Code, c.Message)
	}
	return fmt.Sprintf("%s (%s): %s", c.Code, c.Field, c.Message)
}
