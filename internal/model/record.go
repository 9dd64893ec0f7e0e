package model

import "errors"

// ErrRecordNotFound indicates the requested record does not exist.
var ErrRecordNotFound = errors.New("record not found")

// Record is a stored submission of some form, fetched by the reference
// resolver for display alongside a reference selector.
type Record struct {
	ID       string                 `json:"id"`
	FormID   string                 `json:"form_id,omitempty"`
	FormName string                 `json:"form_name,omitempty"`
	Data     map[string]interface{} `json:"data"`
}

// Candidate is one selectable primary-key value of a referenced form.
type Candidate struct {
	Value    string `json:"value"`
	RecordID string `json:"record_id"`
}
