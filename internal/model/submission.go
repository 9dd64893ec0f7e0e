// Package model holds the data types shared between the schema, resolver,
// queue and runtime packages.
package model

import (
	"sort"
	"time"
)

// Submission is one filled-in instance of a form.
type Submission struct {
	// ID is the client-generated idempotency key. It is stable across
	// retries and is what the server deduplicates on.
	ID string `json:"id"`

	// RemoteID is the identifier assigned by the server once delivered.
	RemoteID string `json:"remote_id,omitempty"`

	FormID string `json:"form_id"`

	// Data maps field labels to values. Reference fields hold the chosen
	// primary-key value of the target record, never the record itself.
	Data map[string]interface{} `json:"data"`

	CreatedAt time.Time `json:"created_at"`
}

// PendingSubmission is a submission accepted locally but not yet confirmed
// delivered. Only AttemptCount changes after creation (plus Data, through an
// explicit amend while the entry is still queued).
type PendingSubmission struct {
	SubmissionID string                 `json:"submission_id"`
	FormID       string                 `json:"form_id"`
	Data         map[string]interface{} `json:"data"`
	EnqueuedAt   time.Time              `json:"enqueued_at"`
	AttemptCount int                    `json:"attempt_count"`
}

// RejectedSubmission is a pending submission the sink refused as malformed.
// It is parked out of the delivery path until the user retries or discards it.
type RejectedSubmission struct {
	PendingSubmission
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejected_at"`
}

// Labels returns the data keys in sorted order.
func (p PendingSubmission) Labels() []string {
	labels := make([]string, 0, len(p.Data))
	for label := range p.Data {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// CloneData returns a shallow copy of a data map. Values are JSON scalars so
// a shallow copy is enough to keep callers from aliasing queue state.
func CloneData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
