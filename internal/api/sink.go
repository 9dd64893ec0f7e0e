package api

import (
	"context"
	"net/http"

	"github.com/aidanlsb/formsync/internal/model"
)

// IdempotencyHeader carries the client submission id on delivery.
const IdempotencyHeader = "Idempotency-Key"

// SubmitRequest is the POST /submissions body.
type SubmitRequest struct {
	FormID       string                 `json:"form_id"`
	Data         map[string]interface{} `json:"data"`
	SubmissionID string                 `json:"submission_id"`
}

// SubmitResponse is the POST /submissions reply.
type SubmitResponse struct {
	// ID is the server-assigned record id.
	ID           string `json:"id"`
	SubmissionID string `json:"submission_id"`

	// Duplicate is true when the server had already accepted this
	// submission id and returned the original record.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Deliver posts one pending submission. The submission id travels in the
// body and as the idempotency header so the sink can deduplicate retries.
func (c *Client) Deliver(ctx context.Context, p model.PendingSubmission) (*SubmitResponse, error) {
	header := http.Header{}
	header.Set(IdempotencyHeader, p.SubmissionID)

	var resp SubmitResponse
	err := c.do(ctx, http.MethodPost, "/submissions", SubmitRequest{
		FormID:       p.FormID,
		Data:         p.Data,
		SubmissionID: p.SubmissionID,
	}, header, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
