package api

import (
	"context"
	"net/http"

	"github.com/aidanlsb/formsync/internal/model"
)

// ListPrimaryKeyValues returns the primary-key values of every submission of
// the named form. A form with no submissions yields an empty slice. A form
// that does not exist yields an error wrapping schema.ErrFormNotFound.
func (c *Client) ListPrimaryKeyValues(ctx context.Context, formName string) ([]model.Candidate, error) {
	var out []model.Candidate
	if err := c.do(ctx, http.MethodGet, "/submissions"+pathEscape(formName, "pkvalue"), nil, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Candidate{}
	}
	return out, nil
}

// ListSubmissions returns the stored submissions of a form, oldest first.
func (c *Client) ListSubmissions(ctx context.Context, formID string) ([]model.Record, error) {
	var out []model.Record
	if err := c.do(ctx, http.MethodGet, "/submissions"+pathEscape(formID), nil, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Record{}
	}
	return out, nil
}

// GetRecord fetches one stored submission by record id.
func (c *Client) GetRecord(ctx context.Context, recordID string) (*model.Record, error) {
	var rec model.Record
	if err := c.do(ctx, http.MethodGet, "/submissions/get"+pathEscape(recordID), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
