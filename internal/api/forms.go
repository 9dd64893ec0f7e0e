package api

import (
	"context"
	"net/http"

	"github.com/aidanlsb/formsync/internal/schema"
)

// GetForm implements schema.Store against the form directory.
func (c *Client) GetForm(ctx context.Context, formID string) (*schema.Form, error) {
	var form schema.Form
	if err := c.do(ctx, http.MethodGet, "/forms"+pathEscape(formID), nil, nil, &form); err != nil {
		return nil, err
	}
	form.Normalize()
	return &form, nil
}

// GetFields implements schema.Store.
func (c *Client) GetFields(ctx context.Context, formID string) ([]schema.Field, error) {
	var fields []schema.Field
	if err := c.do(ctx, http.MethodGet, "/fields"+pathEscape(formID), nil, nil, &fields); err != nil {
		return nil, err
	}
	form := schema.Form{Fields: fields}
	form.Normalize()
	return form.Fields, nil
}

// Healthy reports whether the server answers its health check.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

var _ schema.Store = (*Client)(nil)
