// Package api is the HTTP client for the form server: the submission sink,
// the submission lookup and the form directory.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aidanlsb/formsync/internal/schema"
)

// DefaultTimeout bounds every request when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 64 << 10

// Options configures a Client.
type Options struct {
	BaseURL string

	// Token is sent as a bearer token when set. It is opaque to the client.
	Token string

	// Timeout bounds each request, including reading the response.
	Timeout time.Duration

	// UserAgent overrides the default User-Agent header.
	UserAgent string

	HTTPClient *http.Client
}

// Client talks to the form server.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	timeout   time.Duration
	http      *http.Client
}

// NewClient returns a client for opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("server url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", base, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:   base,
		token:     opts.Token,
		userAgent: strings.TrimSpace(opts.UserAgent),
		timeout:   timeout,
		http:      httpClient,
	}, nil
}

// BaseURL returns the server url the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}, header http.Header, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A truncated body after a 2xx is a transport problem, not a rejection.
		return &DeliveryError{Kind: NetworkUnreachable, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var cause error = errors.New(msg)
	if resp.StatusCode == http.StatusNotFound {
		switch eb.Code {
		case CodeFormNotFound:
			cause = fmt.Errorf("%w: %s", schema.ErrFormNotFound, msg)
		case CodeRecordNotFound:
			cause = fmt.Errorf("%w: %s", ErrRecordNotFound, msg)
		}
	}

	return &DeliveryError{
		Kind:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Code:       eb.Code,
		Err:        cause,
	}
}

func pathEscape(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
