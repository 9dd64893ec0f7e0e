package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aidanlsb/formsync/internal/model"
)

// FailureKind classifies a failed delivery attempt.
type FailureKind string

const (
	// NetworkUnreachable covers transport errors and timeouts. Retry later.
	NetworkUnreachable FailureKind = "network_unreachable"

	// SinkUnavailable is a server-side fault (5xx, 408, 429). Retry later.
	SinkUnavailable FailureKind = "sink_unavailable"

	// SinkRejected is a client-side fault (other 4xx). Retrying the same
	// request will never succeed.
	SinkRejected FailureKind = "sink_rejected"
)

// Error codes carried in server error bodies.
const (
	CodeFormNotFound   = "FORM_NOT_FOUND"
	CodeRecordNotFound = "RECORD_NOT_FOUND"
	CodeValidation     = "VALIDATION_ERROR"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInternal       = "INTERNAL_ERROR"
)

// ErrRecordNotFound is model.ErrRecordNotFound, re-exported for callers of
// the client.
var ErrRecordNotFound = model.ErrRecordNotFound

// DeliveryError is returned by every client call that reached the point of
// issuing a request.
type DeliveryError struct {
	Kind       FailureKind
	StatusCode int
	Code       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err. Errors that are not delivery
// errors are treated as network failures, except context cancellation
// which is reported with ok=false.
func KindOf(err error) (FailureKind, bool) {
	if err == nil {
		return "", false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	if errors.Is(err, context.Canceled) {
		return "", false
	}
	return NetworkUnreachable, true
}

// IsRetryable reports whether a later attempt of the same request can
// succeed.
func IsRetryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	return kind != SinkRejected
}

// IsRejected reports whether the sink refused the request as malformed.
func IsRejected(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == SinkRejected
}

// classifyStatus maps a non-2xx status to a failure kind.
func classifyStatus(status int) FailureKind {
	switch {
	case status >= 500:
		return SinkUnavailable
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return SinkUnavailable
	default:
		return SinkRejected
	}
}

// classifyTransport wraps an error from http.Client.Do. Timeouts and
// refused connections alike are network failures, never rejections.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &DeliveryError{Kind: NetworkUnreachable, Err: err}
}
