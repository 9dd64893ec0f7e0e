// Package cli implements the command-line interface.
package cli

import (
	"errors"

	"github.com/aidanlsb/formsync/internal/api"
	"github.com/aidanlsb/formsync/internal/formruntime"
	"github.com/aidanlsb/formsync/internal/lease"
	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/queue"
	"github.com/aidanlsb/formsync/internal/schema"
	"github.com/aidanlsb/formsync/internal/store"
)

// Error codes for structured error responses.
// These codes are stable and can be relied upon by scripts.
const (
	// Config errors
	ErrConfigInvalid  = "CONFIG_INVALID"
	ErrServerRequired = "SERVER_URL_REQUIRED"

	// Schema errors
	ErrFormNotFound  = "FORM_NOT_FOUND"
	ErrFormInvalid   = "FORM_INVALID"
	ErrUnknownField  = "UNKNOWN_FIELD"
	ErrNotReference  = "NOT_A_REFERENCE"
	ErrInvalidState  = "INVALID_STATE"
	ErrRecordMissing = "RECORD_NOT_FOUND"

	// Validation errors
	ErrValidationFailed = "VALIDATION_FAILED"

	// Queue errors
	ErrSubmissionRejected = "SUBMISSION_REJECTED"
	ErrEntryNotFound      = "ENTRY_NOT_FOUND"
	ErrAlreadyDelivered   = "ALREADY_DELIVERED"
	ErrEntryRejected      = "ENTRY_REJECTED"
	ErrDrainBusy          = "DRAIN_BUSY"
	ErrDrainFailed        = "DRAIN_FAILED"

	// Transport errors
	ErrServerUnavailable = "SERVER_UNAVAILABLE"

	// File errors
	ErrFileReadError  = "FILE_READ_ERROR"
	ErrFileWriteError = "FILE_WRITE_ERROR"
	ErrFileNotFound   = "FILE_NOT_FOUND"
	ErrDatabaseError  = "DATABASE_ERROR"

	// Input errors
	ErrInvalidInput    = "INVALID_INPUT"
	ErrMissingArgument = "MISSING_ARGUMENT"

	// General errors
	ErrInternal = "INTERNAL_ERROR"
)

// Warning codes for non-fatal issues. Runtime conditions are passed through
// with their own codes.
const (
	WarnStuck        = "STUCK"
	WarnQueued       = "QUEUED_OFFLINE"
	WarnFieldInvalid = "FIELD_INVALID"
)

// errorCode maps a domain error to its stable code.
func errorCode(err error) string {
	var invalid *formruntime.InvalidError
	var verr schema.ValidationError
	var delivery *api.DeliveryError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errNoServer):
		return ErrServerRequired
	case errors.As(err, &invalid), errors.As(err, &verr):
		return ErrValidationFailed
	case errors.Is(err, schema.ErrFormNotFound):
		return ErrFormNotFound
	case errors.Is(err, schema.ErrMultiplePrimaryKeys):
		return ErrFormInvalid
	case errors.Is(err, model.ErrRecordNotFound):
		return ErrRecordMissing
	case errors.Is(err, formruntime.ErrUnknownField):
		return ErrUnknownField
	case errors.Is(err, formruntime.ErrNotReference):
		return ErrNotReference
	case errors.Is(err, formruntime.ErrInvalidState), errors.Is(err, formruntime.ErrAlreadySubmitted):
		return ErrInvalidState
	case errors.Is(err, queue.ErrAlreadyDelivered):
		return ErrAlreadyDelivered
	case errors.Is(err, queue.ErrEntryRejected):
		return ErrEntryRejected
	case errors.Is(err, queue.ErrRejected), api.IsRejected(err):
		return ErrSubmissionRejected
	case errors.Is(err, store.ErrEntryNotFound):
		return ErrEntryNotFound
	case errors.Is(err, lease.ErrHeld):
		return ErrDrainBusy
	case errors.As(err, &delivery) && api.IsRetryable(delivery):
		return ErrServerUnavailable
	}
	return ErrInternal
}

// errorSuggestion is the hint printed alongside a code.
func errorSuggestion(code string) string {
	switch code {
	case ErrServerRequired:
		return "Set server_url in config.toml or run 'formsync config set --server-url <url>'"
	case ErrFormNotFound:
		return "Run 'formsync forms list' to see local forms"
	case ErrEntryNotFound:
		return "Run 'formsync queue list' to see queued entries"
	case ErrEntryRejected:
		return "Run 'formsync queue retry <id>' to move it back to the queue"
	case ErrServerUnavailable:
		return "The submission stays queued; run 'formsync queue drain' once the server is reachable"
	case ErrDrainBusy:
		return "Another process is draining the queue"
	}
	return ""
}

// handleDomainError reports err with its mapped code and suggestion.
func handleDomainError(err error) error {
	code := errorCode(err)
	return handleError(code, err, errorSuggestion(code))
}
