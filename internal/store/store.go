// Package store is the local durable store for pending submissions.
//
// Entries live in an ordered list keyed by a namespace. They are appended on
// enqueue, removed one at a time on confirmed delivery and otherwise only
// touched to bump the attempt count, to amend data while still queued, or to
// park a rejected entry on the dead-letter list.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aidanlsb/formsync/internal/model"
)

// DefaultNamespace is the namespace used when none is configured.
const DefaultNamespace = "pendingFormSubmissions"

var (
	// ErrEntryNotFound indicates no entry with that submission id exists.
	ErrEntryNotFound = errors.New("queue entry not found")

	// ErrDuplicateEntry indicates an entry with that submission id is
	// already queued.
	ErrDuplicateEntry = errors.New("queue entry already exists")
)

// Store is a durable FIFO of pending submissions plus a dead-letter list.
type Store interface {
	// Append adds an entry at the tail.
	Append(ctx context.Context, p model.PendingSubmission) error

	// List returns pending entries in FIFO order.
	List(ctx context.Context) ([]model.PendingSubmission, error)

	Get(ctx context.Context, submissionID string) (model.PendingSubmission, error)

	// Remove deletes a pending entry after confirmed delivery.
	Remove(ctx context.Context, submissionID string) error

	// IncrementAttempts bumps the attempt count and returns the new value.
	IncrementAttempts(ctx context.Context, submissionID string) (int, error)

	// Amend replaces the data of a still-queued entry.
	Amend(ctx context.Context, submissionID string, data map[string]interface{}) error

	// Reject moves a pending entry to the dead-letter list.
	Reject(ctx context.Context, submissionID, reason string, at time.Time) error

	ListRejected(ctx context.Context) ([]model.RejectedSubmission, error)

	// Restore moves a rejected entry back to the tail of the pending list.
	Restore(ctx context.Context, submissionID string) error

	// DeleteRejected discards a rejected entry for good.
	DeleteRejected(ctx context.Context, submissionID string) error

	Close() error
}
