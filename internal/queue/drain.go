package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/aidanlsb/formsync/internal/api"
	"github.com/aidanlsb/formsync/internal/audit"
	"github.com/aidanlsb/formsync/internal/lease"
	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/store"
)

// Delivery is one entry delivered by a drain.
type Delivery struct {
	SubmissionID string `json:"submission_id"`
	FormID       string `json:"form_id"`
	RemoteID     string `json:"remote_id,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
}

// Rejection is one entry moved to the dead-letter list by a drain.
type Rejection struct {
	SubmissionID string `json:"submission_id"`
	FormID       string `json:"form_id"`
	Reason       string `json:"reason"`
}

// DrainReport summarizes a drain.
type DrainReport struct {
	// Skipped is set when another drain held the queue. Nothing was read.
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`

	Delivered []Delivery  `json:"delivered"`
	Rejected  []Rejection `json:"rejected"`

	// Remaining is the number of entries still queued when the drain ended.
	Remaining int `json:"remaining"`

	// Stuck lists entries whose attempt count reached the advisory limit.
	Stuck []string `json:"stuck,omitempty"`

	Warnings []model.Condition `json:"warnings,omitempty"`
}

// Drain replays persisted entries one at a time in FIFO order. Each entry is
// removed right after its acknowledgment. Rejected entries are parked on the
// dead-letter list and the drain moves on. The first retryable failure stops
// the drain, leaving that entry and everything behind it queued; the error
// is returned with the report.
//
// Draining an empty queue is a no-op. A drain that finds another drain
// running, in this process or another, returns a skipped report and no
// error.
func (q *Queue) Drain(ctx context.Context) (DrainReport, error) {
	if !q.mu.TryLock() {
		return DrainReport{Skipped: true, SkipReason: "drain already running"}, nil
	}
	defer q.mu.Unlock()
	return q.drainLocked(ctx)
}

// drainLocked must be called with mu held.
func (q *Queue) drainLocked(ctx context.Context) (DrainReport, error) {
	report := DrainReport{Delivered: []Delivery{}, Rejected: []Rejection{}}

	if q.lease != "" {
		l, err := lease.Acquire(q.lease)
		if errors.Is(err, lease.ErrHeld) {
			report.Skipped = true
			report.SkipReason = "drain lease held by another process"
			return report, nil
		}
		if err != nil {
			return report, err
		}
		defer l.Release()
	}

	entries, err := q.store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(entries) == 0 {
		return report, nil
	}

	q.logDebug("draining %d entries", len(entries))
	_ = q.audit.LogDrain(audit.EventDrainStarted, 0, 0, len(entries), "")

	for len(entries) > 0 {
		for _, p := range entries {
			if err := ctx.Err(); err != nil {
				return q.abort(ctx, report, err)
			}
			failed, err := q.drainOne(ctx, p, &report)
			if err != nil {
				return q.abort(ctx, report, err)
			}
			if failed != nil {
				return q.abort(ctx, report, failed)
			}
		}

		// Entries appended while draining are picked up too.
		entries, err = q.store.List(ctx)
		if err != nil {
			return report, fmt.Errorf("failed to read queue: %w", err)
		}
	}

	_ = q.audit.LogDrain(audit.EventDrainDone, len(report.Delivered), len(report.Rejected), 0, "")
	return report, nil
}

// drainOne attempts one entry. failed is a retryable delivery failure that
// ends the drain; err is an internal failure (store, context).
func (q *Queue) drainOne(ctx context.Context, p model.PendingSubmission, report *DrainReport) (failed, err error) {
	attempt, err := q.store.IncrementAttempts(ctx, p.SubmissionID)
	if errors.Is(err, store.ErrEntryNotFound) {
		// Removed behind our back, by a discard or by another process.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update attempts: %w", err)
	}
	if attempt >= q.maxAtt {
		report.Stuck = append(report.Stuck, p.SubmissionID)
	}
	report.Warnings = append(report.Warnings, q.inconsistencies(ctx, p)...)

	resp, derr := q.attempt(ctx, p)
	if derr == nil {
		if err := q.store.Remove(ctx, p.SubmissionID); err != nil && !errors.Is(err, store.ErrEntryNotFound) {
			// Delivered but still stored: the next drain sends a duplicate
			// the sink drops by submission id.
			return nil, fmt.Errorf("failed to remove delivered entry %s: %w", p.SubmissionID, err)
		}
		_ = q.audit.LogSubmission(audit.EventDelivered, p.SubmissionID, p.FormID, "")
		q.logDebug("delivered %s (attempt %d)", p.SubmissionID, attempt)
		report.Delivered = append(report.Delivered, Delivery{
			SubmissionID: p.SubmissionID,
			FormID:       p.FormID,
			RemoteID:     resp.ID,
			Duplicate:    resp.Duplicate,
		})
		return nil, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	kind, status := failureDetails(derr)
	if api.IsRejected(derr) {
		if err := q.store.Reject(ctx, p.SubmissionID, derr.Error(), q.now()); err != nil && !errors.Is(err, store.ErrEntryNotFound) {
			return nil, fmt.Errorf("failed to park rejected entry %s: %w", p.SubmissionID, err)
		}
		_ = q.audit.LogFailure(audit.EventRejected, p.SubmissionID, p.FormID, attempt, kind, status, derr.Error())
		q.logDebug("rejected %s: %v", p.SubmissionID, derr)
		report.Rejected = append(report.Rejected, Rejection{
			SubmissionID: p.SubmissionID,
			FormID:       p.FormID,
			Reason:       derr.Error(),
		})
		return nil, nil
	}

	_ = q.audit.LogFailure(audit.EventDeferred, p.SubmissionID, p.FormID, attempt, kind, status, derr.Error())
	q.logDebug("drain stopped at %s: %v", p.SubmissionID, derr)
	return derr, nil
}

// abort ends a drain early. The store is recounted even when ctx is done.
func (q *Queue) abort(ctx context.Context, report DrainReport, cause error) (DrainReport, error) {
	if remaining, err := q.store.List(context.WithoutCancel(ctx)); err == nil {
		report.Remaining = len(remaining)
	}
	_ = q.audit.LogDrain(audit.EventDrainAborted, len(report.Delivered), len(report.Rejected), report.Remaining, cause.Error())
	return report, fmt.Errorf("drain aborted: %w", cause)
}

// Amend replaces the data of a still-queued submission. It fails with
// ErrAlreadyDelivered once the entry has been delivered.
func (q *Queue) Amend(ctx context.Context, submissionID string, data map[string]interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.store.Amend(ctx, submissionID, model.CloneData(data))
	if err == nil {
		_ = q.audit.LogSubmission(audit.EventAmended, submissionID, "", "")
		return nil
	}
	if !errors.Is(err, store.ErrEntryNotFound) {
		return err
	}

	rejected, rerr := q.store.ListRejected(ctx)
	if rerr != nil {
		return rerr
	}
	for _, r := range rejected {
		if r.SubmissionID == submissionID {
			return fmt.Errorf("%w: %s", ErrEntryRejected, submissionID)
		}
	}
	return fmt.Errorf("%w: %s", ErrAlreadyDelivered, submissionID)
}

// Retry moves a rejected entry back to the tail of the queue.
func (q *Queue) Retry(ctx context.Context, submissionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Restore(ctx, submissionID); err != nil {
		return err
	}
	_ = q.audit.LogSubmission(audit.EventRestored, submissionID, "", "")
	return nil
}

// Discard removes an entry from the dead-letter list, or from the pending
// list when it is not rejected. This is the only way data leaves the store
// without being delivered.
func (q *Queue) Discard(ctx context.Context, submissionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.store.DeleteRejected(ctx, submissionID)
	if errors.Is(err, store.ErrEntryNotFound) {
		err = q.store.Remove(ctx, submissionID)
	}
	if err != nil {
		return err
	}
	_ = q.audit.LogSubmission(audit.EventDiscarded, submissionID, "", "")
	return nil
}

// Stuck reports whether an entry reached the advisory attempt limit.
func (q *Queue) Stuck(p model.PendingSubmission) bool {
	return p.AttemptCount >= q.maxAtt
}
