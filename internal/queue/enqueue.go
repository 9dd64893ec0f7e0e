package queue

import (
	"context"
	"fmt"

	"github.com/aidanlsb/formsync/internal/api"
	"github.com/aidanlsb/formsync/internal/audit"
	"github.com/aidanlsb/formsync/internal/model"
)

// Outcome is how an accepted submission left Enqueue.
type Outcome int

const (
	// Delivered means the sink acknowledged the submission.
	Delivered Outcome = iota
	// Deferred means the submission exists only in the local store until a
	// drain delivers it.
	Deferred
)

func (o Outcome) String() string {
	if o == Delivered {
		return "delivered"
	}
	return "deferred"
}

// Receipt describes an accepted submission.
type Receipt struct {
	SubmissionID string
	Outcome      Outcome

	// RemoteID is the server record id when delivered.
	RemoteID  string
	Duplicate bool

	// LastError is why a submission was deferred, nil when it was queued
	// without an attempt.
	LastError error

	Warnings []model.Condition
}

// Enqueue accepts a submission. While online the submission is delivered
// right away unless older entries are still queued, in which case it joins
// the tail, Run is woken and the receipt says Deferred; Enqueue never drains
// the backlog itself. Network and server faults never fail
// Enqueue; the submission is persisted and the receipt says Deferred. A
// first-attempt rejection is returned as an error wrapping ErrRejected and
// nothing is persisted.
func (q *Queue) Enqueue(ctx context.Context, sub model.Submission) (*Receipt, error) {
	if sub.FormID == "" {
		return nil, fmt.Errorf("submission form id is required")
	}
	if sub.ID == "" {
		sub.ID = q.newID()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = q.now()
	}

	p := model.PendingSubmission{
		SubmissionID: sub.ID,
		FormID:       sub.FormID,
		Data:         model.CloneData(sub.Data),
		EnqueuedAt:   sub.CreatedAt.UTC(),
	}
	receipt := &Receipt{SubmissionID: p.SubmissionID, Outcome: Deferred}
	receipt.Warnings = q.inconsistencies(ctx, p)

	if !q.conn.Online() {
		if err := q.persist(ctx, p, nil); err != nil {
			return nil, err
		}
		return receipt, nil
	}

	if !q.mu.TryLock() {
		// A drain or another delivery is running; it picks the entry up.
		if err := q.persist(ctx, p, nil); err != nil {
			return nil, err
		}
		q.kick()
		return receipt, nil
	}
	defer q.mu.Unlock()

	backlog, err := q.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(backlog) > 0 {
		if err := q.persist(ctx, p, nil); err != nil {
			return nil, err
		}
		q.kick()
		return receipt, nil
	}

	p.AttemptCount = 1
	resp, err := q.attempt(ctx, p)
	if err == nil {
		q.logDebug("delivered %s directly", p.SubmissionID)
		_ = q.audit.LogSubmission(audit.EventDelivered, p.SubmissionID, p.FormID, "")
		receipt.Outcome = Delivered
		receipt.RemoteID = resp.ID
		receipt.Duplicate = resp.Duplicate
		return receipt, nil
	}

	if api.IsRejected(err) {
		kind, status := failureDetails(err)
		_ = q.audit.LogFailure(audit.EventRejected, p.SubmissionID, p.FormID, 1, kind, status, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	// Retryable, or the caller went away mid-attempt: keep the data.
	receipt.LastError = err
	if perr := q.persist(ctx, p, err); perr != nil {
		return nil, perr
	}
	return receipt, nil
}

// persist appends p to the durable store. lastErr is only used for the audit.
func (q *Queue) persist(ctx context.Context, p model.PendingSubmission, lastErr error) error {
	// The caller's context may already be done; the write must still happen.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := q.store.Append(ctx, p); err != nil {
		return fmt.Errorf("failed to persist submission %s: %w", p.SubmissionID, err)
	}

	if lastErr != nil {
		kind, status := failureDetails(lastErr)
		_ = q.audit.LogFailure(audit.EventDeferred, p.SubmissionID, p.FormID, p.AttemptCount, kind, status, lastErr.Error())
		q.logDebug("deferred %s: %v", p.SubmissionID, lastErr)
	} else {
		_ = q.audit.LogSubmission(audit.EventEnqueued, p.SubmissionID, p.FormID, "")
		q.logDebug("queued %s", p.SubmissionID)
	}
	return nil
}
