package formruntime

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/queue"
	"github.com/aidanlsb/formsync/internal/schema"
)

// Submit validates every field in order and hands the data to the queue.
// Validation failures keep the runtime Ready and return *InvalidError. A
// submission the server rejects returns the error and the runtime stays
// Ready. Otherwise the runtime ends in SubmittedOnline or SubmittedOffline.
//
// A session submits once. After a correction returns the runtime to Ready,
// Submit returns ErrAlreadySubmitted; later changes go through BeginEdit.
func (r *Runtime) Submit(ctx context.Context) (*queue.Receipt, error) {
	r.mu.Lock()
	if r.state != Ready {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: submit in %s", ErrInvalidState, state)
	}
	if r.submission != nil {
		id := r.submission.ID
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubmitted, id)
	}

	errs := schema.ValidateData(r.form, r.values)
	r.errors = make(map[string]schema.ValidationError, len(errs))
	if len(errs) > 0 {
		for _, e := range errs {
			r.errors[e.Field] = e
		}
		r.mu.Unlock()
		return nil, &InvalidError{Errors: errs}
	}

	sub := model.Submission{FormID: r.formID, Data: model.CloneData(r.values)}
	r.state = Submitting
	r.mu.Unlock()

	receipt, err := r.queue.Enqueue(ctx, sub)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = Ready
		return nil, err
	}

	sub.ID = receipt.SubmissionID
	r.submission = &sub
	r.receipt = receipt
	if receipt.Outcome == queue.Delivered {
		r.state = SubmittedOnline
		// The form's own primary-key values changed.
		if r.refs != nil {
			r.refs.Forget(r.form.Name)
		}
	} else {
		r.state = SubmittedOffline
	}
	for _, w := range receipt.Warnings {
		r.conditions[w.Field] = w
	}
	r.logDebug("submitted %s: %s", sub.ID, receipt.Outcome)
	return receipt, nil
}

// BeginEdit starts a post-submission correction of one field. It is allowed
// in the submitted states and in Ready after an earlier correction.
func (r *Runtime) BeginEdit(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.state == SubmittedOnline || r.state == SubmittedOffline:
	case r.state == Ready && r.submission != nil:
	default:
		return fmt.Errorf("%w: edit in %s", ErrInvalidState, r.state)
	}
	if _, ok := r.form.Field(label); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, label)
	}
	r.editFrom = r.state
	r.editing = label
	r.state = Editing
	return nil
}

// Editing returns the label being edited, empty outside Editing.
func (r *Runtime) Editing() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Editing {
		return ""
	}
	return r.editing
}

// CommitEdit writes the edited field back into the submission's data. While
// the submission is still queued the queued entry is amended in place. Once
// it has been delivered the edit is kept locally only and an error wrapping
// queue.ErrAlreadyDelivered is returned. The runtime returns to Ready in
// both cases; an invalid edit keeps it in Editing.
func (r *Runtime) CommitEdit(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Editing {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: commit in %s", ErrInvalidState, state)
	}
	label := r.editing
	if verr, ok := r.errors[label]; ok {
		r.mu.Unlock()
		return verr
	}

	data := model.CloneData(r.submission.Data)
	if v, ok := r.values[label]; ok {
		data[label] = v
	} else {
		delete(data, label)
	}
	delivered := r.receipt != nil && r.receipt.Outcome == queue.Delivered
	id := r.submission.ID
	r.mu.Unlock()

	var err error
	if delivered {
		err = fmt.Errorf("%w: server copy of %s is unchanged", queue.ErrAlreadyDelivered, id)
	} else {
		err = r.queue.Amend(ctx, id, model.CloneData(data))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil && !errors.Is(err, queue.ErrAlreadyDelivered) && !errors.Is(err, queue.ErrEntryRejected) {
		// Queue not updated: keep the submission as it was and stay in Editing.
		return err
	}
	r.submission.Data = data
	r.editing = ""
	r.state = Ready
	return err
}

// CancelEdit discards the edit and returns to the submitted state.
func (r *Runtime) CancelEdit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Editing {
		return fmt.Errorf("%w: cancel in %s", ErrInvalidState, r.state)
	}
	label := r.editing
	if v, ok := r.submission.Data[label]; ok {
		r.values[label] = v
	} else {
		delete(r.values, label)
	}
	delete(r.errors, label)
	r.editing = ""
	r.state = r.editFrom
	return nil
}

// State returns the current state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Form returns the loaded form, nil while Loading.
func (r *Runtime) Form() *schema.Form {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.form
}

// Values returns a copy of the current field values.
func (r *Runtime) Values() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.CloneData(r.values)
}

// Errors returns the current per-field validation errors in field order.
func (r *Runtime) Errors() []schema.ValidationError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.form == nil {
		return nil
	}
	var out []schema.ValidationError
	for _, f := range r.form.Fields {
		if e, ok := r.errors[f.Label]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Conditions returns the non-fatal conditions, sorted by field.
func (r *Runtime) Conditions() []model.Condition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Condition, 0, len(r.conditions))
	for _, c := range r.conditions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// Candidates returns the selectable values of a reference field.
func (r *Runtime) Candidates(label string) []model.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Candidate(nil), r.candidates[label]...)
}

// ReferenceDetails returns the resolved record of a reference field.
func (r *Runtime) ReferenceDetails(label string) *model.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.details[label]
}

// Submission returns the last submitted data, nil before Submit.
func (r *Runtime) Submission() *model.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submission == nil {
		return nil
	}
	sub := *r.submission
	sub.Data = model.CloneData(r.submission.Data)
	return &sub
}

// Receipt returns the queue receipt of the last Submit.
func (r *Runtime) Receipt() *queue.Receipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receipt
}

// StatusLine is the user-facing indicator for the submitted states.
func (r *Runtime) StatusLine() string {
	switch r.State() {
	case SubmittedOnline:
		return "Submitted"
	case SubmittedOffline:
		return "Saved offline, will sync"
	case Submitting:
		return "Submitting..."
	case Loading:
		return "Loading..."
	case Editing:
		return "Editing " + r.Editing()
	}
	return ""
}
