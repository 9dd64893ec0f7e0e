// Package formruntime drives one form session: loading the schema and
// reference candidates, per-field validation, submission through the queue
// and post-submission correction of single fields.
//
// States: Loading -> Ready -> Submitting -> SubmittedOnline | SubmittedOffline
// -> Editing(label) -> Ready.
package formruntime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/queue"
	"github.com/aidanlsb/formsync/internal/resolver"
	"github.com/aidanlsb/formsync/internal/schema"
)

// State is the runtime state.
type State int

const (
	Loading State = iota
	Ready
	Submitting
	SubmittedOnline
	SubmittedOffline
	Editing
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Submitting:
		return "submitting"
	case SubmittedOnline:
		return "submitted_online"
	case SubmittedOffline:
		return "submitted_offline"
	case Editing:
		return "editing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrAlreadySubmitted is returned by Submit once the session has a
	// submission.
	ErrAlreadySubmitted = errors.New("form already submitted")

	// ErrUnknownField is returned for labels the form does not define.
	ErrUnknownField = errors.New("unknown field")

	// ErrNotReference is returned by Select on a non-reference field.
	ErrNotReference = errors.New("field is not a reference")
)

// InvalidError is returned by Submit when fields fail validation.
type InvalidError struct {
	Errors []schema.ValidationError
}

func (e *InvalidError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d fields are invalid (first: %s)", len(e.Errors), e.Errors[0].Error())
}

// Submitter is what the runtime needs from the submission queue.
type Submitter interface {
	Enqueue(ctx context.Context, sub model.Submission) (*queue.Receipt, error)
	Amend(ctx context.Context, submissionID string, data map[string]interface{}) error
}

// References is what the runtime needs from the reference resolver.
type References interface {
	ListCandidates(ctx context.Context, formName string) resolver.Candidates
	ResolveRecord(ctx context.Context, formName, value string) resolver.Result
	Forget(formName string)
}

// Options configures a Runtime.
type Options struct {
	Schema     schema.Store
	References References
	Queue      Submitter
	Debug      bool
}

// Runtime is one form session.
type Runtime struct {
	formID string
	schema schema.Store
	refs   References
	queue  Submitter
	debug  bool

	mu         sync.Mutex
	state      State
	form       *schema.Form
	values     map[string]interface{}
	errors     map[string]schema.ValidationError
	conditions map[string]model.Condition
	candidates map[string][]model.Candidate
	details    map[string]*model.Record

	submission *model.Submission
	receipt    *queue.Receipt
	editing    string
	editFrom   State
}

// New creates a runtime for formID in the Loading state. Call Load next.
func New(formID string, opts Options) *Runtime {
	return &Runtime{
		formID:     formID,
		schema:     opts.Schema,
		refs:       opts.References,
		queue:      opts.Queue,
		debug:      opts.Debug,
		state:      Loading,
		values:     make(map[string]interface{}),
		errors:     make(map[string]schema.ValidationError),
		conditions: make(map[string]model.Condition),
		candidates: make(map[string][]model.Candidate),
		details:    make(map[string]*model.Record),
	}
}

// Load fetches the ordered fields and then every reference field's
// candidates concurrently. Candidate failures degrade the field and never
// block the transition to Ready.
func (r *Runtime) Load(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Loading {
		r.mu.Unlock()
		return fmt.Errorf("%w: load in %s", ErrInvalidState, r.state)
	}
	r.mu.Unlock()

	form, err := r.schema.GetForm(ctx, r.formID)
	if err != nil {
		return fmt.Errorf("failed to load form %s: %w", r.formID, err)
	}

	refFields := form.ReferenceFields()
	results := make([]resolver.Candidates, len(refFields))
	if r.refs != nil {
		g, gctx := errgroup.WithContext(ctx)
		for i, field := range refFields {
			target := field.ReferencedFormName
			g.Go(func() error {
				results[i] = r.refs.ListCandidates(gctx, target)
				return nil
			})
		}
		_ = g.Wait()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.form = form
	for i, field := range refFields {
		res := results[i]
		r.candidates[field.Label] = res.Values
		if res.Condition != nil {
			cond := *res.Condition
			cond.Field = field.Label
			r.conditions[field.Label] = cond
		}
	}
	if r.refs == nil {
		for _, field := range refFields {
			r.candidates[field.Label] = []model.Candidate{}
		}
	}
	r.state = Ready
	r.logDebug("loaded form %s (%d fields, %d references)", form.Name, len(form.Fields), len(refFields))
	return nil
}

// Set parses and stores raw input for one field and re-validates that field
// only. The returned error is the field's validation error, if any; it is
// also available from Errors.
func (r *Runtime) Set(ctx context.Context, label, raw string) error {
	field, err := r.editable(label)
	if err != nil {
		return err
	}

	value, perr := field.Parse(raw)
	if perr != nil {
		verr := schema.ValidationError{Field: label, Message: perr.Error()}
		r.mu.Lock()
		r.values[label] = raw
		r.errors[label] = verr
		r.mu.Unlock()
		return verr
	}

	if target, ok := field.Reference(); ok {
		_, verr := r.selectValue(ctx, field, target, value)
		return verr
	}
	return r.store(field, value)
}

// Select chooses a candidate value of a reference field and resolves the
// referenced record for display.
func (r *Runtime) Select(ctx context.Context, label, value string) (resolver.Result, error) {
	field, err := r.editable(label)
	if err != nil {
		return resolver.Result{}, err
	}
	target, ok := field.Reference()
	if !ok {
		return resolver.Result{}, fmt.Errorf("%w: %s", ErrNotReference, label)
	}

	var v interface{}
	if value != "" {
		v = value
	}
	res, _ := r.selectValue(ctx, field, target, v)
	return res, nil
}

// selectValue stores a reference value and resolves its record. The
// returned error is the field's validation error.
func (r *Runtime) selectValue(ctx context.Context, field schema.Field, target string, value interface{}) (resolver.Result, error) {
	verr := r.store(field, value)

	r.mu.Lock()
	delete(r.details, field.Label)
	r.mu.Unlock()

	s, _ := value.(string)
	if s == "" || r.refs == nil {
		return resolver.Result{Status: resolver.NotFound}, verr
	}

	res := r.refs.ResolveRecord(ctx, target, s)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch res.Status {
	case resolver.Found:
		r.details[field.Label] = res.Record
		if cond, ok := r.conditions[field.Label]; ok && cond.Code == model.ConditionReferenceUnavailable {
			delete(r.conditions, field.Label)
		}
	case resolver.Unavailable:
		if res.Condition != nil {
			cond := *res.Condition
			cond.Field = field.Label
			r.conditions[field.Label] = cond
		}
	}
	return res, verr
}

// store saves a typed value and its validation result.
func (r *Runtime) store(field schema.Field, value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if value == nil {
		delete(r.values, field.Label)
	} else {
		r.values[field.Label] = value
	}
	if err := field.Validate(value); err != nil {
		verr := schema.ValidationError{Field: field.Label, Message: err.Error()}
		r.errors[field.Label] = verr
		return verr
	}
	delete(r.errors, field.Label)
	return nil
}

// editable returns the field if label may be changed in the current state.
func (r *Runtime) editable(label string) (schema.Field, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Ready:
		if r.submission != nil {
			return schema.Field{}, fmt.Errorf("%w: set after submit, use BeginEdit", ErrInvalidState)
		}
	case Editing:
		if label != r.editing {
			return schema.Field{}, fmt.Errorf("%w: editing %q, not %q", ErrInvalidState, r.editing, label)
		}
	default:
		return schema.Field{}, fmt.Errorf("%w: set in %s", ErrInvalidState, r.state)
	}

	field, ok := r.form.Field(label)
	if !ok {
		return schema.Field{}, fmt.Errorf("%w: %s", ErrUnknownField, label)
	}
	return field, nil
}

func (r *Runtime) logDebug(format string, args ...interface{}) {
	if r.debug {
		fmt.Fprintf(os.Stderr, "[formsync-runtime] "+format+"\n", args...)
	}
}
