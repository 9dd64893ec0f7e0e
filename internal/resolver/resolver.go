// Package resolver handles cross-form reference resolution.
//
// References are late-bound: a reference field stores only the name of its
// target form, and this package discovers that form's primary-key values and
// records at runtime. A missing target form is a normal outcome, not an error.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/schema"
)

// Lookup is the submission lookup contract of the server.
type Lookup interface {
	ListPrimaryKeyValues(ctx context.Context, formName string) ([]model.Candidate, error)
	GetRecord(ctx context.Context, recordID string) (*model.Record, error)
}

// Status is the outcome of a record resolution.
type Status int

const (
	// Found means the record was fetched.
	Found Status = iota
	// NotFound means no record of the target form has that primary key.
	NotFound
	// Unavailable means the lookup failed. The caller may try again.
	Unavailable
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Candidates is the result of listing a target form's primary-key values.
// On failure Values is empty and Condition says why.
type Candidates struct {
	FormName  string
	Values    []model.Candidate
	Condition *model.Condition
}

// Result is the result of resolving one primary-key value.
type Result struct {
	Status    Status
	Record    *model.Record
	Condition *model.Condition
}

type recordKey struct {
	form  string
	value string
}

// Resolver resolves reference fields for one runtime session. Successful
// candidate lists and settled record lookups are cached until Forget or
// Reset; failed lookups are not cached.
type Resolver struct {
	lookup Lookup

	// Debug enables diagnostic output on stderr.
	Debug bool

	group singleflight.Group

	mu         sync.Mutex
	candidates map[string][]model.Candidate
	records    map[recordKey]Result
}

// New creates a resolver backed by lookup.
func New(lookup Lookup) *Resolver {
	return &Resolver{
		lookup:     lookup,
		candidates: make(map[string][]model.Candidate),
		records:    make(map[recordKey]Result),
	}
}

// ListCandidates returns the selectable values of the named form. It never
// fails: lookup errors yield an empty list plus a condition, so the field
// stays enterable-as-empty.
func (r *Resolver) ListCandidates(ctx context.Context, formName string) Candidates {
	values, err := r.candidatesFor(ctx, formName)
	if err != nil {
		return Candidates{
			FormName:  formName,
			Values:    []model.Candidate{},
			Condition: lookupCondition(formName, err),
		}
	}
	out := make([]model.Candidate, len(values))
	copy(out, values)
	return Candidates{FormName: formName, Values: out}
}

// ResolveRecord fetches the record of formName whose primary-key value is
// value. It performs exactly one record fetch per value per session and
// never follows reference fields of the fetched record.
func (r *Resolver) ResolveRecord(ctx context.Context, formName, value string) Result {
	key := recordKey{form: formName, value: value}

	r.mu.Lock()
	cached, ok := r.records[key]
	r.mu.Unlock()
	if ok {
		return cached
	}

	v, _, _ := r.group.Do("record\x00"+formName+"\x00"+value, func() (interface{}, error) {
		return r.resolve(ctx, key), nil
	})
	res := v.(Result)

	if res.Status != Unavailable {
		r.mu.Lock()
		r.records[key] = res
		r.mu.Unlock()
	}
	return res
}

func (r *Resolver) resolve(ctx context.Context, key recordKey) Result {
	values, err := r.candidatesFor(ctx, key.form)
	if err != nil {
		cond := lookupCondition(key.form, err)
		if cond.Code == model.ConditionReferenceTargetMissing {
			return Result{Status: NotFound, Condition: cond}
		}
		return Result{Status: Unavailable, Condition: cond}
	}

	recordID := ""
	for _, c := range values {
		if c.Value == key.value {
			recordID = c.RecordID
			break
		}
	}
	if recordID == "" {
		return Result{Status: NotFound}
	}

	r.logDebug("fetching record %s of %q", recordID, key.form)
	rec, err := r.lookup.GetRecord(ctx, recordID)
	switch {
	case err == nil:
		if rec.FormName == "" {
			rec.FormName = key.form
		}
		return Result{Status: Found, Record: rec}
	case errors.Is(err, model.ErrRecordNotFound):
		return Result{Status: NotFound}
	default:
		return Result{Status: Unavailable, Condition: lookupCondition(key.form, err)}
	}
}

func (r *Resolver) candidatesFor(ctx context.Context, formName string) ([]model.Candidate, error) {
	r.mu.Lock()
	cached, ok := r.candidates[formName]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	v, err, _ := r.group.Do("candidates\x00"+formName, func() (interface{}, error) {
		r.logDebug("listing candidates of %q", formName)
		values, err := r.lookup.ListPrimaryKeyValues(ctx, formName)
		if err != nil {
			return nil, err
		}
		if values == nil {
			values = []model.Candidate{}
		}
		r.mu.Lock()
		r.candidates[formName] = values
		r.mu.Unlock()
		return values, nil
	})
	if err != nil {
		r.logDebug("candidates of %q unavailable: %v", formName, err)
		return nil, err
	}
	return v.([]model.Candidate), nil
}

// DisplayValue renders the stored value of a field for display. For a
// reference field the target record is resolved once and rendered as its
// field values; reference values inside that record are shown as stored.
func (r *Resolver) DisplayValue(ctx context.Context, field schema.Field, value interface{}) string {
	raw := formatValue(value)
	target, ok := field.Reference()
	if !ok || raw == "" {
		return raw
	}

	res := r.ResolveRecord(ctx, target, raw)
	switch res.Status {
	case Found:
		return raw + " (" + summarize(res.Record.Data) + ")"
	case NotFound:
		return raw + " (not found)"
	default:
		return raw + " (unavailable)"
	}
}

// Forget drops cached candidates and records of one form.
func (r *Resolver) Forget(formName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.candidates, formName)
	for key := range r.records {
		if key.form == formName {
			delete(r.records, key)
		}
	}
}

func lookupCondition(formName string, err error) *model.Condition {
	if errors.Is(err, schema.ErrFormNotFound) {
		return &model.Condition{
			Code:    model.ConditionReferenceTargetMissing,
			Message: fmt.Sprintf("referenced form %q does not exist", formName),
		}
	}
	return &model.Condition{
		Code:    model.ConditionReferenceUnavailable,
		Message: fmt.Sprintf("could not load %q: %v", formName, err),
	}
}

func summarize(data map[string]interface{}) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+formatValue(data[k]))
	}
	return strings.Join(parts, ", ")
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func (r *Resolver) logDebug(format string, args ...interface{}) {
	if r.Debug {
		fmt.Fprintf(os.Stderr, "[formsync-resolver] "+format+"\n", args...)
	}
}
