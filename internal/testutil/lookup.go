package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/schema"
)

// FakeLookup is an in-memory submission lookup with call counters.
type FakeLookup struct {
	mu      sync.Mutex
	forms   map[string][]model.Candidate
	records map[string]*model.Record
	errs    map[string]error

	ListCalls map[string]int
	GetCalls  map[string]int
}

// NewFakeLookup returns an empty lookup. Forms must be added before they
// can be listed; unknown forms answer with schema.ErrFormNotFound.
func NewFakeLookup() *FakeLookup {
	return &FakeLookup{
		forms:     make(map[string][]model.Candidate),
		records:   make(map[string]*model.Record),
		errs:      make(map[string]error),
		ListCalls: make(map[string]int),
		GetCalls:  make(map[string]int),
	}
}

// AddForm registers a form with no submissions.
func (l *FakeLookup) AddForm(formName string) *FakeLookup {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.forms[formName]; !ok {
		l.forms[formName] = []model.Candidate{}
	}
	return l
}

// AddRecord registers a record of formName keyed by its primary-key value.
func (l *FakeLookup) AddRecord(formName, value, recordID string, data map[string]interface{}) *FakeLookup {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forms[formName] = append(l.forms[formName], model.Candidate{Value: value, RecordID: recordID})
	l.records[recordID] = &model.Record{ID: recordID, FormName: formName, Data: data}
	return l
}

// FailForm makes listing formName fail with err. A nil err clears it.
func (l *FakeLookup) FailForm(formName string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.errs, formName)
		return
	}
	l.errs[formName] = err
}

func (l *FakeLookup) ListPrimaryKeyValues(_ context.Context, formName string) ([]model.Candidate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ListCalls[formName]++
	if err := l.errs[formName]; err != nil {
		return nil, err
	}
	values, ok := l.forms[formName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrFormNotFound, formName)
	}
	return append([]model.Candidate{}, values...), nil
}

func (l *FakeLookup) GetRecord(_ context.Context, recordID string) (*model.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.GetCalls[recordID]++
	rec, ok := l.records[recordID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrRecordNotFound, recordID)
	}
	clone := *rec
	clone.Data = model.CloneData(rec.Data)
	return &clone, nil
}

// Calls returns the list and get counters under the lock.
func (l *FakeLookup) Calls(formName, recordID string) (list, get int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ListCalls[formName], l.GetCalls[recordID]
}

// MemorySchema is an in-memory schema.Store.
type MemorySchema struct {
	mu    sync.Mutex
	forms map[string]*schema.Form
	Calls int
}

// NewMemorySchema returns a schema store holding forms.
func NewMemorySchema(forms ...*schema.Form) *MemorySchema {
	s := &MemorySchema{forms: make(map[string]*schema.Form)}
	for _, f := range forms {
		s.Put(f)
	}
	return s
}

// Put adds or replaces a form.
func (s *MemorySchema) Put(form *schema.Form) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms[form.ID] = form
}

func (s *MemorySchema) GetForm(_ context.Context, formID string) (*schema.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	form, ok := s.forms[formID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrFormNotFound, formID)
	}
	clone := *form
	clone.Fields = append([]schema.Field(nil), form.Fields...)
	return &clone, nil
}

func (s *MemorySchema) GetFields(ctx context.Context, formID string) ([]schema.Field, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	return form.Fields, nil
}
