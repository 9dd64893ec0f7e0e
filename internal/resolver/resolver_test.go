package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/schema"
)

type fakeLookup struct {
	mu        sync.Mutex
	forms     map[string][]model.Candidate
	records   map[string]*model.Record
	listErr   error
	listCalls map[string]int
	getCalls  map[string]int
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		forms:     make(map[string][]model.Candidate),
		records:   make(map[string]*model.Record),
		listCalls: make(map[string]int),
		getCalls:  make(map[string]int),
	}
}

func (f *fakeLookup) add(form, value, recordID string, data map[string]interface{}) {
	f.forms[form] = append(f.forms[form], model.Candidate{Value: value, RecordID: recordID})
	f.records[recordID] = &model.Record{ID: recordID, FormName: form, Data: data}
}

func (f *fakeLookup) ListPrimaryKeyValues(_ context.Context, formName string) ([]model.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls[formName]++
	if f.listErr != nil {
		return nil, f.listErr
	}
	values, ok := f.forms[formName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrFormNotFound, formName)
	}
	return values, nil
}

func (f *fakeLookup) GetRecord(_ context.Context, recordID string) (*model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[recordID]++
	rec, ok := f.records[recordID]
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	clone := *rec
	clone.Data = model.CloneData(rec.Data)
	return &clone, nil
}

func TestListCandidates(t *testing.T) {
	ctx := context.Background()

	t.Run("form with zero submissions is empty, not an error", func(t *testing.T) {
		lookup := newFakeLookup()
		lookup.forms["Employees"] = []model.Candidate{}
		r := New(lookup)

		got := r.ListCandidates(ctx, "Employees")
		if got.Condition != nil {
			t.Fatalf("unexpected condition: %v", got.Condition)
		}
		if got.Values == nil || len(got.Values) != 0 {
			t.Errorf("values = %#v, want empty slice", got.Values)
		}
	})

	t.Run("missing target form", func(t *testing.T) {
		r := New(newFakeLookup())
		got := r.ListCandidates(ctx, "Ghost")
		if got.Condition == nil || got.Condition.Code != model.ConditionReferenceTargetMissing {
			t.Fatalf("condition = %v, want target missing", got.Condition)
		}
		if len(got.Values) != 0 {
			t.Errorf("values = %v, want empty", got.Values)
		}
	})

	t.Run("lookup failure fails soft and is not cached", func(t *testing.T) {
		lookup := newFakeLookup()
		lookup.forms["Employees"] = []model.Candidate{{Value: "emp-001", RecordID: "r1"}}
		lookup.listErr = errors.New("connection refused")
		r := New(lookup)

		got := r.ListCandidates(ctx, "Employees")
		if got.Condition == nil || got.Condition.Code != model.ConditionReferenceUnavailable {
			t.Fatalf("condition = %v, want unavailable", got.Condition)
		}

		lookup.listErr = nil
		got = r.ListCandidates(ctx, "Employees")
		if got.Condition != nil || len(got.Values) != 1 {
			t.Fatalf("after recovery got %+v", got)
		}
		if lookup.listCalls["Employees"] != 2 {
			t.Errorf("list calls = %d, want 2", lookup.listCalls["Employees"])
		}
	})

	t.Run("successful lists are cached", func(t *testing.T) {
		lookup := newFakeLookup()
		lookup.forms["Employees"] = []model.Candidate{{Value: "emp-001", RecordID: "r1"}}
		r := New(lookup)

		r.ListCandidates(ctx, "Employees")
		r.ListCandidates(ctx, "Employees")
		if lookup.listCalls["Employees"] != 1 {
			t.Errorf("list calls = %d, want 1", lookup.listCalls["Employees"])
		}

		r.Forget("Employees")
		r.ListCandidates(ctx, "Employees")
		if lookup.listCalls["Employees"] != 2 {
			t.Errorf("list calls after Forget = %d, want 2", lookup.listCalls["Employees"])
		}
	})
}

func TestResolveRecordCachesForSession(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	lookup.add("Employees", "emp-042", "r42", map[string]interface{}{"Employee ID": "emp-042", "Name": "Grace"})
	r := New(lookup)

	for i := 0; i < 3; i++ {
		res := r.ResolveRecord(ctx, "Employees", "emp-042")
		if res.Status != Found {
			t.Fatalf("status = %v, want found", res.Status)
		}
		if res.Record.Data["Name"] != "Grace" {
			t.Errorf("record = %+v", res.Record)
		}
	}
	if lookup.getCalls["r42"] != 1 {
		t.Errorf("GetRecord calls = %d, want 1", lookup.getCalls["r42"])
	}

	r.Forget("Employees")
	r.ResolveRecord(ctx, "Employees", "emp-042")
	if lookup.getCalls["r42"] != 2 {
		t.Errorf("GetRecord calls after Forget = %d, want 2", lookup.getCalls["r42"])
	}
}

func TestResolveRecordNotFound(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	lookup.add("Employees", "emp-001", "r1", nil)
	r := New(lookup)

	res := r.ResolveRecord(ctx, "Employees", "emp-999")
	if res.Status != NotFound {
		t.Fatalf("status = %v, want not_found", res.Status)
	}
	if len(lookup.getCalls) != 0 {
		t.Errorf("unexpected record fetches: %v", lookup.getCalls)
	}

	res = r.ResolveRecord(ctx, "Renamed", "emp-001")
	if res.Status != NotFound || res.Condition == nil || res.Condition.Code != model.ConditionReferenceTargetMissing {
		t.Errorf("renamed target = %+v", res)
	}
}

func TestResolveRecordUnavailableIsRetried(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	lookup.add("Employees", "emp-001", "r1", nil)
	lookup.listErr = errors.New("timeout")
	r := New(lookup)

	if res := r.ResolveRecord(ctx, "Employees", "emp-001"); res.Status != Unavailable {
		t.Fatalf("status = %v, want unavailable", res.Status)
	}
	lookup.listErr = nil
	if res := r.ResolveRecord(ctx, "Employees", "emp-001"); res.Status != Found {
		t.Fatalf("status after recovery = %v, want found", res.Status)
	}
}

func TestSelfReferenceIsOneHop(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	lookup.add("Employees", "emp-001", "r1", map[string]interface{}{"Employee ID": "emp-001", "Manager": "emp-002"})
	lookup.add("Employees", "emp-002", "r2", map[string]interface{}{"Employee ID": "emp-002", "Manager": "emp-001"})
	r := New(lookup)

	manager := schema.Field{Label: "Manager", Type: schema.FieldTypeReference, ReferencedFormName: "Employees"}
	got := r.DisplayValue(ctx, manager, "emp-001")

	want := "emp-001 (Employee ID: emp-001, Manager: emp-002)"
	if got != want {
		t.Errorf("DisplayValue = %q, want %q", got, want)
	}
	if lookup.getCalls["r1"] != 1 || lookup.getCalls["r2"] != 0 {
		t.Errorf("record fetches = %v, want only r1 once", lookup.getCalls)
	}
}

func TestDisplayValueScalars(t *testing.T) {
	r := New(newFakeLookup())
	ctx := context.Background()

	if got := r.DisplayValue(ctx, schema.Field{Type: schema.FieldTypeNumber}, 42.0); got != "42" {
		t.Errorf("number = %q", got)
	}
	if got := r.DisplayValue(ctx, schema.Field{Type: schema.FieldTypeBoolean}, true); got != "true" {
		t.Errorf("boolean = %q", got)
	}
	ref := schema.Field{Type: schema.FieldTypeReference, ReferencedFormName: "Ghost"}
	if got := r.DisplayValue(ctx, ref, "x"); got != "x (not found)" {
		t.Errorf("missing target = %q", got)
	}
}
