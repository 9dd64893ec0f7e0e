package formruntime

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aidanlsb/formsync/internal/api"
	"github.com/aidanlsb/formsync/internal/connectivity"
	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/queue"
	"github.com/aidanlsb/formsync/internal/resolver"
	"github.com/aidanlsb/formsync/internal/schema"
	"github.com/aidanlsb/formsync/internal/store"
	"github.com/aidanlsb/formsync/internal/testutil"
)

func taskForm() *schema.Form {
	form := &schema.Form{
		ID:   "f-tasks",
		Name: "Tasks",
		Fields: []schema.Field{
			{Label: "Title", Type: schema.FieldTypeText, Required: true, IsPrimaryKey: true, Order: 0},
			{Label: "Hours", Type: schema.FieldTypeNumber, Order: 1},
			{Label: "Owner", Type: schema.FieldTypeReference, ReferencedFormName: "Employees", Order: 2},
		},
	}
	form.Normalize()
	return form
}

type env struct {
	rt     *Runtime
	q      *queue.Queue
	store  store.Store
	sink   *testutil.FakeSink
	lookup *testutil.FakeLookup
	signal *connectivity.ManualSignal
}

func newEnv(t *testing.T, online bool) *env {
	t.Helper()

	st, err := store.OpenSQLiteInMemory("")
	if err != nil {
		t.Fatalf("OpenSQLiteInMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sig := connectivity.NewManualSignal(online)
	mon := connectivity.New(sig, connectivity.Options{})
	t.Cleanup(mon.Close)

	sink := testutil.NewFakeSink()
	n := 0
	q, err := queue.New(queue.Options{
		Store:        st,
		Sink:         sink,
		Connectivity: mon,
		NewID: func() string {
			n++
			return fmt.Sprintf("sub-%d", n)
		},
	})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}

	lookup := testutil.NewFakeLookup().
		AddRecord("Employees", "emp-042", "rec-42", map[string]interface{}{"Dept": "Ops"})

	rt := New("f-tasks", Options{
		Schema:     testutil.NewMemorySchema(taskForm()),
		References: resolver.New(lookup),
		Queue:      q,
	})
	return &env{rt: rt, q: q, store: st, sink: sink, lookup: lookup, signal: sig}
}

func (e *env) load(t *testing.T) {
	t.Helper()
	if err := e.rt.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadFetchesCandidates(t *testing.T) {
	e := newEnv(t, true)
	if got := e.rt.State(); got != Loading {
		t.Fatalf("initial state = %v, want loading", got)
	}
	e.load(t)

	if got := e.rt.State(); got != Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	cands := e.rt.Candidates("Owner")
	if len(cands) != 1 || cands[0].Value != "emp-042" {
		t.Errorf("candidates = %v", cands)
	}
	if len(e.rt.Conditions()) != 0 {
		t.Errorf("unexpected conditions: %v", e.rt.Conditions())
	}
}

func TestLoadDegradesMissingReferenceTarget(t *testing.T) {
	e := newEnv(t, true)
	e.lookup.FailForm("Employees", fmt.Errorf("%w: Employees", schema.ErrFormNotFound))
	e.load(t)

	if got := e.rt.State(); got != Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	if len(e.rt.Candidates("Owner")) != 0 {
		t.Errorf("expected no candidates")
	}
	conds := e.rt.Conditions()
	if len(conds) != 1 || conds[0].Code != model.ConditionReferenceTargetMissing || conds[0].Field != "Owner" {
		t.Errorf("conditions = %v", conds)
	}
}

func TestLoadUnknownForm(t *testing.T) {
	e := newEnv(t, true)
	e.rt = New("missing", Options{Schema: testutil.NewMemorySchema(), Queue: e.q})
	err := e.rt.Load(context.Background())
	if !errors.Is(err, schema.ErrFormNotFound) {
		t.Fatalf("Load err = %v, want ErrFormNotFound", err)
	}
	if e.rt.State() != Loading {
		t.Errorf("state = %v, want loading", e.rt.State())
	}
}

func TestSetValidatesOnlyThatField(t *testing.T) {
	e := newEnv(t, true)
	e.load(t)
	ctx := context.Background()

	if err := e.rt.Set(ctx, "Hours", "abc"); err == nil {
		t.Fatal("expected parse error")
	}
	errs := e.rt.Errors()
	if len(errs) != 1 || errs[0].Field != "Hours" {
		t.Fatalf("errors = %v, want only Hours", errs)
	}

	if err := e.rt.Set(ctx, "Hours", "2.5"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(e.rt.Errors()) != 0 {
		t.Errorf("errors not cleared: %v", e.rt.Errors())
	}
	if v := e.rt.Values()["Hours"]; v != 2.5 {
		t.Errorf("Hours = %v, want 2.5", v)
	}

	if err := e.rt.Set(ctx, "Nope", "x"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField", err)
	}
}

func TestSelectResolvesRecord(t *testing.T) {
	e := newEnv(t, true)
	e.load(t)
	ctx := context.Background()

	res, err := e.rt.Select(ctx, "Owner", "emp-042")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Status != resolver.Found {
		t.Fatalf("status = %v, want found", res.Status)
	}
	rec := e.rt.ReferenceDetails("Owner")
	if rec == nil || rec.Data["Dept"] != "Ops" {
		t.Errorf("details = %+v", rec)
	}

	if _, err := e.rt.Select(ctx, "Owner", "ghost"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if e.rt.ReferenceDetails("Owner") != nil {
		t.Error("details should clear for unknown value")
	}

	if _, err := e.rt.Select(ctx, "Title", "x"); !errors.Is(err, ErrNotReference) {
		t.Errorf("err = %v, want ErrNotReference", err)
	}
}

func TestSubmitRequiresValidFields(t *testing.T) {
	e := newEnv(t, true)
	e.load(t)

	_, err := e.rt.Submit(context.Background())
	var invalid *InvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidError", err)
	}
	if len(invalid.Errors) != 1 || invalid.Errors[0].Field != "Title" {
		t.Errorf("errors = %v", invalid.Errors)
	}
	if e.rt.State() != Ready {
		t.Errorf("state = %v, want ready", e.rt.State())
	}
	if len(e.sink.Attempts()) != 0 {
		t.Error("sink contacted for invalid submission")
	}
}

func TestSubmitOnline(t *testing.T) {
	e := newEnv(t, true)
	e.load(t)
	ctx := context.Background()

	_ = e.rt.Set(ctx, "Title", "Fix roof")
	receipt, err := e.rt.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.Outcome != queue.Delivered {
		t.Errorf("outcome = %v", receipt.Outcome)
	}
	if e.rt.State() != SubmittedOnline {
		t.Errorf("state = %v, want submitted_online", e.rt.State())
	}
	if e.rt.StatusLine() != "Submitted" {
		t.Errorf("status line = %q", e.rt.StatusLine())
	}
	delivered := e.sink.Delivered()
	if len(delivered) != 1 || delivered[0].Data["Title"] != "Fix roof" {
		t.Errorf("delivered = %v", delivered)
	}
	if _, ok := delivered[0].Data["Hours"]; ok {
		t.Error("empty optional field should be omitted")
	}
}

func TestSubmitOfflineThenAmend(t *testing.T) {
	e := newEnv(t, false)
	e.load(t)
	ctx := context.Background()

	_ = e.rt.Set(ctx, "Title", "Fix roof")
	_ = e.rt.Set(ctx, "Hours", "3")
	if _, err := e.rt.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if e.rt.State() != SubmittedOffline {
		t.Fatalf("state = %v, want submitted_offline", e.rt.State())
	}
	if e.rt.StatusLine() != "Saved offline, will sync" {
		t.Errorf("status line = %q", e.rt.StatusLine())
	}

	if err := e.rt.BeginEdit("Hours"); err != nil {
		t.Fatalf("BeginEdit: %v", err)
	}
	if err := e.rt.Set(ctx, "Title", "other"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("editing another field: err = %v", err)
	}
	if err := e.rt.Set(ctx, "Hours", "4"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.rt.CommitEdit(ctx); err != nil {
		t.Fatalf("CommitEdit: %v", err)
	}
	if e.rt.State() != Ready {
		t.Errorf("state = %v, want ready", e.rt.State())
	}

	p, err := e.store.Get(ctx, e.rt.Submission().ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Data["Hours"] != 4.0 {
		t.Errorf("queued Hours = %v, want 4", p.Data["Hours"])
	}
}

func TestEditAfterOnlineSubmitStaysLocal(t *testing.T) {
	e := newEnv(t, true)
	e.load(t)
	ctx := context.Background()

	_ = e.rt.Set(ctx, "Title", "Fix roof")
	if _, err := e.rt.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := e.rt.BeginEdit("Title"); err != nil {
		t.Fatalf("BeginEdit: %v", err)
	}
	_ = e.rt.Set(ctx, "Title", "Fix roof again")

	err := e.rt.CommitEdit(ctx)
	if !errors.Is(err, queue.ErrAlreadyDelivered) {
		t.Fatalf("err = %v, want ErrAlreadyDelivered", err)
	}
	if e.rt.State() != Ready {
		t.Errorf("state = %v, want ready", e.rt.State())
	}
	if got := e.rt.Submission().Data["Title"]; got != "Fix roof again" {
		t.Errorf("local Title = %v", got)
	}
	if len(e.sink.Attempts()) != 1 {
		t.Errorf("edit must not resend: %d attempts", len(e.sink.Attempts()))
	}
}

func TestCancelEditRestoresValue(t *testing.T) {
	e := newEnv(t, false)
	e.load(t)
	ctx := context.Background()

	_ = e.rt.Set(ctx, "Title", "Fix roof")
	if _, err := e.rt.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_ = e.rt.BeginEdit("Title")
	_ = e.rt.Set(ctx, "Title", "")
	if err := e.rt.CommitEdit(ctx); err == nil {
		t.Fatal("expected validation error committing empty required field")
	}
	if err := e.rt.CancelEdit(); err != nil {
		t.Fatalf("CancelEdit: %v", err)
	}
	if e.rt.State() != SubmittedOffline {
		t.Errorf("state = %v, want submitted_offline", e.rt.State())
	}
	if got := e.rt.Values()["Title"]; got != "Fix roof" {
		t.Errorf("Title = %v", got)
	}
}

func TestSubmitRejectedReturnsToReady(t *testing.T) {
	e := newEnv(t, true)
	e.sink.Script("sub-1", testutil.Fail(api.SinkRejected))
	e.load(t)
	ctx := context.Background()

	_ = e.rt.Set(ctx, "Title", "Fix roof")
	_, err := e.rt.Submit(ctx)
	if !errors.Is(err, queue.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if e.rt.State() != Ready {
		t.Errorf("state = %v, want ready", e.rt.State())
	}
	if e.rt.Submission() != nil {
		t.Error("rejected submission should not be recorded")
	}
}

func TestOperationsRejectedInWrongState(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	if _, err := e.rt.Submit(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Submit while loading: %v", err)
	}
	if err := e.rt.Set(ctx, "Title", "x"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Set while loading: %v", err)
	}
	e.load(t)
	if err := e.rt.BeginEdit("Title"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("BeginEdit while ready: %v", err)
	}
	if err := e.rt.CancelEdit(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("CancelEdit while ready: %v", err)
	}
	if err := e.rt.Load(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Load: %v", err)
	}
}

// failingAmend is a queue whose Amend always fails.
type failingAmend struct {
	Submitter
	err error
}

func (f failingAmend) Amend(context.Context, string, map[string]interface{}) error { return f.err }

func TestCommitEditKeepsSubmissionWhenAmendFails(t *testing.T) {
	e := newEnv(t, false)
	diskFull := errors.New("disk full")
	e.rt.queue = failingAmend{Submitter: e.q, err: diskFull}
	e.load(t)
	ctx := context.Background()

	_ = e.rt.Set(ctx, "Title", "Fix roof")
	if _, err := e.rt.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := e.rt.BeginEdit("Title"); err != nil {
		t.Fatalf("BeginEdit: %v", err)
	}
	_ = e.rt.Set(ctx, "Title", "Changed")

	if err := e.rt.CommitEdit(ctx); !errors.Is(err, diskFull) {
		t.Fatalf("CommitEdit err = %v, want disk full", err)
	}
	if e.rt.State() != Editing {
		t.Fatalf("state = %v, want editing", e.rt.State())
	}
	if got := e.rt.Submission().Data["Title"]; got != "Fix roof" {
		t.Errorf("submission Title = %v, want unchanged", got)
	}

	if err := e.rt.CancelEdit(); err != nil {
		t.Fatalf("CancelEdit: %v", err)
	}
	if got := e.rt.Values()["Title"]; got != "Fix roof" {
		t.Errorf("Title after cancel = %v, want Fix roof", got)
	}
	p, err := e.store.Get(ctx, e.rt.Submission().ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Data["Title"] != "Fix roof" {
		t.Errorf("queued Title = %v", p.Data["Title"])
	}
}

func TestSubmitOncePerSession(t *testing.T) {
	e := newEnv(t, false)
	e.load(t)
	ctx := context.Background()

	_ = e.rt.Set(ctx, "Title", "Fix roof")
	if _, err := e.rt.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for _, c := range []struct{ label, value string }{{"Hours", "2"}, {"Hours", "5"}} {
		if err := e.rt.BeginEdit(c.label); err != nil {
			t.Fatalf("BeginEdit: %v", err)
		}
		_ = e.rt.Set(ctx, c.label, c.value)
		if err := e.rt.CommitEdit(ctx); err != nil {
			t.Fatalf("CommitEdit: %v", err)
		}
	}

	if _, err := e.rt.Submit(ctx); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("second Submit err = %v, want ErrAlreadySubmitted", err)
	}
	if err := e.rt.Set(ctx, "Title", "x"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Set after submit err = %v, want ErrInvalidState", err)
	}

	pending, err := e.store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Data["Hours"] != 5.0 {
		t.Errorf("queued Hours = %v, want 5", pending[0].Data["Hours"])
	}
}

func TestDeliveredSubmitRefreshesOwnCandidates(t *testing.T) {
	e := newEnv(t, true)
	e.lookup.AddForm("Tasks")
	e.load(t)
	ctx := context.Background()

	e.rt.refs.ListCandidates(ctx, "Tasks")
	e.rt.refs.ListCandidates(ctx, "Tasks")
	if list, _ := e.lookup.Calls("Tasks", ""); list != 1 {
		t.Fatalf("list calls before submit = %d, want 1", list)
	}

	if err := e.rt.Set(ctx, "Title", "Paint"); err != nil {
		t.Fatal(err)
	}
	receipt, err := e.rt.Submit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Outcome != queue.Delivered {
		t.Fatalf("outcome = %v, want delivered", receipt.Outcome)
	}

	e.rt.refs.ListCandidates(ctx, "Tasks")
	if list, _ := e.lookup.Calls("Tasks", ""); list != 2 {
		t.Errorf("list calls after delivery = %d, want 2", list)
	}
}
