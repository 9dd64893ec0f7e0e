package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidanlsb/formsync/internal/api"
	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/schema"
)

func employeesForm() *schema.Form {
	return &schema.Form{
		ID:   "f-emp",
		Name: "Employees",
		Fields: []schema.Field{
			{Label: "Badge", Type: schema.FieldTypeText, Required: true, IsPrimaryKey: true, Order: 0},
			{Label: "Dept", Type: schema.FieldTypeText, Order: 1},
		},
	}
}

func tasksForm() *schema.Form {
	return &schema.Form{
		ID:   "f-tasks",
		Name: "Tasks",
		Fields: []schema.Field{
			{Label: "Owner", Type: schema.FieldTypeReference, ReferencedFormName: "Employees", Order: 1},
			{Label: "Title", Type: schema.FieldTypeText, Required: true, IsPrimaryKey: true, Order: 0},
		},
	}
}

type fixture struct {
	srv    *Server
	http   *httptest.Server
	client *api.Client
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	srv, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	ctx := context.Background()
	require.NoError(t, srv.PutForm(ctx, employeesForm()))
	require.NoError(t, srv.PutForm(ctx, tasksForm()))

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	client, err := api.NewClient(api.Options{BaseURL: hs.URL, Token: opts.Token, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return &fixture{srv: srv, http: hs, client: client}
}

func pending(id, formID string, data map[string]interface{}) model.PendingSubmission {
	return model.PendingSubmission{SubmissionID: id, FormID: formID, Data: data}
}

func TestFormDirectory(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	form, err := f.client.GetForm(ctx, "f-tasks")
	require.NoError(t, err)
	assert.Equal(t, "Tasks", form.Name)
	require.Len(t, form.Fields, 2)
	assert.Equal(t, "Title", form.Fields[0].Label)
	target, ok := form.Fields[1].Reference()
	assert.True(t, ok)
	assert.Equal(t, "Employees", target)

	fields, err := f.client.GetFields(ctx, "f-emp")
	require.NoError(t, err)
	assert.Equal(t, []string{"Badge", "Dept"}, []string{fields[0].Label, fields[1].Label})

	_, err = f.client.GetForm(ctx, "missing")
	assert.ErrorIs(t, err, schema.ErrFormNotFound)
}

func TestSubmitDeduplicatesOnSubmissionID(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	p := pending("sub-1", "f-emp", map[string]interface{}{"Badge": "emp-042"})
	first, err := f.client.Deliver(ctx, p)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.NotEmpty(t, first.ID)

	second, err := f.client.Deliver(ctx, p)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ID, second.ID)

	n, err := f.srv.Submissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmitRejectsInvalidData(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.client.Deliver(ctx, pending("sub-1", "f-emp", map[string]interface{}{"Dept": "Ops"}))
	require.Error(t, err)
	assert.True(t, api.IsRejected(err))

	_, err = f.client.Deliver(ctx, pending("sub-2", "nope", map[string]interface{}{}))
	require.Error(t, err)
	assert.True(t, api.IsRejected(err))
}

func TestSubmitMismatchedIdempotencyKey(t *testing.T) {
	f := newFixture(t, Options{})

	body := strings.NewReader(`{"form_id":"f-emp","data":{"Badge":"x"},"submission_id":"a"}`)
	req, err := http.NewRequest(http.MethodPost, f.http.URL+"/submissions", body)
	require.NoError(t, err)
	req.Header.Set(api.IdempotencyHeader, "b")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLookupEndpoints(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	values, err := f.client.ListPrimaryKeyValues(ctx, "Employees")
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.NotNil(t, values)

	resp, err := f.client.Deliver(ctx, pending("sub-1", "f-emp", map[string]interface{}{"Badge": "emp-042", "Dept": "Ops"}))
	require.NoError(t, err)
	_, err = f.client.Deliver(ctx, pending("sub-2", "f-emp", map[string]interface{}{"Badge": "emp-007"}))
	require.NoError(t, err)

	values, err = f.client.ListPrimaryKeyValues(ctx, "employees")
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "emp-042", values[0].Value)
	assert.Equal(t, resp.ID, values[0].RecordID)

	rec, err := f.client.GetRecord(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "Employees", rec.FormName)
	assert.Equal(t, "Ops", rec.Data["Dept"])

	_, err = f.client.GetRecord(ctx, "nope")
	assert.ErrorIs(t, err, api.ErrRecordNotFound)

	_, err = f.client.ListPrimaryKeyValues(ctx, "Contractors")
	assert.ErrorIs(t, err, schema.ErrFormNotFound)
}

func TestListSubmissions(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	recs, err := f.client.ListSubmissions(ctx, "f-tasks")
	require.NoError(t, err)
	assert.Empty(t, recs)

	for _, title := range []string{"Paint", "Fix roof"} {
		_, err := f.client.Deliver(ctx, pending("sub-"+title, "f-tasks", map[string]interface{}{"Title": title}))
		require.NoError(t, err)
	}
	_, err = f.client.Deliver(ctx, pending("sub-emp", "f-emp", map[string]interface{}{"Badge": "emp-1"}))
	require.NoError(t, err)

	recs, err = f.client.ListSubmissions(ctx, "f-tasks")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Paint", recs[0].Data["Title"])
	assert.Equal(t, "Fix roof", recs[1].Data["Title"])
	assert.Equal(t, "Tasks", recs[0].FormName)

	_, err = f.client.ListSubmissions(ctx, "f-missing")
	assert.ErrorIs(t, err, schema.ErrFormNotFound)
}

func TestBearerToken(t *testing.T) {
	f := newFixture(t, Options{Token: "secret"})
	ctx := context.Background()

	_, err := f.client.GetForm(ctx, "f-emp")
	require.NoError(t, err)

	anon, err := api.NewClient(api.Options{BaseURL: f.http.URL})
	require.NoError(t, err)
	_, err = anon.GetForm(ctx, "f-emp")
	require.Error(t, err)
	assert.True(t, api.IsRejected(err))
	require.NoError(t, anon.Healthy(ctx))
}

func TestOfflineAnswersUnavailable(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.srv.SetOnline(false)
	_, err := f.client.Deliver(ctx, pending("sub-1", "f-emp", map[string]interface{}{"Badge": "x"}))
	require.Error(t, err)
	kind, ok := api.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, api.SinkUnavailable, kind)
	assert.True(t, api.IsRetryable(err))
	assert.Error(t, f.client.Healthy(ctx))

	f.srv.SetOnline(true)
	_, err = f.client.Deliver(ctx, pending("sub-1", "f-emp", map[string]interface{}{"Badge": "x"}))
	require.NoError(t, err)
}

func TestSeedFromFormsDirectory(t *testing.T) {
	dir := t.TempDir()
	store := schema.NewFileStore(dir)
	require.NoError(t, store.Save(&schema.Form{
		ID:   "f-sites",
		Name: "Sites",
		Fields: []schema.Field{
			{Label: "Code", Type: schema.FieldTypeText, IsPrimaryKey: true},
		},
	}))

	srv, err := New(Options{DBPath: filepath.Join(dir, "server.db")})
	require.NoError(t, err)
	defer srv.Close()

	n, err := srv.Seed(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = srv.Seed(context.Background(), schema.NewFileStore(filepath.Join(dir, "missing")))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forms/f-sites", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var form schema.Form
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &form))
	assert.Equal(t, "Sites", form.Name)
}

func TestPutFormReplacesByName(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	renamed := employeesForm()
	renamed.ID = "f-emp-2"
	require.NoError(t, f.srv.PutForm(ctx, renamed))

	_, err := f.client.GetForm(ctx, "f-emp")
	assert.ErrorIs(t, err, schema.ErrFormNotFound)
	_, err = f.client.GetForm(ctx, "f-emp-2")
	assert.NoError(t, err)
}

func TestPutFormRejectsSecondPrimaryKey(t *testing.T) {
	f := newFixture(t, Options{})

	form := employeesForm()
	form.ID = "f-dup"
	form.Name = "Badges"
	form.Fields[1].IsPrimaryKey = true

	err := f.srv.PutForm(context.Background(), form)
	assert.ErrorIs(t, err, schema.ErrMultiplePrimaryKeys)
}
