//go:build integration

package cli_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aidanlsb/formsync/internal/devserver"
	"github.com/aidanlsb/formsync/internal/schema"
	"github.com/aidanlsb/formsync/internal/testutil"
)

type liveServer struct {
	srv *devserver.Server
	url string
}

// startServer runs a form server seeded from the forms directory of ws.
func startServer(t *testing.T, forms *schema.FileStore) *liveServer {
	t.Helper()
	srv, err := devserver.New(devserver.Options{})
	if err != nil {
		t.Fatalf("devserver.New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	if _, err := srv.Seed(context.Background(), forms); err != nil {
		t.Fatalf("seed: %v", err)
	}

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &liveServer{srv: srv, url: hs.URL}
}

func (s *liveServer) submissions(t *testing.T) int {
	t.Helper()
	n, err := s.srv.Submissions(context.Background())
	if err != nil {
		t.Fatalf("count submissions: %v", err)
	}
	return n
}

func newServedWorkspace(t *testing.T) (*testutil.Workspace, *liveServer) {
	t.Helper()
	seed := testutil.NewWorkspace(t).
		WithForm("employees.yaml", testutil.EmployeesForm()).
		WithForm("tasks.yaml", testutil.TasksForm()).
		Build()
	live := startServer(t, schema.NewFileStore(seed.FormsDir))

	ws := testutil.NewWorkspace(t).
		WithServer(live.url).
		WithForm("employees.yaml", testutil.EmployeesForm()).
		WithForm("tasks.yaml", testutil.TasksForm()).
		Build()
	return ws, live
}

// TestIntegration_FillOnline delivers a submission straight to the server.
func TestIntegration_FillOnline(t *testing.T) {
	ws, live := newServedWorkspace(t)

	result := ws.RunCLI("fill", "f-emp", "--set", "Badge=emp-042", "--set", "Dept=Ops")
	result.MustSucceed(t)
	if got := result.DataString("outcome"); got != "delivered" {
		t.Fatalf("outcome = %q, want delivered\nRaw: %s", got, result.RawJSON)
	}
	if result.DataString("submission_id") == "" {
		t.Fatalf("expected a submission id\nRaw: %s", result.RawJSON)
	}
	result.AssertNoWarnings(t)

	ws.AssertPending(0)
	if n := live.submissions(t); n != 1 {
		t.Fatalf("server has %d submissions, want 1", n)
	}

	refs := ws.RunCLI("refs", "candidates", "Employees")
	refs.MustSucceed(t)
	refs.AssertResultCount(t, "candidates", 1)
}

// TestIntegration_FillOfflineThenDrain queues while the server is down and
// delivers on drain.
func TestIntegration_FillOfflineThenDrain(t *testing.T) {
	ws, live := newServedWorkspace(t)
	live.srv.SetOnline(false)

	for _, badge := range []string{"emp-1", "emp-2"} {
		result := ws.RunCLI("fill", "f-emp", "--set", "Badge="+badge)
		result.MustSucceed(t)
		if got := result.DataString("outcome"); got != "deferred" {
			t.Fatalf("outcome = %q, want deferred\nRaw: %s", got, result.RawJSON)
		}
		result.AssertHasWarning(t, "QUEUED_OFFLINE")
	}
	ws.AssertPending(2)

	ws.RunCLI("queue", "drain").MustFail(t, "SERVER_UNAVAILABLE")
	ws.AssertPending(2)

	live.srv.SetOnline(true)
	drain := ws.RunCLI("queue", "drain")
	drain.MustSucceed(t)
	drain.AssertResultCount(t, "delivered", 2)

	ws.AssertPending(0)
	if n := live.submissions(t); n != 2 {
		t.Fatalf("server has %d submissions, want 2", n)
	}

	list := ws.RunCLI("queue", "list").MustSucceed(t)
	if list.Data["last_drain"] == nil {
		t.Fatalf("expected last_drain in queue list\nRaw: %s", list.RawJSON)
	}

	log := ws.RunCLI("queue", "log")
	log.MustSucceed(t)
	if len(log.DataList("entries")) == 0 {
		t.Fatalf("expected audit entries\nRaw: %s", log.RawJSON)
	}
}

// TestIntegration_FillBehindBacklog queues a new submission behind an older
// one and delivers both, oldest first, before fill exits.
func TestIntegration_FillBehindBacklog(t *testing.T) {
	ws, live := newServedWorkspace(t)
	live.srv.SetOnline(false)
	ws.RunCLI("fill", "f-emp", "--set", "Badge=emp-1").MustSucceed(t)
	ws.AssertPending(1)

	live.srv.SetOnline(true)
	result := ws.RunCLI("fill", "f-emp", "--set", "Badge=emp-2")
	result.MustSucceed(t)
	if got := result.DataString("outcome"); got != "delivered" {
		t.Fatalf("outcome = %q, want delivered\nRaw: %s", got, result.RawJSON)
	}
	if got := result.DataString("status"); got != "Submitted" {
		t.Fatalf("status = %q, want Submitted\nRaw: %s", got, result.RawJSON)
	}
	ws.AssertPending(0)
	if n := live.submissions(t); n != 2 {
		t.Fatalf("server has %d submissions, want 2", n)
	}
}

const peopleForm = `id: f-people
name: People
fields:
  - label: Badge
    type: text
    required: true
    is_primary_key: true
  - label: Manager
    type: reference
    form_name: People
`

// TestIntegration_SubmissionsListSelfReference lists a form whose reference
// field points at the same form; each reference is resolved one hop deep.
func TestIntegration_SubmissionsListSelfReference(t *testing.T) {
	seed := testutil.NewWorkspace(t).WithForm("people.yaml", peopleForm).Build()
	live := startServer(t, schema.NewFileStore(seed.FormsDir))
	ws := testutil.NewWorkspace(t).
		WithServer(live.url).
		WithForm("people.yaml", peopleForm).
		Build()

	ws.RunCLI("submissions", "list", "f-people").MustSucceed(t).AssertResultCount(t, "submissions", 0)

	ws.RunCLI("fill", "f-people", "--set", "Badge=emp-1").MustSucceed(t)
	ws.RunCLI("fill", "f-people", "--set", "Badge=emp-2", "--set", "Manager=emp-1").MustSucceed(t)

	list := ws.RunCLI("submissions", "list", "f-people")
	list.MustSucceed(t)
	list.AssertResultCount(t, "submissions", 2)

	rows := list.DataList("submissions")
	second, _ := rows[1].(map[string]interface{})
	display, _ := second["display"].(map[string]interface{})
	manager, _ := display["Manager"].(string)
	if !strings.HasPrefix(manager, "emp-1 (") || !strings.Contains(manager, "Badge: emp-1") {
		t.Fatalf("Manager display = %q\nRaw: %s", manager, list.RawJSON)
	}

	ws.RunCLI("submissions", "list", "f-missing").MustFail(t, "FORM_NOT_FOUND")
}

// TestIntegration_AmendQueued changes a queued submission before delivery.
func TestIntegration_AmendQueued(t *testing.T) {
	ws, live := newServedWorkspace(t)
	live.srv.SetOnline(false)

	ws.RunCLI("fill", "f-tasks", "--set", "Title=Paint", "--set", "Hours=2").MustSucceed(t)

	amend := ws.RunCLI("queue", "amend", "1", "--set", "Hours=3.5")
	amend.MustSucceed(t)
	data, _ := amend.Data["data"].(map[string]interface{})
	if data["Hours"] != 3.5 {
		t.Fatalf("amended Hours = %v, want 3.5\nRaw: %s", data["Hours"], amend.RawJSON)
	}

	ws.RunCLI("queue", "amend", "1", "--set", "Hours=lots").MustFail(t, "VALIDATION_FAILED")
	ws.RunCLI("queue", "amend", "9", "--set", "Hours=1").MustFail(t, "ENTRY_NOT_FOUND")
}

// TestIntegration_RejectedRetryDiscard parks a submission the server refuses
// and moves it through retry and discard.
func TestIntegration_RejectedRetryDiscard(t *testing.T) {
	strict := testutil.NewWorkspace(t).
		WithForm("tasks.yaml", `id: f-tasks
name: Tasks
fields:
  - label: Title
    type: text
    required: true
  - label: Hours
    type: number
    required: true
`).
		Build()
	live := startServer(t, schema.NewFileStore(strict.FormsDir))

	ws := testutil.NewWorkspace(t).
		WithServer(live.url).
		WithForm("tasks.yaml", `id: f-tasks
name: Tasks
fields:
  - label: Title
    type: text
    required: true
  - label: Hours
    type: number
`).
		Build()

	live.srv.SetOnline(false)
	ws.RunCLI("fill", "f-tasks", "--set", "Title=Paint").MustSucceed(t)
	live.srv.SetOnline(true)

	drain := ws.RunCLI("queue", "drain")
	drain.MustSucceed(t)
	drain.AssertResultCount(t, "rejected", 1)
	ws.AssertPending(0)
	ws.AssertRejected(1)

	ws.RunCLI("queue", "retry", "1").MustSucceed(t)
	ws.AssertPending(1)
	ws.AssertRejected(0)

	ws.RunCLI("queue", "drain").MustSucceed(t)
	ws.AssertRejected(1)

	ws.RunCLI("queue", "discard", "--rejected", "1").MustSucceed(t)
	ws.AssertRejected(0)
	ws.AssertPending(0)
	if n := live.submissions(t); n != 0 {
		t.Fatalf("server has %d submissions, want 0", n)
	}
}

// TestIntegration_NoServerConfigured keeps submissions queued and reads forms
// from the local directory.
func TestIntegration_NoServerConfigured(t *testing.T) {
	ws := testutil.NewWorkspace(t).
		WithStore("file").
		WithForm("employees.yaml", testutil.EmployeesForm()).
		Build()

	list := ws.RunCLI("forms", "list")
	list.MustSucceed(t)
	list.AssertResultCount(t, "forms", 1)

	result := ws.RunCLI("fill", "f-emp", "--set", "Badge=emp-7")
	result.MustSucceed(t)
	if got := result.DataString("outcome"); got != "deferred" {
		t.Fatalf("outcome = %q, want deferred", got)
	}
	ws.AssertPending(1)

	ws.RunCLI("forms", "pull", "f-emp").MustFail(t, "SERVER_URL_REQUIRED")
	ws.RunCLI("fill", "missing", "--set", "X=1").MustFail(t, "FORM_NOT_FOUND")

	id := ws.PendingIDs()[0]
	ws.RunCLI("queue", "discard", id).MustSucceed(t)
	ws.AssertPending(0)
}

// TestIntegration_FillValidation reports every invalid field.
func TestIntegration_FillValidation(t *testing.T) {
	ws, live := newServedWorkspace(t)

	result := ws.RunCLI("fill", "f-tasks", "--set", "Hours=many")
	result.MustFail(t, "VALIDATION_FAILED")
	ws.AssertPending(0)
	if n := live.submissions(t); n != 0 {
		t.Fatalf("server has %d submissions, want 0", n)
	}

	ws.RunCLI("fill", "f-tasks", "--set", "Nope=1", "--set", "Title=x").MustFail(t, "UNKNOWN_FIELD")
}

// TestIntegration_FormsPull caches a server form locally.
func TestIntegration_FormsPull(t *testing.T) {
	ws, _ := newServedWorkspace(t)

	before := len(ws.FormFiles())
	ws.RunCLI("forms", "pull", "f-emp").MustSucceed(t)
	if after := len(ws.FormFiles()); after != before {
		t.Fatalf("pull should overwrite the cached form, files %d -> %d", before, after)
	}
	ws.AssertFileContains("forms/employees.yaml", "is_primary_key: true")

	show := ws.RunCLI("forms", "show", "f-emp", "--local")
	show.MustSucceed(t)
	if show.DataString("name") != "Employees" {
		t.Fatalf("unexpected form\nRaw: %s", show.RawJSON)
	}
}
