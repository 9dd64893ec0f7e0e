package devserver

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidanlsb/formsync/internal/connectivity"
	"github.com/aidanlsb/formsync/internal/formruntime"
	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/queue"
	"github.com/aidanlsb/formsync/internal/resolver"
	"github.com/aidanlsb/formsync/internal/schema"
	"github.com/aidanlsb/formsync/internal/store"
)

func newQueue(t *testing.T, f *fixture, conn queue.Connectivity, mutate ...func(*queue.Options)) (*queue.Queue, store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.OpenSQLite(filepath.Join(dir, "queue.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	opts := queue.Options{
		Store:          st,
		Sink:           f.client,
		Connectivity:   conn,
		Schema:         f.client,
		LeasePath:      filepath.Join(dir, "drain.lock"),
		AttemptTimeout: time.Second,
	}
	for _, m := range mutate {
		m(&opts)
	}
	q, err := queue.New(opts)
	require.NoError(t, err)
	return q, st
}

func TestQueueOverHTTP(t *testing.T) {
	f := newFixture(t, Options{})
	sig := connectivity.NewManualSignal(false)
	mon := connectivity.New(sig, connectivity.Options{})
	defer mon.Close()
	q, st := newQueue(t, f, mon)
	ctx := context.Background()

	f.srv.SetOnline(false)
	for _, badge := range []string{"emp-1", "emp-2"} {
		receipt, err := q.Enqueue(ctx, model.Submission{FormID: "f-emp", Data: map[string]interface{}{"Badge": badge}})
		require.NoError(t, err)
		assert.Equal(t, queue.Deferred, receipt.Outcome)
	}

	// Monitor online but the server still down: the attempt fails and the
	// entry is kept.
	sig.Set(true)
	report, err := q.Drain(ctx)
	require.Error(t, err)
	assert.Empty(t, report.Delivered)
	assert.Equal(t, 2, report.Remaining)

	f.srv.SetOnline(true)
	report, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Delivered, 2)

	entries, err := st.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	values, err := f.client.ListPrimaryKeyValues(ctx, "Employees")
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "emp-1", values[0].Value)
	assert.Equal(t, "emp-2", values[1].Value)
}

func TestQueueRejectsInvalidDuringDrain(t *testing.T) {
	f := newFixture(t, Options{})
	sig := connectivity.NewManualSignal(false)
	mon := connectivity.New(sig, connectivity.Options{})
	defer mon.Close()
	q, _ := newQueue(t, f, mon)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, model.Submission{FormID: "f-emp", Data: map[string]interface{}{"Dept": "no badge"}})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, model.Submission{FormID: "f-emp", Data: map[string]interface{}{"Badge": "emp-1"}})
	require.NoError(t, err)

	sig.Set(true)
	report, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Rejected, 1)
	assert.Len(t, report.Delivered, 1)

	rejected, err := q.Rejected(ctx)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Reason, "Badge")
}

func TestReconnectOverWebSocketDrains(t *testing.T) {
	f := newFixture(t, Options{})
	sig := connectivity.NewWebSocketSignal("ws"+strings.TrimPrefix(f.http.URL, "http")+"/connectivity", false)
	sig.MinBackoff = 10 * time.Millisecond
	sig.MaxBackoff = 50 * time.Millisecond
	mon := connectivity.New(sig, connectivity.Options{Quiet: 20 * time.Millisecond})
	defer mon.Close()

	var (
		mu      sync.Mutex
		reports []queue.DrainReport
	)
	q, st := newQueue(t, f, mon, func(o *queue.Options) {
		o.OnDrain = func(r queue.DrainReport, _ error) {
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, r)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)
	require.Eventually(t, mon.Online, 2*time.Second, 10*time.Millisecond)

	f.srv.SetOnline(false)
	require.Eventually(t, func() bool { return !mon.Online() }, 2*time.Second, 10*time.Millisecond)

	receipt, err := q.Enqueue(ctx, model.Submission{FormID: "f-emp", Data: map[string]interface{}{"Badge": "emp-9"}})
	require.NoError(t, err)
	assert.Equal(t, queue.Deferred, receipt.Outcome)

	go q.Run(ctx)
	f.srv.SetOnline(true)

	require.Eventually(t, func() bool {
		entries, err := st.List(context.Background())
		return err == nil && len(entries) == 0
	}, 3*time.Second, 20*time.Millisecond)

	n, err := f.srv.Submissions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, reports)
}

func TestRuntimeAgainstServer(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.client.Deliver(ctx, pending("seed-1", "f-emp", map[string]interface{}{"Badge": "emp-042", "Dept": "Ops"}))
	require.NoError(t, err)

	mon := connectivity.New(connectivity.StaticSignal(true), connectivity.Options{})
	defer mon.Close()
	q, _ := newQueue(t, f, mon)

	rt := formruntime.New("f-tasks", formruntime.Options{
		Schema:     schema.NewSessionStore(f.client),
		References: resolver.New(f.client),
		Queue:      q,
	})
	require.NoError(t, rt.Load(ctx))

	cands := rt.Candidates("Owner")
	require.Len(t, cands, 1)
	assert.Equal(t, "emp-042", cands[0].Value)

	require.NoError(t, rt.Set(ctx, "Title", "Inspect roof"))
	res, err := rt.Select(ctx, "Owner", "emp-042")
	require.NoError(t, err)
	assert.Equal(t, resolver.Found, res.Status)
	assert.Equal(t, "Ops", rt.ReferenceDetails("Owner").Data["Dept"])

	receipt, err := rt.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Delivered, receipt.Outcome)
	assert.Equal(t, formruntime.SubmittedOnline, rt.State())

	recs, err := f.client.ListSubmissions(ctx, "f-tasks")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Inspect roof", recs[0].Data["Title"])
	assert.Equal(t, "emp-042", recs[0].Data["Owner"])
}
