package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aidanlsb/formsync/internal/api"
	"github.com/aidanlsb/formsync/internal/audit"
	"github.com/aidanlsb/formsync/internal/buildinfo"
	"github.com/aidanlsb/formsync/internal/config"
	"github.com/aidanlsb/formsync/internal/connectivity"
	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/paths"
	"github.com/aidanlsb/formsync/internal/queue"
	"github.com/aidanlsb/formsync/internal/resolver"
	"github.com/aidanlsb/formsync/internal/schema"
	"github.com/aidanlsb/formsync/internal/store"
)

// layoutFor returns the data directory layout of cfg.
func layoutFor(cfg *config.Config) paths.Layout {
	return paths.New(cfg.DataPath())
}

// connectWait bounds how long a one-shot command waits for a push
// connectivity signal to come up before treating the server as offline.
const connectWait = 2 * time.Second

var errNoServer = errors.New("no server_url configured")

// app holds the collaborators of one command invocation, built from config.
type app struct {
	cfg    *config.Config
	layout paths.Layout
	debug  bool

	client  *api.Client // nil without server_url
	local   *schema.FileStore
	forms   *schema.SessionStore
	refs    *resolver.Resolver
	store   store.Store
	monitor *connectivity.Monitor
	queue   *queue.Queue
	audit   *audit.Logger

	stop context.CancelFunc
	done chan struct{}
}

type appOptions struct {
	// requireServer fails when no server_url is configured.
	requireServer bool

	// onDrain is passed to the queue for drains started by Run.
	onDrain func(queue.DrainReport, error)
}

// openApp wires the queue, the connectivity monitor and the server client.
// The connectivity signal runs until Close.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg := getConfig()
	a := &app{
		cfg:    cfg,
		layout: layoutFor(cfg),
		debug:  debugEnabled(),
		done:   make(chan struct{}),
	}
	if err := a.layout.Ensure(); err != nil {
		return nil, err
	}
	a.local = schema.NewFileStore(a.layout.Resolve(cfg.Serve.FormsDir, a.layout.FormsDir()))

	var remote interface {
		queue.Sink
		resolver.Lookup
	} = noServer{}
	var forms schema.Store = a.local
	if strings.TrimSpace(cfg.ServerURL) != "" {
		client, err := api.NewClient(api.Options{
			BaseURL:   cfg.ServerURL,
			Token:     cfg.AuthToken,
			Timeout:   cfg.Timeout(),
			UserAgent: buildinfo.Read(readBuildInfo).UserAgent(),
		})
		if err != nil {
			return nil, err
		}
		a.client = client
		remote = client
		forms = offlineForms{remote: client, local: a.local}
	} else if opts.requireServer {
		return nil, errNoServer
	}
	a.forms = schema.NewSessionStore(forms)
	a.refs = resolver.New(remote)
	a.refs.Debug = a.debug

	signal, err := a.openSignal()
	if err != nil {
		return nil, err
	}
	a.monitor = connectivity.New(signal, connectivity.Options{
		Quiet: cfg.DebounceWindow(),
		Debug: a.debug,
	})

	a.store, err = a.openStore()
	if err != nil {
		a.monitor.Close()
		return nil, err
	}
	a.audit = audit.New(a.layout.Root, cfg.AuditEnabled())

	a.queue, err = queue.New(queue.Options{
		Store:          a.store,
		Sink:           remote,
		Connectivity:   a.monitor,
		Schema:         a.forms,
		Audit:          a.audit,
		LeasePath:      a.layout.Lease(),
		AttemptTimeout: cfg.Timeout(),
		MaxAttempts:    cfg.Attempts(),
		OnDrain:        opts.onDrain,
		Debug:          a.debug,
	})
	if err != nil {
		a.monitor.Close()
		a.store.Close()
		return nil, err
	}

	runCtx, stop := context.WithCancel(ctx)
	a.stop = stop
	go func() {
		defer close(a.done)
		if err := a.monitor.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logDebug("connectivity: %v", err)
		}
	}()

	if cfg.ConnectivityMode() == config.ConnectivityWebSocket {
		waitOnline(ctx, a.monitor, connectWait)
	}
	return a, nil
}

func (a *app) openSignal() (connectivity.Signal, error) {
	switch a.cfg.ConnectivityMode() {
	case config.ConnectivityFile:
		return connectivity.NewFileSignal(a.layout.Resolve(a.cfg.Connectivity.File, a.layout.OnlineFlag()), a.debug)
	case config.ConnectivityWebSocket:
		url := a.cfg.WebSocketURL()
		if url == "" {
			return nil, fmt.Errorf("websocket connectivity needs server_url or connectivity.websocket_url")
		}
		return connectivity.NewWebSocketSignal(url, a.debug), nil
	}
	if a.client == nil {
		return connectivity.StaticSignal(false), nil
	}
	return connectivity.StaticSignal(a.cfg.StaticOnline()), nil
}

func (a *app) openStore() (store.Store, error) {
	ns := a.cfg.QueueNamespace()
	if a.cfg.StoreKind() == config.StoreFile {
		return store.OpenFile(a.layout.QueueDir(), ns)
	}
	return store.OpenSQLite(a.layout.QueueDB(), ns)
}

// Close stops the connectivity signal and closes the queue store.
func (a *app) Close() error {
	if a.stop != nil {
		a.stop()
		<-a.done
	}
	return a.store.Close()
}

// online reports the current connectivity state.
func (a *app) online() bool {
	return a.monitor.Online()
}

// saveDrainState records a drain outcome in state.toml.
func (a *app) saveDrainState(report queue.DrainReport, drainErr error) {
	state := &config.State{
		Version:       config.StateVersion,
		LastDrainAt:   time.Now().UTC(),
		LastDelivered: len(report.Delivered),
		LastRejected:  len(report.Rejected),
		LastRemaining: report.Remaining,
	}
	if drainErr != nil {
		state.LastError = drainErr.Error()
	}
	if err := config.SaveState(config.StatePath(a.layout.Root), state); err != nil {
		a.logDebug("failed to save state: %v", err)
	}
}

func (a *app) logDebug(format string, args ...interface{}) {
	if a.debug {
		fmt.Fprintf(os.Stderr, "[formsync-cli] "+format+"\n", args...)
	}
}

// waitOnline blocks until m reports online, d elapses or ctx is done.
func waitOnline(ctx context.Context, m *connectivity.Monitor, d time.Duration) bool {
	up := make(chan struct{}, 1)
	cancel := m.Subscribe(func(s connectivity.State) {
		if s == connectivity.Online {
			select {
			case up <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()
	if m.Online() {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-up:
	case <-timer.C:
	case <-ctx.Done():
	}
	return m.Online()
}

// offlineForms serves form schemas from the server and falls back to the
// local forms directory while the server is unreachable.
type offlineForms struct {
	remote schema.Store
	local  *schema.FileStore
}

func (s offlineForms) GetForm(ctx context.Context, formID string) (*schema.Form, error) {
	form, err := s.remote.GetForm(ctx, formID)
	if err == nil || !unreachable(err) {
		return form, err
	}
	if cached, lerr := s.local.GetForm(ctx, formID); lerr == nil {
		return cached, nil
	}
	return nil, err
}

func (s offlineForms) GetFields(ctx context.Context, formID string) ([]schema.Field, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	return form.Fields, nil
}

// unreachable reports a retryable transport or server fault.
func unreachable(err error) bool {
	var delivery *api.DeliveryError
	return errors.As(err, &delivery) && api.IsRetryable(delivery)
}

// noServer stands in for the server when none is configured. Every call
// fails as unreachable, so submissions stay queued.
type noServer struct{}

func (noServer) Deliver(context.Context, model.PendingSubmission) (*api.SubmitResponse, error) {
	return nil, &api.DeliveryError{Kind: api.NetworkUnreachable, Err: errNoServer}
}

func (noServer) ListPrimaryKeyValues(context.Context, string) ([]model.Candidate, error) {
	return nil, &api.DeliveryError{Kind: api.NetworkUnreachable, Err: errNoServer}
}

func (noServer) GetRecord(context.Context, string) (*model.Record, error) {
	return nil, &api.DeliveryError{Kind: api.NetworkUnreachable, Err: errNoServer}
}
