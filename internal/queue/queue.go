// Package queue is the durable outbound submission queue.
//
// Submissions accepted by Enqueue are either delivered immediately or
// persisted locally; they are never dropped in between. Persisted entries are
// replayed one at a time in FIFO order by Drain, and an entry leaves the
// store only after the sink acknowledged it. Delivery is at-least-once: each
// entry carries a client-generated submission id the sink deduplicates on.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aidanlsb/formsync/internal/api"
	"github.com/aidanlsb/formsync/internal/audit"
	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/schema"
	"github.com/aidanlsb/formsync/internal/store"
)

// DefaultAttemptTimeout bounds a single delivery attempt.
const DefaultAttemptTimeout = 10 * time.Second

// DefaultMaxAttempts is the advisory attempt count after which an entry is
// reported as stuck.
const DefaultMaxAttempts = 10

var (
	// ErrRejected is wrapped by errors for submissions the sink refused.
	ErrRejected = errors.New("submission rejected by server")

	// ErrAlreadyDelivered is returned by Amend when the entry has left the
	// queue through delivery.
	ErrAlreadyDelivered = errors.New("submission already delivered")

	// ErrEntryRejected is returned by Amend when the entry sits on the
	// dead-letter list.
	ErrEntryRejected = errors.New("submission is on the rejected list")
)

// Sink is the submission sink contract of the server.
type Sink interface {
	Deliver(ctx context.Context, p model.PendingSubmission) (*api.SubmitResponse, error)
}

// Connectivity is what the queue needs from the connectivity monitor.
type Connectivity interface {
	Online() bool
	OnReconnected(fn func()) (cancel func())
}

// Options configures a Queue.
type Options struct {
	Store        store.Store
	Sink         Sink
	Connectivity Connectivity

	// Schema, when set, is consulted to flag submissions whose labels the
	// current form no longer has. Lookup failures are ignored.
	Schema schema.Store

	Audit *audit.Logger

	// LeasePath is the drain lease file. Empty disables the cross-process
	// lease; in-process draining is always exclusive.
	LeasePath string

	AttemptTimeout time.Duration
	MaxAttempts    int

	// OnDrain is called after every drain started by Run.
	OnDrain func(DrainReport, error)

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string

	Debug bool
}

// Queue is the submission queue.
type Queue struct {
	store   store.Store
	sink    Sink
	conn    Connectivity
	schema  schema.Store
	audit   *audit.Logger
	lease   string
	timeout time.Duration
	maxAtt  int
	onDrain func(DrainReport, error)
	now     func() time.Time
	newID   func() string
	debug   bool

	// mu is held for every delivery: a direct attempt from Enqueue or a
	// whole drain. It keeps in-process delivery strictly FIFO.
	mu   sync.Mutex
	wake chan struct{}
}

// New creates a queue. It has no side effects; Run performs the startup
// drain.
func New(opts Options) (*Queue, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("submission sink is required")
	}
	if opts.Connectivity == nil {
		return nil, fmt.Errorf("connectivity monitor is required")
	}

	q := &Queue{
		store:   opts.Store,
		sink:    opts.Sink,
		conn:    opts.Connectivity,
		schema:  opts.Schema,
		audit:   opts.Audit,
		lease:   opts.LeasePath,
		timeout: opts.AttemptTimeout,
		maxAtt:  opts.MaxAttempts,
		onDrain: opts.OnDrain,
		now:     opts.Now,
		newID:   opts.NewID,
		debug:   opts.Debug,
		wake:    make(chan struct{}, 1),
	}
	if q.audit == nil {
		q.audit = audit.Disabled()
	}
	if q.timeout <= 0 {
		q.timeout = DefaultAttemptTimeout
	}
	if q.maxAtt <= 0 {
		q.maxAtt = DefaultMaxAttempts
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.newID == nil {
		q.newID = uuid.NewString
	}
	return q, nil
}

// MaxAttempts returns the advisory stuck threshold.
func (q *Queue) MaxAttempts() int { return q.maxAtt }

// Pending returns the queued entries in delivery order.
func (q *Queue) Pending(ctx context.Context) ([]model.PendingSubmission, error) {
	return q.store.List(ctx)
}

// Rejected returns the dead-letter list.
func (q *Queue) Rejected(ctx context.Context) ([]model.RejectedSubmission, error) {
	return q.store.ListRejected(ctx)
}

// Run drains on startup when online and then on every reconnected event,
// until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	cancel := q.conn.OnReconnected(q.kick)
	defer cancel()

	if q.conn.Online() {
		q.kick()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
			if !q.conn.Online() {
				continue
			}
			report, err := q.Drain(ctx)
			if err != nil {
				q.logDebug("drain: %v", err)
			}
			if q.onDrain != nil && !report.Skipped {
				q.onDrain(report, err)
			}
		}
	}
}

// kick requests a drain from Run without blocking.
func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) attempt(ctx context.Context, p model.PendingSubmission) (*api.SubmitResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return q.sink.Deliver(ctx, p)
}

// inconsistencies reports labels of p the current form does not define.
func (q *Queue) inconsistencies(ctx context.Context, p model.PendingSubmission) []model.Condition {
	if q.schema == nil {
		return nil
	}
	form, err := q.schema.GetForm(ctx, p.FormID)
	if err != nil {
		return nil
	}
	var conds []model.Condition
	for _, label := range form.StaleLabels(p.Data) {
		conds = append(conds, model.Condition{
			Code:    model.ConditionSchemaInconsistent,
			Field:   label,
			Message: fmt.Sprintf("form %q no longer has field %q; value kept", form.Name, label),
		})
	}
	if len(conds) > 0 {
		_ = q.audit.LogSubmission(audit.EventInconsistent, p.SubmissionID, p.FormID,
			fmt.Sprintf("%d stale field(s)", len(conds)))
	}
	return conds
}

func (q *Queue) logDebug(format string, args ...interface{}) {
	if q.debug {
		fmt.Fprintf(os.Stderr, "[formsync-queue] "+format+"\n", args...)
	}
}

func failureDetails(err error) (kind string, status int) {
	var de *api.DeliveryError
	if errors.As(err, &de) {
		return string(de.Kind), de.StatusCode
	}
	if k, ok := api.KindOf(err); ok {
		return string(k), 0
	}
	return "", 0
}
