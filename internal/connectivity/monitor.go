// Package connectivity tracks whether the server is reachable and announces
// reconnections.
//
// A Monitor is a two-state machine (Online, Offline) fed by a Signal. It is
// event-driven: it never polls, and it fires the reconnected event at most
// once per Offline to Online transition, after the signal has stayed online
// for a quiet period.
package connectivity

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// State is the connectivity state.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Signal is an environment-provided online/offline source.
type Signal interface {
	// Online reports the current value of the signal.
	Online() bool

	// Subscribe registers fn to be called on every change. The returned
	// function removes the subscription.
	Subscribe(fn func(online bool)) (cancel func())
}

// Runner is implemented by signals that need a running loop, such as a
// push connection to the server.
type Runner interface {
	Run(ctx context.Context) error
}

// Options configures a Monitor.
type Options struct {
	// Quiet is how long the signal must stay online after an Offline to
	// Online transition before the reconnected event fires. Zero fires
	// immediately.
	Quiet time.Duration

	Debug bool
}

// Monitor is the connectivity state machine.
type Monitor struct {
	signal Signal
	quiet  time.Duration
	debug  bool

	mu          sync.Mutex
	state       State
	seeded      bool
	armed       bool
	gen         uint64
	timer       *time.Timer
	nextID      int
	onChange    map[int]func(State)
	onReconnect map[int]func()
	closed      bool
	unsubscribe func()
}

// New creates a monitor seeded from the signal's current value.
func New(signal Signal, opts Options) *Monitor {
	m := &Monitor{
		signal:      signal,
		quiet:       opts.Quiet,
		debug:       opts.Debug,
		onChange:    make(map[int]func(State)),
		onReconnect: make(map[int]func()),
	}
	// Subscribe before reading so no transition falls between the two.
	unsubscribe := signal.Subscribe(m.observe)
	online := signal.Online()

	m.mu.Lock()
	if !m.seeded {
		m.seed(online)
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
	return m
}

// seed sets the initial state. Must be called with mu held.
func (m *Monitor) seed(online bool) {
	m.seeded = true
	if online {
		m.state = Online
	} else {
		m.state = Offline
		m.armed = true
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports whether the current state is Online.
func (m *Monitor) Online() bool {
	return m.State() == Online
}

// Subscribe registers fn for every state change. Callbacks run on the
// signal's goroutine and must not block.
func (m *Monitor) Subscribe(fn func(State)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.onChange[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.onChange, id)
	}
}

// OnReconnected registers fn for the debounced reconnected event.
// Callbacks must not block.
func (m *Monitor) OnReconnected(fn func()) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.onReconnect[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.onReconnect, id)
	}
}

// Run drives the signal when it needs a loop, then blocks until ctx is
// cancelled. The monitor is closed on return.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.Close()
	if r, ok := m.signal.(Runner); ok {
		return r.Run(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Close stops observing the signal. Pending reconnected events are dropped.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	unsubscribe := m.unsubscribe
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (m *Monitor) observe(online bool) {
	next := Offline
	if online {
		next = Online
	}

	m.mu.Lock()
	if !m.seeded {
		m.seed(online)
		m.mu.Unlock()
		return
	}
	if m.closed || next == m.state {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	fireNow := false
	if next == Offline {
		m.armed = true
	} else if m.armed {
		if m.quiet <= 0 {
			m.armed = false
			fireNow = true
		} else {
			m.timer = time.AfterFunc(m.quiet, func() { m.settle(gen) })
		}
	}
	changeFns := m.changeListeners()
	m.mu.Unlock()

	m.logDebug("state -> %s", next)
	for _, fn := range changeFns {
		fn(next)
	}
	if fireNow {
		m.fireReconnected()
	}
}

// settle fires the reconnected event if nothing changed since gen.
func (m *Monitor) settle(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.state != Online || !m.armed {
		m.mu.Unlock()
		return
	}
	m.armed = false
	m.timer = nil
	m.mu.Unlock()

	m.fireReconnected()
}

func (m *Monitor) fireReconnected() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.onReconnect))
	for _, fn := range m.onReconnect {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	m.logDebug("reconnected")
	for _, fn := range fns {
		fn()
	}
}

// changeListeners must be called with mu held.
func (m *Monitor) changeListeners() []func(State) {
	fns := make([]func(State), 0, len(m.onChange))
	for _, fn := range m.onChange {
		fns = append(fns, fn)
	}
	return fns
}

func (m *Monitor) logDebug(format string, args ...interface{}) {
	if m.debug {
		fmt.Fprintf(os.Stderr, "[formsync-connectivity] "+format+"\n", args...)
	}
}
