package connectivity

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// StatusMessage is pushed by the server on its connectivity endpoint.
type StatusMessage struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

const (
	minBackoff = 250 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// WebSocketSignal is online while a push connection to the server is open
// and the server last reported itself online. It reconnects with
// exponential backoff.
type WebSocketSignal struct {
	url   string
	debug bool

	// MinBackoff and MaxBackoff bound the reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu     sync.Mutex
	online bool
	subs   subscribers
}

// NewWebSocketSignal returns a signal for the ws:// or wss:// url. It
// starts offline until Run connects.
func NewWebSocketSignal(url string, debug bool) *WebSocketSignal {
	return &WebSocketSignal{
		url:        url,
		debug:      debug,
		MinBackoff: minBackoff,
		MaxBackoff: maxBackoff,
	}
}

func (s *WebSocketSignal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *WebSocketSignal) Subscribe(fn func(bool)) func() {
	return s.subs.add(fn)
}

// Run keeps a connection open until ctx is cancelled.
func (s *WebSocketSignal) Run(ctx context.Context) error {
	backoff := s.MinBackoff
	for {
		connected, err := s.session(ctx)
		s.set(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = s.MinBackoff
		}
		s.logDebug("disconnected: %v (retry in %s)", err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > s.MaxBackoff {
			backoff = s.MaxBackoff
		}
	}
}

// session runs one connection. connected reports whether the dial worked.
func (s *WebSocketSignal) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()
	s.logDebug("connected to %s", s.url)

	for {
		var msg StatusMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return true, err
		}
		s.set(msg.Online)
	}
}

func (s *WebSocketSignal) set(online bool) {
	s.mu.Lock()
	changed := online != s.online
	s.online = online
	s.mu.Unlock()

	if changed {
		s.subs.notify(online)
	}
}

func (s *WebSocketSignal) logDebug(format string, args ...interface{}) {
	if s.debug {
		fmt.Fprintf(os.Stderr, "[formsync-connectivity] "+format+"\n", args...)
	}
}
