package connectivity

import "sync"

// StaticSignal never changes.
type StaticSignal bool

func (s StaticSignal) Online() bool { return bool(s) }

func (StaticSignal) Subscribe(func(bool)) func() { return func() {} }

// ManualSignal is set explicitly. Tests and the watch command's stdin
// toggle use it.
type ManualSignal struct {
	mu     sync.Mutex
	online bool
	subs   subscribers
}

// NewManualSignal returns a signal with the given initial value.
func NewManualSignal(online bool) *ManualSignal {
	return &ManualSignal{online: online}
}

func (s *ManualSignal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set changes the signal and notifies subscribers on change.
func (s *ManualSignal) Set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	s.mu.Unlock()
	s.subs.notify(online)
}

func (s *ManualSignal) Subscribe(fn func(bool)) func() {
	return s.subs.add(fn)
}

// subscribers is a small registry shared by the signal implementations.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(bool)
}

func (s *subscribers) add(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(bool))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers) notify(online bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}
