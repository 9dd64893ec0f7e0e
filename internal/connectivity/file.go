package connectivity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileSignal derives connectivity from a flag file: online while the file
// exists and does not contain "offline". Changes are picked up through
// fsnotify on the parent directory, so the file may be created and removed
// freely.
type FileSignal struct {
	path  string
	debug bool

	mu     sync.Mutex
	online bool
	subs   subscribers
}

// NewFileSignal reads the current value of the flag file at path.
func NewFileSignal(path string, debug bool) (*FileSignal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("connectivity file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return &FileSignal{
		path:   abs,
		debug:  debug,
		online: readFlag(abs),
	}, nil
}

// Path returns the absolute flag file path.
func (s *FileSignal) Path() string { return s.path }

func (s *FileSignal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *FileSignal) Subscribe(fn func(bool)) func() {
	return s.subs.add(fn)
}

// Run watches the flag file until ctx is cancelled.
func (s *FileSignal) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.logDebug("Watching %s", s.path)

	// The file may have changed between construction and the watch.
	s.refresh()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			s.logDebug("Event: %s %s", event.Op, event.Name)
			s.refresh()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logDebug("Watcher error: %v", err)
		}
	}
}

func (s *FileSignal) refresh() {
	online := readFlag(s.path)

	s.mu.Lock()
	changed := online != s.online
	s.online = online
	s.mu.Unlock()

	if changed {
		s.subs.notify(online)
	}
}

func readFlag(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(string(data)), "offline")
}

func (s *FileSignal) logDebug(format string, args ...interface{}) {
	if s.debug {
		fmt.Fprintf(os.Stderr, "[formsync-connectivity] "+format+"\n", args...)
	}
}
