// Package audit provides an append-only JSONL log of queue lifecycle events.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the log file name inside the data directory.
const FileName = "audit.log"

// Event names.
const (
	EventEnqueued     = "enqueued"
	EventDelivered    = "delivered"
	EventDeferred     = "deferred"
	EventRejected     = "rejected"
	EventAmended      = "amended"
	EventRestored     = "restored"
	EventDiscarded    = "discarded"
	EventDrainStarted = "drain_started"
	EventDrainDone    = "drain_done"
	EventDrainAborted = "drain_aborted"
	EventInconsistent = "schema_inconsistent"
)

// Entry is a single audit log line.
type Entry struct {
	Timestamp    time.Time              `json:"ts"`
	Event        string                 `json:"event"`
	SubmissionID string                 `json:"submission_id,omitempty"`
	FormID       string                 `json:"form_id,omitempty"`
	Attempt      int                    `json:"attempt,omitempty"`
	Kind         string                 `json:"kind,omitempty"` // failure kind for deferred/rejected
	Status       int                    `json:"status,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// Logger appends entries to the audit log. A disabled logger is a no-op.
type Logger struct {
	path    string
	enabled bool
	mu      sync.Mutex
}

// New creates an audit logger writing under dataDir.
func New(dataDir string, enabled bool) *Logger {
	if !enabled {
		return &Logger{enabled: false}
	}
	return &Logger{
		path:    filepath.Join(dataDir, FileName),
		enabled: true,
	}
}

// Disabled returns a no-op logger.
func Disabled() *Logger { return &Logger{} }

// Path returns the log file path, empty when disabled.
func (l *Logger) Path() string { return l.path }

// Enabled returns true if the audit logger is enabled.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Log writes an entry to the audit log.
func (l *Logger) Log(entry Entry) error {
	if !l.Enabled() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// LogSubmission logs an event about one submission.
func (l *Logger) LogSubmission(event, submissionID, formID, message string) error {
	return l.Log(Entry{
		Event:        event,
		SubmissionID: submissionID,
		FormID:       formID,
		Message:      message,
	})
}

// LogFailure logs a failed delivery attempt.
func (l *Logger) LogFailure(event, submissionID, formID string, attempt int, kind string, status int, message string) error {
	return l.Log(Entry{
		Event:        event,
		SubmissionID: submissionID,
		FormID:       formID,
		Attempt:      attempt,
		Kind:         kind,
		Status:       status,
		Message:      message,
	})
}

// LogDrain logs a drain lifecycle event with counters.
func (l *Logger) LogDrain(event string, delivered, rejected, remaining int, message string) error {
	return l.Log(Entry{
		Event:   event,
		Message: message,
		Extra: map[string]interface{}{
			"delivered": delivered,
			"rejected":  rejected,
			"remaining": remaining,
		},
	})
}

// Read reads all entries from the audit log. Malformed lines are skipped.
func (l *Logger) Read() ([]Entry, error) {
	if !l.Enabled() {
		return nil, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}
	return entries, nil
}

// ReadSince reads entries at or after since.
func (l *Logger) ReadSince(since time.Time) ([]Entry, error) {
	all, err := l.Read()
	if err != nil {
		return nil, err
	}

	var filtered []Entry
	for _, entry := range all {
		if !entry.Timestamp.Before(since) {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// ReadForSubmission reads entries about one submission.
func (l *Logger) ReadForSubmission(submissionID string) ([]Entry, error) {
	all, err := l.Read()
	if err != nil {
		return nil, err
	}

	var filtered []Entry
	for _, entry := range all {
		if entry.SubmissionID == submissionID {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// Tail returns the last n entries.
func (l *Logger) Tail(n int) ([]Entry, error) {
	all, err := l.Read()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}
