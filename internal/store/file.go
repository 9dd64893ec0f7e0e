package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aidanlsb/formsync/internal/atomicfile"
	"github.com/aidanlsb/formsync/internal/model"
)

// FileStore keeps the queue as JSON files in a directory: <namespace>.json
// holds the pending list and <namespace>.rejected.json the dead-letter list.
// Every mutation rewrites the file atomically, so a crash leaves either the
// old or the new list on disk.
type FileStore struct {
	dir       string
	namespace string

	mu sync.Mutex
}

// OpenFile returns a file store rooted at dir, creating the directory.
func OpenFile(dir, namespace string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	return &FileStore{dir: dir, namespace: namespaceOrDefault(namespace)}, nil
}

// Namespace returns the namespace the store reads and writes.
func (s *FileStore) Namespace() string { return s.namespace }

// PendingPath returns the pending list file.
func (s *FileStore) PendingPath() string {
	return filepath.Join(s.dir, s.namespace+".json")
}

// RejectedPath returns the dead-letter list file.
func (s *FileStore) RejectedPath() string {
	return filepath.Join(s.dir, s.namespace+".rejected.json")
}

func (s *FileStore) Append(_ context.Context, p model.PendingSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readPending()
	if err != nil {
		return err
	}
	if indexOf(entries, p.SubmissionID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, p.SubmissionID)
	}
	if p.Data == nil {
		p.Data = map[string]interface{}{}
	}
	return s.writePending(append(entries, p))
}

func (s *FileStore) List(_ context.Context) ([]model.PendingSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPending()
}

func (s *FileStore) Get(_ context.Context, submissionID string) (model.PendingSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readPending()
	if err != nil {
		return model.PendingSubmission{}, err
	}
	i := indexOf(entries, submissionID)
	if i < 0 {
		return model.PendingSubmission{}, fmt.Errorf("%w: %s", ErrEntryNotFound, submissionID)
	}
	return entries[i], nil
}

func (s *FileStore) Remove(_ context.Context, submissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readPending()
	if err != nil {
		return err
	}
	i := indexOf(entries, submissionID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, submissionID)
	}
	return s.writePending(append(entries[:i], entries[i+1:]...))
}

func (s *FileStore) IncrementAttempts(_ context.Context, submissionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readPending()
	if err != nil {
		return 0, err
	}
	i := indexOf(entries, submissionID)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", ErrEntryNotFound, submissionID)
	}
	entries[i].AttemptCount++
	if err := s.writePending(entries); err != nil {
		return 0, err
	}
	return entries[i].AttemptCount, nil
}

func (s *FileStore) Amend(_ context.Context, submissionID string, data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readPending()
	if err != nil {
		return err
	}
	i := indexOf(entries, submissionID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, submissionID)
	}
	entries[i].Data = model.CloneData(data)
	return s.writePending(entries)
}

func (s *FileStore) Reject(_ context.Context, submissionID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readPending()
	if err != nil {
		return err
	}
	i := indexOf(entries, submissionID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, submissionID)
	}
	rejected, err := s.readRejected()
	if err != nil {
		return err
	}

	// Dead-letter first: a crash in between leaves a duplicate, never a loss.
	rejected = append(rejected, model.RejectedSubmission{
		PendingSubmission: entries[i],
		Reason:            reason,
		RejectedAt:        at.UTC(),
	})
	if err := s.writeRejected(rejected); err != nil {
		return err
	}
	return s.writePending(append(entries[:i], entries[i+1:]...))
}

func (s *FileStore) ListRejected(_ context.Context) ([]model.RejectedSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRejected()
}

func (s *FileStore) Restore(_ context.Context, submissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rejected, err := s.readRejected()
	if err != nil {
		return err
	}
	i := rejectedIndexOf(rejected, submissionID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, submissionID)
	}
	entries, err := s.readPending()
	if err != nil {
		return err
	}
	if indexOf(entries, submissionID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, submissionID)
	}

	if err := s.writePending(append(entries, rejected[i].PendingSubmission)); err != nil {
		return err
	}
	return s.writeRejected(append(rejected[:i], rejected[i+1:]...))
}

func (s *FileStore) DeleteRejected(_ context.Context, submissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rejected, err := s.readRejected()
	if err != nil {
		return err
	}
	i := rejectedIndexOf(rejected, submissionID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, submissionID)
	}
	return s.writeRejected(append(rejected[:i], rejected[i+1:]...))
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) readPending() ([]model.PendingSubmission, error) {
	entries := []model.PendingSubmission{}
	if err := readJSON(s.PendingPath(), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *FileStore) writePending(entries []model.PendingSubmission) error {
	if err := atomicfile.WriteJSON(s.PendingPath(), entries); err != nil {
		return fmt.Errorf("failed to write queue: %w", err)
	}
	return nil
}

func (s *FileStore) readRejected() ([]model.RejectedSubmission, error) {
	rejected := []model.RejectedSubmission{}
	if err := readJSON(s.RejectedPath(), &rejected); err != nil {
		return nil, err
	}
	return rejected, nil
}

func (s *FileStore) writeRejected(rejected []model.RejectedSubmission) error {
	if err := atomicfile.WriteJSON(s.RejectedPath(), rejected); err != nil {
		return fmt.Errorf("failed to write rejected list: %w", err)
	}
	return nil
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func indexOf(entries []model.PendingSubmission, submissionID string) int {
	for i, e := range entries {
		if e.SubmissionID == submissionID {
			return i
		}
	}
	return -1
}

func rejectedIndexOf(entries []model.RejectedSubmission, submissionID string) int {
	for i, e := range entries {
		if e.SubmissionID == submissionID {
			return i
		}
	}
	return -1
}

var _ Store = (*FileStore)(nil)
