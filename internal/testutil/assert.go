package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// AssertFileExists fails the test if the file does not exist.
func (w *Workspace) AssertFileExists(relPath string) {
	w.t.Helper()
	if _, err := os.Stat(filepath.Join(w.Path, relPath)); os.IsNotExist(err) {
		w.t.Errorf("expected file to exist: %s", relPath)
	}
}

// AssertFileNotExists fails the test if the file exists.
func (w *Workspace) AssertFileNotExists(relPath string) {
	w.t.Helper()
	if _, err := os.Stat(filepath.Join(w.Path, relPath)); err == nil {
		w.t.Errorf("expected file to not exist: %s", relPath)
	}
}

// AssertFileContains fails the test if the file does not contain the substring.
func (w *Workspace) AssertFileContains(relPath, substr string) {
	w.t.Helper()
	content := w.ReadFile(relPath)
	if !strings.Contains(content, substr) {
		w.t.Errorf("expected file %s to contain %q, got:\n%s", relPath, substr, content)
	}
}

// PendingIDs lists the submission ids queued for delivery, oldest first.
func (w *Workspace) PendingIDs() []string {
	w.t.Helper()
	return listedIDs(w.t, w.RunCLI("queue", "list").MustSucceed(w.t), "pending")
}

// RejectedIDs lists the submission ids parked as rejected.
func (w *Workspace) RejectedIDs() []string {
	w.t.Helper()
	return listedIDs(w.t, w.RunCLI("queue", "list").MustSucceed(w.t), "rejected")
}

// AssertPending verifies the number of queued submissions.
func (w *Workspace) AssertPending(expected int) {
	w.t.Helper()
	if ids := w.PendingIDs(); len(ids) != expected {
		w.t.Errorf("expected %d pending submissions, got %d: %v", expected, len(ids), ids)
	}
}

// AssertRejected verifies the number of rejected submissions.
func (w *Workspace) AssertRejected(expected int) {
	w.t.Helper()
	if ids := w.RejectedIDs(); len(ids) != expected {
		w.t.Errorf("expected %d rejected submissions, got %d: %v", expected, len(ids), ids)
	}
}

func listedIDs(t *testing.T, r *CLIResult, key string) []string {
	t.Helper()
	var ids []string
	for _, raw := range r.DataList(key) {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			t.Fatalf("unexpected %s entry %#v\nRaw: %s", key, raw, r.RawJSON)
		}
		item, _ := entry["item"].(map[string]interface{})
		id, _ := item["submission_id"].(string)
		ids = append(ids, id)
	}
	return ids
}

// AssertHasWarning checks that the result contains a warning with the given code.
func (r *CLIResult) AssertHasWarning(t *testing.T, code string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Code == code {
			return
		}
	}
	t.Errorf("expected warning with code %s, got warnings: %+v", code, r.Warnings)
}

// AssertNoWarnings checks that the result has no warnings.
func (r *CLIResult) AssertNoWarnings(t *testing.T) {
	t.Helper()
	if len(r.Warnings) > 0 {
		t.Errorf("expected no warnings, got: %+v", r.Warnings)
	}
}

// AssertResultCount checks that a list in the result has the expected length.
func (r *CLIResult) AssertResultCount(t *testing.T, key string, expected int) {
	t.Helper()
	results := r.DataList(key)
	if len(results) != expected {
		t.Errorf("expected %d %s, got %d\nRaw: %s", expected, key, len(results), r.RawJSON)
	}
}
