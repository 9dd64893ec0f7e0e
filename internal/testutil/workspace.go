// Package testutil provides reusable test utilities for formsync tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Workspace is a temporary formsync home: a config file, a data directory
// and a local forms directory.
type Workspace struct {
	Path       string
	ConfigPath string
	DataDir    string
	FormsDir   string

	t         *testing.T
	serverURL string
	store     string
	online    *bool
	extra     []string
	forms     map[string]string
}

// NewWorkspace creates a new test workspace builder.
// Call Build() to create the directories and config.
func NewWorkspace(t *testing.T) *Workspace {
	t.Helper()
	return &Workspace{
		t:     t,
		forms: make(map[string]string),
	}
}

// WithServer points the workspace at a form server.
func (w *Workspace) WithServer(url string) *Workspace {
	w.serverURL = url
	return w
}

// WithStore selects the queue backend (sqlite or file).
func (w *Workspace) WithStore(kind string) *Workspace {
	w.store = kind
	return w
}

// WithOnline fixes the static connectivity state.
func (w *Workspace) WithOnline(online bool) *Workspace {
	w.online = &online
	return w
}

// WithConfigLine appends a raw top-level TOML line to config.toml.
func (w *Workspace) WithConfigLine(line string) *Workspace {
	w.extra = append(w.extra, line)
	return w
}

// WithForm adds a form YAML file to the local forms directory.
func (w *Workspace) WithForm(fileName, yaml string) *Workspace {
	w.forms[fileName] = yaml
	return w
}

// Build creates the workspace directories and writes config.toml.
func (w *Workspace) Build() *Workspace {
	w.t.Helper()

	w.Path = w.t.TempDir()
	w.ConfigPath = filepath.Join(w.Path, "config.toml")
	w.DataDir = filepath.Join(w.Path, "data")
	w.FormsDir = filepath.Join(w.Path, "forms")

	for name, content := range w.forms {
		w.writeFile(filepath.Join("forms", name), content)
	}
	w.writeFile("config.toml", w.config())
	return w
}

func (w *Workspace) config() string {
	var b strings.Builder
	if w.serverURL != "" {
		fmt.Fprintf(&b, "server_url = %q\n", w.serverURL)
	}
	fmt.Fprintf(&b, "data_dir = %q\n", w.DataDir)
	if w.store != "" {
		fmt.Fprintf(&b, "store = %q\n", w.store)
	}
	b.WriteString("debounce = \"0s\"\n")
	b.WriteString("request_timeout = \"2s\"\n")
	for _, line := range w.extra {
		b.WriteString(line + "\n")
	}

	b.WriteString("\n[connectivity]\nmode = \"static\"\n")
	online := true
	if w.online != nil {
		online = *w.online
	}
	fmt.Fprintf(&b, "online = %t\n", online)

	fmt.Fprintf(&b, "\n[serve]\nforms_dir = %q\n", w.FormsDir)
	return b.String()
}

// writeFile writes a file in the workspace, creating directories as needed.
func (w *Workspace) writeFile(relPath, content string) {
	w.t.Helper()
	fullPath := filepath.Join(w.Path, relPath)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		w.t.Fatalf("failed to create directory %s: %v", dir, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		w.t.Fatalf("failed to write file %s: %v", fullPath, err)
	}
}

// ReadFile reads a file from the workspace.
func (w *Workspace) ReadFile(relPath string) string {
	w.t.Helper()
	fullPath := filepath.Join(w.Path, relPath)
	content, err := os.ReadFile(fullPath)
	if err != nil {
		w.t.Fatalf("failed to read file %s: %v", fullPath, err)
	}
	return string(content)
}

// FileExists checks if a file exists in the workspace.
func (w *Workspace) FileExists(relPath string) bool {
	w.t.Helper()
	_, err := os.Stat(filepath.Join(w.Path, relPath))
	return err == nil
}

// FormFiles lists the form files in the local forms directory.
func (w *Workspace) FormFiles() []string {
	w.t.Helper()
	entries, err := os.ReadDir(w.FormsDir)
	if err != nil && !os.IsNotExist(err) {
		w.t.Fatalf("failed to list forms: %v", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// EmployeesForm is a form keyed by badge number.
func EmployeesForm() string {
	return `id: f-emp
name: Employees
fields:
  - label: Badge
    type: text
    required: true
    is_primary_key: true
  - label: Dept
    type: text
`
}

// TasksForm is a form with a reference to Employees.
func TasksForm() string {
	return `id: f-tasks
name: Tasks
fields:
  - label: Title
    type: text
    required: true
  - label: Hours
    type: number
  - label: Owner
    type: reference
    form_name: Employees
`
}
