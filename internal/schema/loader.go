package schema

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aidanlsb/formsync/internal/atomicfile"
	"github.com/aidanlsb/formsync/internal/slugs"
)

// ErrMultiplePrimaryKeys is returned by Save when a form marks more than one
// field as primary key.
var ErrMultiplePrimaryKeys = errors.New("form has more than one primary key field")

// FileStore keeps one YAML file per form in a directory. It is used for local
// schema caches and for seeding the reference server.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

// PathFor returns the file path used for a form name.
func (s *FileStore) PathFor(name string) string {
	return filepath.Join(s.dir, slugs.FileName(name))
}

// LoadFile parses a single form file.
func LoadFile(path string) (*Form, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read form file %s: %w", path, err)
	}

	var form Form
	if err := yaml.Unmarshal(data, &form); err != nil {
		return nil, fmt.Errorf("failed to parse form file %s: %w", path, err)
	}
	form.Normalize()
	return &form, nil
}

// List loads every form in the directory, ordered by name.
// A missing directory is an empty store.
func (s *FileStore) List() ([]*Form, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read forms directory: %w", err)
	}

	var forms []*Form
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		form, err := LoadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		forms = append(forms, form)
	}

	sort.Slice(forms, func(i, j int) bool { return forms[i].Name < forms[j].Name })
	return forms, nil
}

// GetForm implements Store.
func (s *FileStore) GetForm(_ context.Context, formID string) (*Form, error) {
	forms, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, form := range forms {
		if form.ID == formID {
			return form, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFormNotFound, formID)
}

// GetFields implements Store.
func (s *FileStore) GetFields(ctx context.Context, formID string) ([]Field, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	return form.Fields, nil
}

// FindByName returns the form with the given name.
func (s *FileStore) FindByName(name string) (*Form, error) {
	forms, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, form := range forms {
		if slugs.SameForm(form.Name, name) {
			return form, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFormNotFound, name)
}

// Save validates and writes a form. Saving is where the single primary key
// rule is enforced; reads stay permissive.
func (s *FileStore) Save(form *Form) error {
	form.Normalize()
	if countPrimaryKeys(form) > 1 {
		return fmt.Errorf("%w: %s", ErrMultiplePrimaryKeys, form.Name)
	}
	if issues := form.Issues(); len(issues) > 0 {
		return fmt.Errorf("invalid form %q: %w", form.Name, issues[0])
	}

	data, err := yaml.Marshal(form)
	if err != nil {
		return fmt.Errorf("failed to marshal form: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create forms directory: %w", err)
	}
	if err := atomicfile.WriteFile(s.PathFor(form.Name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write form %q: %w", form.Name, err)
	}
	return nil
}

func countPrimaryKeys(form *Form) int {
	n := 0
	for _, field := range form.Fields {
		if field.IsPrimaryKey {
			n++
		}
	}
	return n
}
