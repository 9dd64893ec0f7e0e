package schema

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const employeesYAML = `id: "1"
name: Employees
owner_project_id: p1
fields:
  - label: Employee ID
    type: text
    required: true
    is_primary_key: true
    order: 1
  - label: Manager
    type: form reference
    form_name: Employees
    order: 3
  - label: Name
    type: text
    order: 2
`

func TestFileStoreLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "employees.yaml"), []byte(employeesYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewFileStore(dir)

	form, err := store.GetForm(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetForm: %v", err)
	}
	labels := form.Labels()
	if len(labels) != 3 || labels[0] != "Employee ID" || labels[1] != "Name" || labels[2] != "Manager" {
		t.Errorf("labels = %v", labels)
	}
	if target, ok := form.Fields[2].Reference(); !ok || target != "Employees" {
		t.Errorf("manager reference = %q, %v", target, ok)
	}

	if _, err := store.GetForm(context.Background(), "missing"); !errors.Is(err, ErrFormNotFound) {
		t.Errorf("expected ErrFormNotFound, got %v", err)
	}
}

func TestFileStoreSaveRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "forms"))
	form := &Form{
		ID:   "7",
		Name: "Project Tasks",
		Fields: []Field{
			{Label: "Task", Type: FieldTypeText, IsPrimaryKey: true, Order: 1},
			{Label: "Done", Type: FieldTypeBoolean, Order: 2},
		},
	}
	if err := store.Save(form); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "project-tasks.yaml")); err != nil {
		t.Fatalf("expected slugged file name: %v", err)
	}

	loaded, err := store.FindByName("Project Tasks")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if len(loaded.Fields) != 2 || loaded.Fields[1].Type != FieldTypeBoolean {
		t.Errorf("round trip lost fields: %+v", loaded.Fields)
	}
}

func TestFileStoreSaveRejectsMultiplePrimaryKeys(t *testing.T) {
	store := NewFileStore(t.TempDir())
	form := &Form{
		ID:   "2",
		Name: "Bad",
		Fields: []Field{
			{Label: "a", Type: FieldTypeText, IsPrimaryKey: true},
			{Label: "b", Type: FieldTypeText, IsPrimaryKey: true},
		},
	}
	if err := store.Save(form); !errors.Is(err, ErrMultiplePrimaryKeys) {
		t.Errorf("expected ErrMultiplePrimaryKeys, got %v", err)
	}
}
