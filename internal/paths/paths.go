// Package paths lays out the files formsync keeps in its data directory:
// - the queue store ("queue.db", or "queue/" for the file store)
// - the drain lease ("drain.lock")
// - the connectivity flag file ("online")
// - the dev server database and forms ("server.db", "forms/")
//
// The audit log and state file names are owned by their packages but live
// in the same root.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	QueueDBName    = "queue.db"
	QueueDirName   = "queue"
	LeaseName      = "drain.lock"
	OnlineFlagName = "online"
	ServerDBName   = "server.db"
	FormsDirName   = "forms"
)

// Layout is a data directory.
type Layout struct {
	Root string
}

// New returns the layout rooted at root.
func New(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// QueueDB is the SQLite queue store.
func (l Layout) QueueDB() string { return filepath.Join(l.Root, QueueDBName) }

// QueueDir is the JSON file queue store directory.
func (l Layout) QueueDir() string { return filepath.Join(l.Root, QueueDirName) }

// Lease is the cross-process drain lease file.
func (l Layout) Lease() string { return filepath.Join(l.Root, LeaseName) }

// OnlineFlag is the default flag file for file connectivity mode.
func (l Layout) OnlineFlag() string { return filepath.Join(l.Root, OnlineFlagName) }

// ServerDB is the default dev server database.
func (l Layout) ServerDB() string { return filepath.Join(l.Root, ServerDBName) }

// FormsDir is the default directory of form YAML files.
func (l Layout) FormsDir() string { return filepath.Join(l.Root, FormsDirName) }

// Resolve maps a configured path onto the layout:
// - ""            -> fallback
// - absolute path -> unchanged
// - relative path -> joined onto Root
func (l Layout) Resolve(p, fallback string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return fallback
	}
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(l.Root, p)
}

// Ensure creates the data directory.
func (l Layout) Ensure() error {
	if l.Root == "" || l.Root == "." {
		return fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}
