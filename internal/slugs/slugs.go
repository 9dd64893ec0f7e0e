// Package slugs derives the name keys used to match forms by name and to
// name per-form files on disk. Both are built on gosimple/slug.
package slugs

import (
	"strings"

	goslug "github.com/gosimple/slug"
)

// FormKey returns the case- and punctuation-insensitive key of a form name.
// "Project Tasks", "project tasks" and "Project-Tasks" share one key.
func FormKey(name string) string {
	name = strings.TrimSpace(name)
	key := goslug.Make(name)
	if key == "" {
		key = strings.ToLower(strings.Join(strings.Fields(name), "-"))
	}
	return key
}

// FileName returns the schema file name for a form name.
func FileName(name string) string {
	key := FormKey(name)
	if key == "" {
		key = "form"
	}
	return key + ".yaml"
}

// SameForm reports whether two form names refer to the same form.
func SameForm(a, b string) bool {
	return FormKey(a) == FormKey(b)
}
