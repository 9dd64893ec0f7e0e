package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// fieldAssignment is one `--set label=value` pair.
type fieldAssignment struct {
	Label string
	Value string
}

// assignmentsFlag is a repeatable label=value flag. Order is kept so that
// later assignments of the same label win.
type assignmentsFlag struct {
	items []fieldAssignment
}

var _ pflag.Value = (*assignmentsFlag)(nil)

func (f *assignmentsFlag) String() string {
	parts := make([]string, 0, len(f.items))
	for _, a := range f.items {
		parts = append(parts, a.Label+"="+a.Value)
	}
	return strings.Join(parts, ",")
}

func (f *assignmentsFlag) Set(raw string) error {
	label, value, ok := strings.Cut(raw, "=")
	label = strings.TrimSpace(label)
	if !ok || label == "" {
		return fmt.Errorf("expected label=value, got %q", raw)
	}
	f.items = append(f.items, fieldAssignment{Label: label, Value: value})
	return nil
}

func (f *assignmentsFlag) Type() string { return "label=value" }

// Items returns the assignments in flag order.
func (f *assignmentsFlag) Items() []fieldAssignment {
	return f.items
}

// Reset clears the flag between test runs.
func (f *assignmentsFlag) Reset() {
	f.items = nil
}
