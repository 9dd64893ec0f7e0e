package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestAssignmentsFlag(t *testing.T) {
	var f assignmentsFlag
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Var(&f, "set", "")

	if err := fs.Parse([]string{"--set", "Title=Fix the roof", "--set", "Note=a=b", "--set", "Hours="}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []fieldAssignment{
		{Label: "Title", Value: "Fix the roof"},
		{Label: "Note", Value: "a=b"},
		{Label: "Hours", Value: ""},
	}
	got := f.Items()
	if len(got) != len(want) {
		t.Fatalf("got %d items, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("item %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if f.String() != "Title=Fix the roof,Note=a=b,Hours=" {
		t.Fatalf("String() = %q", f.String())
	}
}

func TestAssignmentsFlagRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"Title", "=value", "  =x"} {
		var f assignmentsFlag
		if err := f.Set(raw); err == nil {
			t.Fatalf("Set(%q) should fail", raw)
		}
	}
}
