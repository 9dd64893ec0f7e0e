package dates

import (
	"testing"
	"time"
)

func TestIsKeyword(t *testing.T) {
	if !IsKeyword(" today ") {
		t.Fatalf("expected today to be a keyword")
	}
	if IsKeyword("this-week") {
		t.Fatalf("expected this-week to be rejected")
	}
}

func TestResolveKeyword(t *testing.T) {
	now := time.Date(2026, time.March, 4, 14, 30, 0, 0, time.UTC)

	for keyword, want := range map[string]string{
		"today":     "2026-03-04",
		"tomorrow":  "2026-03-05",
		"yesterday": "2026-03-03",
	} {
		got, ok := ResolveKeyword(keyword, now)
		if !ok {
			t.Fatalf("expected %s to resolve", keyword)
		}
		if got.Format(dateLayout) != want || got.Hour() != 0 {
			t.Fatalf("%s resolved to %v, want start of %s", keyword, got, want)
		}
	}

	if _, ok := ResolveKeyword("next-friday", now); ok {
		t.Fatalf("expected next-friday to be unresolved")
	}
}
