// Package dates provides canonical date parsing shared by field validation
// and CLI time filters.
package dates

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var dateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// IsValidDate checks if a string is a valid YYYY-MM-DD date.
func IsValidDate(s string) bool {
	if !dateRegex.MatchString(s) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if !IsValidDate(s) {
		return time.Time{}, fmt.Errorf("invalid date: %q", s)
	}
	return time.Parse(dateLayout, s)
}

// ParseDatetime parses RFC3339, YYYY-MM-DDTHH:MM or YYYY-MM-DDTHH:MM:SS.
func ParseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("invalid datetime: empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04",
		"2006-01-02T15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime: %q", s)
}

// ParseSince parses a CLI lower time bound. It accepts a duration back from
// now ("90m", "2h"), a relative day keyword, a YYYY-MM-DD date (local
// midnight) or a datetime.
func ParseSince(arg string, now time.Time) (time.Time, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return time.Time{}, fmt.Errorf("invalid time: empty")
	}
	if d, err := time.ParseDuration(arg); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("invalid time %q: negative duration", arg)
		}
		return now.Add(-d), nil
	}
	if day, ok := ResolveKeyword(arg, now); ok {
		return day, nil
	}
	if IsValidDate(arg) {
		return time.ParseInLocation(dateLayout, arg, now.Location())
	}
	if t, err := ParseDatetime(arg); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q, use a duration (2h), YYYY-MM-DD, a datetime or today/yesterday", arg)
}
