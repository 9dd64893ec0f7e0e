package dates

import (
	"strings"
	"time"
)

var dayOffsets = map[string]int{
	"today":     0,
	"tomorrow":  1,
	"yesterday": -1,
}

// IsKeyword reports whether value is a supported relative day keyword.
func IsKeyword(value string) bool {
	_, ok := dayOffsets[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

// ResolveKeyword resolves today, yesterday or tomorrow to the start of that
// day in now's location.
func ResolveKeyword(value string, now time.Time) (time.Time, bool) {
	offset, ok := dayOffsets[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return time.Time{}, false
	}
	return startOfDay(now).AddDate(0, 0, offset), true
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
