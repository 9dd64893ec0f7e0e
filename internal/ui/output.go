package ui

import "fmt"

// Status symbols prefixed to one-line messages.
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolInfo    = "ℹ"
	SymbolQueued  = "↻"
)

func mark(symbol, msg string) string {
	return symbol + " " + msg
}

// Success marks a completed action.
func Success(msg string) string {
	return mark(SymbolSuccess, msg)
}

func Error(msg string) string {
	return mark(SymbolError, msg)
}

func Warning(msg string) string {
	return mark(SymbolWarning, msg)
}

func Info(msg string) string {
	return mark(SymbolInfo, msg)
}

// Queued marks a submission saved locally for later delivery.
func Queued(msg string) string {
	return mark(SymbolQueued, msg)
}

func Successf(format string, args ...interface{}) string {
	return Success(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) string {
	return Error(fmt.Sprintf(format, args...))
}

func Warningf(format string, args ...interface{}) string {
	return Warning(fmt.Sprintf(format, args...))
}

// Header renders a section title.
func Header(msg string) string {
	return Bold.Render(msg)
}

// ID renders an identifier in the accent color.
func ID(id string) string {
	return Accent.Render(id)
}

// Hint renders secondary text.
func Hint(msg string) string {
	return Muted.Render(msg)
}

// Count pairs n with the right noun, e.g. "3 entries".
func Count(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
