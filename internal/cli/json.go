package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aidanlsb/formsync/internal/model"
)

var jsonOutput bool

// stdout receives all command output. Tests swap it.
var (
	stdout   io.Writer = os.Stdout
	outputMu sync.Mutex
)

// Response is the envelope every --json command prints.
type Response struct {
	OK       bool        `json:"ok"`
	Data     interface{} `json:"data,omitempty"`
	Error    *ErrorInfo  `json:"error,omitempty"`
	Warnings []Warning   `json:"warnings,omitempty"`
	Meta     *Meta       `json:"meta,omitempty"`
}

// ErrorInfo is the error half of the envelope.
type ErrorInfo struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
}

// Warning is a non-fatal condition attached to a successful result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	ID      string `json:"id,omitempty"`
}

// Meta carries result counts and timing.
type Meta struct {
	Count     int   `json:"count,omitempty"`
	ElapsedMs int64 `json:"elapsed_ms,omitempty"`
}

// warningsFromConditions converts runtime conditions to envelope warnings.
func warningsFromConditions(conds []model.Condition) []Warning {
	if len(conds) == 0 {
		return nil
	}
	out := make([]Warning, 0, len(conds))
	for _, c := range conds {
		out = append(out, Warning{Code: string(c.Code), Message: c.Message, Field: c.Field})
	}
	return out
}

// commandStart is set before each command runs and feeds meta.elapsed_ms.
var commandStart time.Time

func outputJSON(resp Response) {
	if resp.Meta != nil && !commandStart.IsZero() {
		resp.Meta.ElapsedMs = time.Since(commandStart).Milliseconds()
	}
	outputMu.Lock()
	defer outputMu.Unlock()
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
}

func outputSuccess(data interface{}, meta *Meta) {
	outputSuccessWithWarnings(data, nil, meta)
}

func outputSuccessWithWarnings(data interface{}, warnings []Warning, meta *Meta) {
	outputJSON(Response{OK: true, Data: data, Warnings: warnings, Meta: meta})
}

func outputError(code, message string, details interface{}, suggestion string) {
	outputJSON(Response{Error: &ErrorInfo{
		Code:       code,
		Message:    message,
		Details:    details,
		Suggestion: suggestion,
	}})
}

// isJSONOutput returns true if JSON output is enabled.
func isJSONOutput() bool {
	return jsonOutput
}

// handleError reports err under code. In JSON mode the error goes into the
// envelope and nil is returned so cobra stays quiet; otherwise err is
// returned with the suggestion appended.
func handleError(code string, err error, suggestion string) error {
	return handleErrorWithDetails(code, err, suggestion, nil)
}

func handleErrorMsg(code, message, suggestion string) error {
	return handleError(code, errors.New(message), suggestion)
}

func handleErrorWithDetails(code string, err error, suggestion string, details interface{}) error {
	if jsonOutput {
		outputError(code, err.Error(), details, suggestion)
		return nil
	}
	if suggestion != "" {
		return fmt.Errorf("%w\n\n%s", err, suggestion)
	}
	return err
}

// outf writes text-mode output.
func outf(format string, args ...interface{}) {
	outputMu.Lock()
	defer outputMu.Unlock()
	fmt.Fprintf(stdout, format, args...)
}

// outln writes a text-mode line.
func outln(args ...interface{}) {
	outputMu.Lock()
	defer outputMu.Unlock()
	fmt.Fprintln(stdout, args...)
}
