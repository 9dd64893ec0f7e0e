package cli

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestOutputSuccessFillsElapsed(t *testing.T) {
	prev := commandStart
	t.Cleanup(func() { commandStart = prev })
	commandStart = time.Now().Add(-1500 * time.Millisecond)

	out := captureStdout(t, func() {
		outputSuccess(map[string]interface{}{"n": 1}, &Meta{Count: 1})
	})

	var resp Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("parse %q: %v", out, err)
	}
	if !resp.OK || resp.Meta == nil {
		t.Fatalf("unexpected envelope: %s", out)
	}
	if resp.Meta.Count != 1 || resp.Meta.ElapsedMs < 1500 {
		t.Fatalf("meta = %+v, want count 1 and elapsed >= 1500ms", resp.Meta)
	}
}

func TestHandleErrorTextModeAppendsSuggestion(t *testing.T) {
	prev := jsonOutput
	t.Cleanup(func() { jsonOutput = prev })
	jsonOutput = false

	base := errors.New("form not found")
	err := handleError(ErrFormNotFound, base, "Run 'formsync forms list'")
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if !strings.HasSuffix(err.Error(), "\n\nRun 'formsync forms list'") {
		t.Fatalf("suggestion missing: %q", err.Error())
	}
	if got := handleErrorMsg(ErrInvalidInput, "bad", ""); got == nil || got.Error() != "bad" {
		t.Fatalf("handleErrorMsg = %v", got)
	}
}
