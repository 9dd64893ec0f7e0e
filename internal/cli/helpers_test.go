package cli

import (
	"bytes"
	"testing"

	"github.com/aidanlsb/formsync/internal/config"
)

// captureStdout runs fn with command output redirected to a buffer.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })

	fn()
	stdout = prev
	return buf.String()
}

// useConfig installs cfg as the loaded config for the duration of a test.
func useConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prevCfg, prevJSON := cfg, jsonOutput
	t.Cleanup(func() {
		cfg = prevCfg
		jsonOutput = prevJSON
	})
	cfg = c
}
