package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/aidanlsb/formsync/internal/atomicfile"
)

type persistedConfig struct {
	ServerURL      *string                `toml:"server_url,omitempty"`
	AuthToken      *string                `toml:"auth_token,omitempty"`
	DataDir        *string                `toml:"data_dir,omitempty"`
	Store          *string                `toml:"store,omitempty"`
	Namespace      *string                `toml:"namespace,omitempty"`
	RequestTimeout *Duration              `toml:"request_timeout,omitempty"`
	Debounce       *Duration              `toml:"debounce,omitempty"`
	MaxAttempts    *int                   `toml:"max_attempts,omitempty"`
	Audit          *bool                  `toml:"audit,omitempty"`
	Debug          *bool                  `toml:"debug,omitempty"`
	Connectivity   *persistedConnectivity `toml:"connectivity,omitempty"`
	Serve          *persistedServe        `toml:"serve,omitempty"`
	UI             *persistedUISettings   `toml:"ui,omitempty"`
}

type persistedConnectivity struct {
	Mode         *string `toml:"mode,omitempty"`
	Online       *bool   `toml:"online,omitempty"`
	File         *string `toml:"file,omitempty"`
	WebSocketURL *string `toml:"websocket_url,omitempty"`
}

type persistedServe struct {
	Addr     *string `toml:"addr,omitempty"`
	DBPath   *string `toml:"db,omitempty"`
	FormsDir *string `toml:"forms_dir,omitempty"`
	Token    *string `toml:"token,omitempty"`
}

type persistedUISettings struct {
	Accent    *string `toml:"accent,omitempty"`
	CodeTheme *string `toml:"code_theme,omitempty"`
}

func nonEmptyPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// SaveTo writes the config to a specific path atomically. Unset values are
// omitted so defaults keep applying.
func SaveTo(path string, cfg *Config) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}

	out := persistedConfig{
		ServerURL: nonEmptyPtr(cfg.ServerURL),
		AuthToken: nonEmptyPtr(cfg.AuthToken),
		DataDir:   nonEmptyPtr(cfg.DataDir),
		Store:     nonEmptyPtr(cfg.Store),
		Namespace: nonEmptyPtr(cfg.Namespace),
		Debounce:  cfg.Debounce,
		Audit:     cfg.Audit,
	}
	if cfg.RequestTimeout.Duration > 0 {
		d := cfg.RequestTimeout
		out.RequestTimeout = &d
	}
	if cfg.MaxAttempts > 0 {
		n := cfg.MaxAttempts
		out.MaxAttempts = &n
	}
	if cfg.Debug {
		debug := true
		out.Debug = &debug
	}

	conn := persistedConnectivity{
		Mode:         nonEmptyPtr(cfg.Connectivity.Mode),
		Online:       cfg.Connectivity.Online,
		File:         nonEmptyPtr(cfg.Connectivity.File),
		WebSocketURL: nonEmptyPtr(cfg.Connectivity.WebSocketURL),
	}
	if conn != (persistedConnectivity{}) {
		out.Connectivity = &conn
	}

	serve := persistedServe{
		Addr:     nonEmptyPtr(cfg.Serve.Addr),
		DBPath:   nonEmptyPtr(cfg.Serve.DBPath),
		FormsDir: nonEmptyPtr(cfg.Serve.FormsDir),
		Token:    nonEmptyPtr(cfg.Serve.Token),
	}
	if serve != (persistedServe{}) {
		out.Serve = &serve
	}

	accent := nonEmptyPtr(cfg.UI.Accent)
	codeTheme := nonEmptyPtr(cfg.UI.CodeTheme)
	if accent != nil || codeTheme != nil {
		out.UI = &persistedUISettings{
			Accent:    accent,
			CodeTheme: codeTheme,
		}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(out); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := atomicfile.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}

	return nil
}
