package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{}

	if cfg.StoreKind() != StoreSQLite {
		t.Errorf("store = %q, want sqlite", cfg.StoreKind())
	}
	if cfg.QueueNamespace() != DefaultNamespace {
		t.Errorf("namespace = %q", cfg.QueueNamespace())
	}
	if cfg.Timeout() != DefaultRequestTimeout {
		t.Errorf("timeout = %v", cfg.Timeout())
	}
	if cfg.DebounceWindow() != DefaultDebounce {
		t.Errorf("debounce = %v", cfg.DebounceWindow())
	}
	if cfg.Attempts() != DefaultMaxAttempts {
		t.Errorf("max attempts = %d", cfg.Attempts())
	}
	if !cfg.AuditEnabled() {
		t.Error("audit should default to enabled")
	}
	if cfg.ConnectivityMode() != ConnectivityStatic || !cfg.StaticOnline() {
		t.Errorf("connectivity = %s online=%v", cfg.ConnectivityMode(), cfg.StaticOnline())
	}
	if cfg.ServeAddr() != DefaultServeAddr {
		t.Errorf("serve addr = %q", cfg.ServeAddr())
	}
	if cfg.DataPath() == "" {
		t.Error("data path should never be empty")
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"derived from http", Config{ServerURL: "http://127.0.0.1:8787/"}, "ws://127.0.0.1:8787/connectivity"},
		{"derived from https", Config{ServerURL: "https://forms.example.com"}, "wss://forms.example.com/connectivity"},
		{"explicit wins", Config{ServerURL: "http://a", Connectivity: ConnectivityConfig{WebSocketURL: "ws://b/push"}}, "ws://b/push"},
		{"no server", Config{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.WebSocketURL(); got != tt.want {
				t.Errorf("WebSocketURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"defaults", Config{}, ""},
		{"bad store", Config{Store: "redis"}, "unknown store"},
		{"bad mode", Config{Connectivity: ConnectivityConfig{Mode: "radio"}}, "unknown connectivity mode"},
		{"websocket without url", Config{Connectivity: ConnectivityConfig{Mode: "websocket"}}, "websocket"},
		{"websocket from server", Config{ServerURL: "http://x", Connectivity: ConnectivityConfig{Mode: "websocket"}}, ""},
		{"negative attempts", Config{MaxAttempts: -1}, "max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFrom(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `server_url = "http://127.0.0.1:9000"
auth_token = "tok"
data_dir = "/var/lib/formsync"
store = "file"
request_timeout = "2s"
debounce = "250ms"
max_attempts = 4
audit = false

[connectivity]
mode = "websocket"

[serve]
addr = ":9000"
forms_dir = "forms"

[ui]
accent = "39"
code_theme = "dracula"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerURL != "http://127.0.0.1:9000" || cfg.AuthToken != "tok" {
		t.Errorf("server = %q token = %q", cfg.ServerURL, cfg.AuthToken)
	}
	if cfg.DataPath() != "/var/lib/formsync" {
		t.Errorf("data dir = %q", cfg.DataPath())
	}
	if cfg.StoreKind() != StoreFile {
		t.Errorf("store = %q", cfg.StoreKind())
	}
	if cfg.Timeout() != 2*time.Second || cfg.DebounceWindow() != 250*time.Millisecond {
		t.Errorf("timeout = %v debounce = %v", cfg.Timeout(), cfg.DebounceWindow())
	}
	if cfg.Attempts() != 4 || cfg.AuditEnabled() {
		t.Errorf("attempts = %d audit = %v", cfg.Attempts(), cfg.AuditEnabled())
	}
	if cfg.WebSocketURL() != "ws://127.0.0.1:9000/connectivity" {
		t.Errorf("websocket url = %q", cfg.WebSocketURL())
	}
	if cfg.ServeAddr() != ":9000" || cfg.Serve.FormsDir != "forms" {
		t.Errorf("serve = %+v", cfg.Serve)
	}
	if cfg.UI.Accent != "39" || cfg.UI.CodeTheme != "dracula" {
		t.Errorf("ui = %+v", cfg.UI)
	}
}

func TestLoadFromInvalid(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("syntax", func(t *testing.T) {
		path := filepath.Join(tmpDir, "bad.toml")
		if err := os.WriteFile(path, []byte(`this is not valid toml {{{{`), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := LoadFrom(path); err == nil {
			t.Error("expected error for invalid TOML")
		}
	})

	t.Run("duration", func(t *testing.T) {
		path := filepath.Join(tmpDir, "duration.toml")
		if err := os.WriteFile(path, []byte(`request_timeout = "soon"`), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := LoadFrom(path); err == nil {
			t.Error("expected error for invalid duration")
		}
	})

	t.Run("store", func(t *testing.T) {
		path := filepath.Join(tmpDir, "store.toml")
		if err := os.WriteFile(path, []byte(`store = "redis"`), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := LoadFrom(path); err == nil {
			t.Error("expected error for unknown store")
		}
	})
}

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
}

func TestCreateDefaultAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	got, err := CreateDefaultAt(path)
	if err != nil {
		t.Fatalf("CreateDefaultAt: %v", err)
	}
	if got != path {
		t.Errorf("path = %q", got)
	}

	// The commented template must parse to the defaults.
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom default: %v", err)
	}
	if cfg.StoreKind() != StoreSQLite {
		t.Errorf("store = %q", cfg.StoreKind())
	}

	if err := os.WriteFile(path, []byte(`store = "file"`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateDefaultAt(path); err != nil {
		t.Fatalf("second CreateDefaultAt: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != `store = "file"` {
		t.Error("existing config must not be overwritten")
	}
}
