// Package config handles formsync configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"

	ConnectivityStatic    = "static"
	ConnectivityFile      = "file"
	ConnectivityWebSocket = "websocket"

	DefaultNamespace      = "pendingFormSubmissions"
	DefaultRequestTimeout = 10 * time.Second
	DefaultDebounce       = 500 * time.Millisecond
	DefaultMaxAttempts    = 10
	DefaultServeAddr      = "127.0.0.1:8787"
)

// Config represents the formsync configuration.
type Config struct {
	// ServerURL is the base url of the form server.
	ServerURL string `toml:"server_url"`

	// AuthToken is sent as a bearer token. It is opaque to formsync.
	AuthToken string `toml:"auth_token"`

	// DataDir holds the queue, the drain lease and the audit log.
	// Defaults to the OS data directory.
	DataDir string `toml:"data_dir"`

	// Store selects the durable queue backend: sqlite or file.
	Store string `toml:"store"`

	// Namespace is the queue key inside the store.
	Namespace string `toml:"namespace"`

	RequestTimeout Duration `toml:"request_timeout"`

	// Debounce is the quiet period after reconnecting before a drain.
	// An explicit "0s" drains immediately.
	Debounce *Duration `toml:"debounce"`

	// MaxAttempts is the advisory attempt count after which an entry is
	// reported as stuck.
	MaxAttempts int `toml:"max_attempts"`

	// Audit enables the JSONL audit log. Defaults to true.
	Audit *bool `toml:"audit"`

	Debug bool `toml:"debug"`

	Connectivity ConnectivityConfig `toml:"connectivity"`
	Serve        ServeConfig        `toml:"serve"`
	UI           UIConfig           `toml:"ui"`
}

// ConnectivityConfig selects where online/offline comes from.
type ConnectivityConfig struct {
	// Mode is static, file or websocket.
	Mode string `toml:"mode"`

	// Online is the state reported in static mode. Defaults to true.
	Online *bool `toml:"online"`

	// File is the flag file watched in file mode.
	File string `toml:"file"`

	// WebSocketURL is the push endpoint in websocket mode. Defaults to the
	// server's /connectivity endpoint.
	WebSocketURL string `toml:"websocket_url"`
}

// ServeConfig configures `formsync serve`.
type ServeConfig struct {
	Addr     string `toml:"addr"`
	DBPath   string `toml:"db"`
	FormsDir string `toml:"forms_dir"`
	Token    string `toml:"token"`
}

// UIConfig represents optional CLI theming preferences.
type UIConfig struct {
	// Accent is an optional accent color for CLI output and markdown rendering.
	// Supported values are ANSI color codes ("0" to "255") or hex colors ("#RRGGBB").
	Accent string `toml:"accent"`

	// CodeTheme sets the Glamour/Chroma theme used for rendered markdown code blocks.
	CodeTheme string `toml:"code_theme"`
}

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration %q must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	switch c.StoreKind() {
	case StoreSQLite, StoreFile:
	default:
		return fmt.Errorf("unknown store %q (expected %s or %s)", c.Store, StoreSQLite, StoreFile)
	}
	switch c.ConnectivityMode() {
	case ConnectivityStatic, ConnectivityFile:
	case ConnectivityWebSocket:
		if c.WebSocketURL() == "" {
			return fmt.Errorf("websocket connectivity needs connectivity.websocket_url or server_url")
		}
	default:
		return fmt.Errorf("unknown connectivity mode %q", c.Connectivity.Mode)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	return nil
}

// StoreKind returns the queue backend, defaulting to sqlite.
func (c *Config) StoreKind() string {
	if s := strings.ToLower(strings.TrimSpace(c.Store)); s != "" {
		return s
	}
	return StoreSQLite
}

// QueueNamespace returns the queue namespace.
func (c *Config) QueueNamespace() string {
	if ns := strings.TrimSpace(c.Namespace); ns != "" {
		return ns
	}
	return DefaultNamespace
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	if c.RequestTimeout.Duration > 0 {
		return c.RequestTimeout.Duration
	}
	return DefaultRequestTimeout
}

// DebounceWindow returns the reconnect quiet period.
func (c *Config) DebounceWindow() time.Duration {
	if c.Debounce != nil {
		return c.Debounce.Duration
	}
	return DefaultDebounce
}

// Attempts returns the advisory stuck threshold.
func (c *Config) Attempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return DefaultMaxAttempts
}

// AuditEnabled reports whether the audit log is written.
func (c *Config) AuditEnabled() bool {
	return c.Audit == nil || *c.Audit
}

// ConnectivityMode returns the connectivity source, defaulting to static.
func (c *Config) ConnectivityMode() string {
	if m := strings.ToLower(strings.TrimSpace(c.Connectivity.Mode)); m != "" {
		return m
	}
	return ConnectivityStatic
}

// StaticOnline is the state reported in static mode.
func (c *Config) StaticOnline() bool {
	return c.Connectivity.Online == nil || *c.Connectivity.Online
}

// WebSocketURL returns the connectivity push url, derived from the server
// url when not set.
func (c *Config) WebSocketURL() string {
	if u := strings.TrimSpace(c.Connectivity.WebSocketURL); u != "" {
		return u
	}
	base := strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/connectivity"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/connectivity"
	}
	return ""
}

// DataPath returns the data directory.
func (c *Config) DataPath() string {
	if d := strings.TrimSpace(c.DataDir); d != "" {
		return expandHome(d)
	}
	return DefaultDataDir()
}

// ServeAddr returns the listen address of `formsync serve`.
func (c *Config) ServeAddr() string {
	if a := strings.TrimSpace(c.Serve.Addr); a != "" {
		return a
	}
	return DefaultServeAddr
}

// Load loads the configuration from the default location.
// Returns a default config if the file doesn't exist.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom loads the configuration from a specific path. A missing file
// yields the defaults.
func LoadFrom(path string) (*Config, error) {
	var config Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &config, nil
	}
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &config, nil
}

// ResolveConfigPath resolves the effective config path from an optional override.
func ResolveConfigPath(explicitConfigPath string) string {
	if strings.TrimSpace(explicitConfigPath) != "" {
		return explicitConfigPath
	}
	return DefaultPath()
}

// DefaultPath returns the default config file path.
// Checks ~/.config/formsync/config.toml first (XDG style),
// then falls back to OS-specific location.
func DefaultPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		xdgPath := filepath.Join(home, ".config", "formsync", "config.toml")
		if _, err := os.Stat(xdgPath); err == nil {
			return xdgPath
		}
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "formsync", "config.toml")
	}

	return filepath.Join(".", "config.toml")
}

// DefaultDataDir returns ~/.local/share/formsync, or a directory under the
// OS cache dir when the home directory is unknown.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "formsync")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "formsync")
	}
	if cache, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cache, "formsync")
	}
	return filepath.Join(".", ".formsync")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

const defaultConfig = `# formsync configuration

# Base url of the form server.
# server_url = "http://127.0.0.1:8787"

# Opaque bearer token sent with every request.
# auth_token = ""

# Where the queue, drain lease and audit log live.
# data_dir = "~/.local/share/formsync"

# Durable queue backend:
#   sqlite - single database file (default)
#   file   - JSON file rewritten atomically; one process at a time
# store = "sqlite"
# namespace = "pendingFormSubmissions"

# Per-request timeout and reconnect quiet period.
# request_timeout = "10s"
# debounce = "500ms"

# Entries that failed this many times are reported as stuck (still retried).
# max_attempts = 10

# Append queue events to <data_dir>/audit.log.
# audit = true

# Where online/offline comes from:
#   static    - fixed, see "online"
#   file      - online while "file" exists and does not read "offline"
#   websocket - pushed by the server's /connectivity endpoint
# [connectivity]
# mode = "static"
# online = true
# file = "/tmp/formsync.online"
# websocket_url = "ws://127.0.0.1:8787/connectivity"

# Local reference server (formsync serve).
# [serve]
# addr = "127.0.0.1:8787"
# db = "~/.local/share/formsync/server.db"
# forms_dir = "./forms"

# [ui]
# accent = "39"
# code_theme = "monokai"
`

// CreateDefault creates a default config file if it doesn't exist.
func CreateDefault() (string, error) {
	return CreateDefaultAt(DefaultPath())
}

// CreateDefaultAt creates a default config file at path if it doesn't exist.
func CreateDefaultAt(configPath string) (string, error) {
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return configPath, nil
}
