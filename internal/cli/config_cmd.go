package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/formsync/internal/config"
)

type globalConfigContext struct {
	cfg          *config.Config
	configPath   string
	configExists bool
}

// configSetting is a string setting exposed by `config set` and
// `config unset`.
type configSetting struct {
	flag  string
	key   string
	usage string
	field func(c *config.Config) *string
	check func(value string) error
}

var configSettings = []configSetting{
	{flag: "server-url", key: "server_url", usage: "Form server base url",
		field: func(c *config.Config) *string { return &c.ServerURL }},
	{flag: "auth-token", key: "auth_token", usage: "Bearer token sent to the server",
		field: func(c *config.Config) *string { return &c.AuthToken }},
	{flag: "data-dir", key: "data_dir", usage: "Directory for the queue, lease and audit log",
		field: func(c *config.Config) *string { return &c.DataDir }},
	{flag: "store", key: "store", usage: "Queue store (sqlite|file)",
		field: func(c *config.Config) *string { return &c.Store },
		check: oneOf(config.StoreSQLite, config.StoreFile)},
	{flag: "namespace", key: "namespace", usage: "Queue namespace",
		field: func(c *config.Config) *string { return &c.Namespace }},
	{flag: "connectivity-mode", key: "connectivity.mode", usage: "Connectivity source (static|file|websocket)",
		field: func(c *config.Config) *string { return &c.Connectivity.Mode },
		check: oneOf(config.ConnectivityStatic, config.ConnectivityFile, config.ConnectivityWebSocket)},
	{flag: "connectivity-file", key: "connectivity.file", usage: "Online flag file for file mode",
		field: func(c *config.Config) *string { return &c.Connectivity.File }},
	{flag: "forms-dir", key: "serve.forms_dir", usage: "Local forms directory",
		field: func(c *config.Config) *string { return &c.Serve.FormsDir }},
	{flag: "ui-accent", key: "ui.accent", usage: "UI accent color (ANSI 0-255 or #RRGGBB)",
		field: func(c *config.Config) *string { return &c.UI.Accent }},
	{flag: "ui-code-theme", key: "ui.code_theme", usage: "Markdown code theme name",
		field: func(c *config.Config) *string { return &c.UI.CodeTheme }},
}

var (
	configSetValues   = map[string]*string{}
	configUnsetValues = map[string]*bool{}
)

func oneOf(allowed ...string) func(string) error {
	return func(value string) error {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return nil
			}
		}
		return fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
	}
}

func loadGlobalConfigContextAllowMissing() (*globalConfigContext, error) {
	resolvedPath := config.ResolveConfigPath(configPath)
	_, statErr := os.Stat(resolvedPath)
	if statErr != nil && !os.IsNotExist(statErr) {
		return nil, statErr
	}

	loadedCfg, err := config.LoadFrom(resolvedPath)
	if err != nil {
		return nil, err
	}
	return &globalConfigContext{
		cfg:          loadedCfg,
		configPath:   resolvedPath,
		configExists: statErr == nil,
	}, nil
}

func configData(ctx *globalConfigContext) map[string]interface{} {
	c := ctx.cfg
	return map[string]interface{}{
		"config_path":     ctx.configPath,
		"exists":          ctx.configExists,
		"server_url":      strings.TrimSpace(c.ServerURL),
		"auth_token_set":  strings.TrimSpace(c.AuthToken) != "",
		"data_dir":        c.DataPath(),
		"store":           c.StoreKind(),
		"namespace":       c.QueueNamespace(),
		"request_timeout": c.Timeout().String(),
		"debounce":        c.DebounceWindow().String(),
		"max_attempts":    c.Attempts(),
		"audit":           c.AuditEnabled(),
		"connectivity": map[string]interface{}{
			"mode":          c.ConnectivityMode(),
			"online":        c.StaticOnline(),
			"file":          strings.TrimSpace(c.Connectivity.File),
			"websocket_url": c.WebSocketURL(),
		},
		"serve": map[string]interface{}{
			"addr":      c.ServeAddr(),
			"db":        strings.TrimSpace(c.Serve.DBPath),
			"forms_dir": strings.TrimSpace(c.Serve.FormsDir),
		},
		"ui": map[string]interface{}{
			"accent":     strings.TrimSpace(c.UI.Accent),
			"code_theme": strings.TrimSpace(c.UI.CodeTheme),
		},
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	ctx, err := loadGlobalConfigContextAllowMissing()
	if err != nil {
		return handleError(ErrConfigInvalid, err, "")
	}

	if isJSONOutput() {
		outputSuccess(configData(ctx), nil)
		return nil
	}

	if !ctx.configExists {
		outf("Config file does not exist: %s\n", ctx.configPath)
		outln("Run 'formsync config init' to create it.")
		return nil
	}

	c := ctx.cfg
	outf("config: %s\n", ctx.configPath)
	outf("server_url: %s\n", strings.TrimSpace(c.ServerURL))
	if strings.TrimSpace(c.AuthToken) != "" {
		outln("auth_token: (set)")
	}
	outf("data_dir: %s\n", c.DataPath())
	outf("store: %s\n", c.StoreKind())
	outf("namespace: %s\n", c.QueueNamespace())
	outf("request_timeout: %s\n", c.Timeout())
	outf("debounce: %s\n", c.DebounceWindow())
	outf("max_attempts: %d\n", c.Attempts())
	outf("audit: %t\n", c.AuditEnabled())
	outf("connectivity.mode: %s\n", c.ConnectivityMode())
	if v := strings.TrimSpace(c.Connectivity.File); v != "" {
		outf("connectivity.file: %s\n", v)
	}
	if v := c.WebSocketURL(); v != "" && c.ConnectivityMode() == config.ConnectivityWebSocket {
		outf("connectivity.websocket_url: %s\n", v)
	}
	outf("serve.addr: %s\n", c.ServeAddr())
	if v := strings.TrimSpace(c.UI.Accent); v != "" {
		outf("ui.accent: %s\n", v)
	}
	if v := strings.TrimSpace(c.UI.CodeTheme); v != "" {
		outf("ui.code_theme: %s\n", v)
	}
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage formsync config.toml settings",
	Long: `Manage formsync config.toml settings.

Use this to initialize, inspect, and edit machine-level configuration.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default config.toml if missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		targetPath := config.ResolveConfigPath(configPath)
		_, statErr := os.Stat(targetPath)
		existed := statErr == nil
		if statErr != nil && !os.IsNotExist(statErr) {
			return handleError(ErrFileReadError, statErr, "")
		}

		createdPath, err := config.CreateDefaultAt(targetPath)
		if err != nil {
			return handleError(ErrFileWriteError, err, "")
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{
				"config_path": createdPath,
				"created":     !existed,
			}, nil)
			return nil
		}

		if existed {
			outf("Config already exists: %s\n", createdPath)
		} else {
			outf("Created config: %s\n", createdPath)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set one or more config.toml fields",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := loadGlobalConfigContextAllowMissing()
		if err != nil {
			return handleError(ErrConfigInvalid, err, "")
		}

		changed := make([]string, 0, len(configSettings))
		for _, s := range configSettings {
			if !cmd.Flags().Changed(s.flag) {
				continue
			}
			value := strings.TrimSpace(*configSetValues[s.flag])
			if value == "" {
				return handleErrorMsg(ErrInvalidInput, fmt.Sprintf("%s cannot be empty; use 'formsync config unset --%s' to clear it", s.flag, s.flag), "")
			}
			if s.check != nil {
				if err := s.check(value); err != nil {
					return handleErrorMsg(ErrInvalidInput, fmt.Sprintf("%s %v", s.flag, err), "")
				}
				value = strings.ToLower(value)
			}
			*s.field(ctx.cfg) = value
			changed = append(changed, s.key)
		}

		if len(changed) == 0 {
			return handleErrorMsg(ErrMissingArgument, "no fields provided; pass at least one setting flag (see --help)", "")
		}
		if err := ctx.cfg.Validate(); err != nil {
			return handleError(ErrConfigInvalid, err, "")
		}

		if err := config.SaveTo(ctx.configPath, ctx.cfg); err != nil {
			return handleError(ErrFileWriteError, err, "")
		}

		ctx.configExists = true
		if isJSONOutput() {
			data := configData(ctx)
			data["changed"] = changed
			outputSuccess(data, nil)
			return nil
		}

		outf("Updated config: %s\n", ctx.configPath)
		outf("changed: %s\n", strings.Join(changed, ", "))
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset",
	Short: "Clear one or more config.toml fields",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := loadGlobalConfigContextAllowMissing()
		if err != nil {
			return handleError(ErrConfigInvalid, err, "")
		}
		if !ctx.configExists {
			return handleErrorMsg(ErrFileNotFound, fmt.Sprintf("config file not found: %s", ctx.configPath), "Run 'formsync config init' first")
		}

		changed := make([]string, 0, len(configSettings))
		for _, s := range configSettings {
			if !*configUnsetValues[s.flag] {
				continue
			}
			*s.field(ctx.cfg) = ""
			changed = append(changed, s.key)
		}

		if len(changed) == 0 {
			return handleErrorMsg(ErrMissingArgument, "no fields selected; pass one or more unset flags", "")
		}

		if err := config.SaveTo(ctx.configPath, ctx.cfg); err != nil {
			return handleError(ErrFileWriteError, err, "")
		}

		if isJSONOutput() {
			data := configData(ctx)
			data["changed"] = changed
			outputSuccess(data, nil)
			return nil
		}

		outf("Updated config: %s\n", ctx.configPath)
		outf("cleared: %s\n", strings.Join(changed, ", "))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current config.toml values",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})

	for _, s := range configSettings {
		configSetValues[s.flag] = configSetCmd.Flags().String(s.flag, "", "Set "+s.usage)
		configUnsetValues[s.flag] = configUnsetCmd.Flags().Bool(s.flag, false, "Clear "+s.key)
	}

	rootCmd.AddCommand(configCmd)
}
