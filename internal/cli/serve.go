package cli

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aidanlsb/formsync/internal/connectivity"
	"github.com/aidanlsb/formsync/internal/devserver"
	"github.com/aidanlsb/formsync/internal/schema"
	"github.com/aidanlsb/formsync/internal/ui"
)

var (
	serveAddr       string
	serveDB         string
	serveForms      string
	serveToken      string
	serveOffline    bool
	serveOnlineFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local form server",
	Long: `Run a local form server implementing the form directory, the submission
sink and the submission lookup, backed by SQLite.

Forms are seeded from the forms directory (one YAML file per form) on
startup. The server can be taken offline to exercise the queue: with
--online-file it follows a flag file ("1"/"online" means online) and
pushes every change to /connectivity clients.

Examples:
  formsync serve
  formsync serve --addr 127.0.0.1:9000 --forms ./forms
  formsync serve --online-file /tmp/formsync-online`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		layout := layoutFor(cfg)
		if err := layout.Ensure(); err != nil {
			return handleError(ErrFileWriteError, err, "")
		}

		addr := cfg.ServeAddr()
		if cmd.Flags().Changed("addr") {
			addr = serveAddr
		}
		dbPath := layout.Resolve(firstNonEmpty(serveDB, cfg.Serve.DBPath), layout.ServerDB())
		formsDir := layout.Resolve(firstNonEmpty(serveForms, cfg.Serve.FormsDir), layout.FormsDir())
		token := firstNonEmpty(serveToken, cfg.Serve.Token)

		srv, err := devserver.New(devserver.Options{
			DBPath: dbPath,
			Token:  token,
			Debug:  debugEnabled(),
		})
		if err != nil {
			return handleError(ErrDatabaseError, err, "")
		}
		defer srv.Close()

		seeded, err := srv.Seed(cmd.Context(), schema.NewFileStore(formsDir))
		if err != nil {
			return handleDomainError(err)
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return handleError(ErrInternal, err, "")
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		switch {
		case serveOnlineFile != "":
			flag, err := connectivity.NewFileSignal(serveOnlineFile, debugEnabled())
			if err != nil {
				ln.Close()
				return handleError(ErrInvalidInput, err, "")
			}
			srv.SetOnline(flag.Online())
			cancel := flag.Subscribe(srv.SetOnline)
			defer cancel()
			g.Go(func() error { return ignoreCanceled(flag.Run(ctx)) })
		case serveOffline:
			srv.SetOnline(false)
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{
				"addr":          ln.Addr().String(),
				"db":            dbPath,
				"forms_dir":     formsDir,
				"forms_seeded":  seeded,
				"online":        srv.Online(),
				"token_enabled": token != "",
			}, nil)
		} else {
			outln(ui.Successf("Serving on http://%s", ln.Addr()))
			outln(ui.Hint(fmt.Sprintf("%s from %s, database %s", ui.Count(seeded, "form", "forms"), formsDir, dbPath)))
			if !srv.Online() {
				outln(ui.Warning("Starting offline"))
			}
		}

		g.Go(func() error { return srv.Serve(ctx, ln) })
		if err := g.Wait(); err != nil {
			return handleError(ErrInternal, err, "")
		}
		return nil
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default serve.addr or 127.0.0.1:8787)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite database path")
	serveCmd.Flags().StringVar(&serveForms, "forms", "", "Directory of form YAML files to seed")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Require this bearer token")
	serveCmd.Flags().BoolVar(&serveOffline, "offline", false, "Start offline")
	serveCmd.Flags().StringVar(&serveOnlineFile, "online-file", "", "Follow this flag file for online/offline")
	rootCmd.AddCommand(serveCmd)
}
