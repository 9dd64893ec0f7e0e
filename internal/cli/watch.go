package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/formsync/internal/connectivity"
	"github.com/aidanlsb/formsync/internal/queue"
	"github.com/aidanlsb/formsync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Deliver queued submissions whenever the server is reachable",
	Long: `Watch connectivity and drain the submission queue on startup and after
every reconnect.

This runs in the foreground until interrupted. After the connection comes
back, the drain waits for the configured debounce window so that a flapping
connection does not trigger a drain per flap.

Connectivity comes from config (connectivity.mode):
- static:    fixed online/offline state
- file:      an online flag file ("1"/"online" means online), watched for changes
- websocket: the form server's /connectivity push endpoint

Examples:
  formsync watch
  formsync watch --debug`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Drains only start from queue.Run below, after a is set.
	var a *app
	onDrain := func(report queue.DrainReport, err error) {
		a.saveDrainState(report, err)
		printDrain(report, err)
	}

	a, err := openApp(ctx, appOptions{onDrain: onDrain})
	if err != nil {
		return handleDomainError(err)
	}
	defer a.Close()

	stopStates := a.monitor.Subscribe(func(s connectivity.State) {
		if isJSONOutput() {
			outputSuccess(map[string]interface{}{
				"event": "connectivity",
				"state": s.String(),
				"at":    time.Now().UTC(),
			}, nil)
			return
		}
		if s == connectivity.Online {
			outln(ui.Success("online"))
		} else {
			outln(ui.Warning("offline"))
		}
	})
	defer stopStates()

	if !isJSONOutput() {
		outf("Watching connectivity (%s), data in %s\n", a.cfg.ConnectivityMode(), a.layout.Root)
		outln("Press Ctrl+C to stop")
	}

	err = a.queue.Run(ctx)
	if errors.Is(err, context.Canceled) {
		if !isJSONOutput() {
			fmt.Fprintln(os.Stderr, "\nShutting down watcher...")
		}
		return nil
	}
	return err
}

// printDrain reports one drain started by the watcher.
func printDrain(report queue.DrainReport, err error) {
	if isJSONOutput() {
		data := map[string]interface{}{
			"event":  "drain",
			"report": report,
		}
		if err != nil {
			data["error"] = err.Error()
		}
		outputSuccess(data, nil)
		return
	}

	if len(report.Delivered) > 0 {
		outln(ui.Successf("Delivered %s", ui.Count(len(report.Delivered), "submission", "submissions")))
	}
	for _, r := range report.Rejected {
		outln(ui.Errorf("Rejected %s: %s", r.SubmissionID, r.Reason))
	}
	for _, id := range report.Stuck {
		outln(ui.Warning("Stuck after repeated attempts " + ui.ID(id)))
	}
	if err != nil {
		outln(ui.Warningf("Drain stopped with %d remaining: %v", report.Remaining, err))
	}
}
