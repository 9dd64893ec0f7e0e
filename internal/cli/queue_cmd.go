package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/formsync/internal/audit"
	"github.com/aidanlsb/formsync/internal/config"
	"github.com/aidanlsb/formsync/internal/dates"
	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/queue"
	"github.com/aidanlsb/formsync/internal/store"
	"github.com/aidanlsb/formsync/internal/ui"
)

var (
	queueAmendSet        assignmentsFlag
	queueDiscardRejected bool
	queueLogLimit        int
	queueLogSubmission   string
	queueLogSince        string
)

// pendingView is a queued entry as listed.
type pendingView struct {
	model.PendingSubmission
	Stuck bool `json:"stuck"`
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage queued submissions",
	Long: `Inspect and manage submissions waiting for delivery.

Entries can be given by submission id or by their number in 'queue list'
(pending entries for amend and discard, rejected entries for retry).`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and rejected submissions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return handleDomainError(err)
		}
		defer a.Close()

		pending, rejected, err := listQueue(cmd.Context(), a)
		if err != nil {
			return handleError(ErrDatabaseError, err, "")
		}
		state, err := config.LoadState(config.StatePath(a.layout.Root))
		if err != nil {
			a.logDebug("%v", err)
			state = nil
		}

		var warnings []Warning
		for _, p := range pending {
			if p.Item.Stuck {
				warnings = append(warnings, Warning{
					Code:    WarnStuck,
					ID:      p.Item.SubmissionID,
					Message: fmt.Sprintf("%d delivery attempts so far", p.Item.AttemptCount),
				})
			}
		}

		if isJSONOutput() {
			data := map[string]interface{}{
				"online":   a.online(),
				"pending":  pending,
				"rejected": rejected,
			}
			if state.Drained() {
				data["last_drain"] = state
			}
			outputSuccessWithWarnings(data, warnings, &Meta{Count: len(pending)})
			return nil
		}

		status := ui.Warning("offline")
		if a.online() {
			status = ui.Success("online")
		}
		outln(status)

		display := ui.NewDisplayContext()
		if len(pending) == 0 {
			outln(ui.Hint("No pending submissions"))
		} else {
			outln(ui.Header("Pending"))
			table := ui.NewTable(display, "#", "SUBMISSION", "FORM", "QUEUED", "ATTEMPTS", "")
			for _, p := range pending {
				flag := ""
				if p.Item.Stuck {
					flag = ui.Warning("stuck")
				}
				table.AddRow(strconv.Itoa(p.Num), p.Item.SubmissionID, p.Item.FormID,
					p.Item.EnqueuedAt.Local().Format("2006-01-02 15:04"), strconv.Itoa(p.Item.AttemptCount), flag)
			}
			outln(table.Render())
		}

		if len(rejected) > 0 {
			outln(ui.Header("Rejected"))
			table := ui.NewTable(display, "#", "SUBMISSION", "FORM", "REASON")
			for _, r := range rejected {
				table.AddRow(strconv.Itoa(r.Num), r.Item.SubmissionID, r.Item.FormID, r.Item.Reason)
			}
			outln(table.Render())
		}

		if state.Drained() {
			outln(ui.Hint(state.Summary()))
		}
		return nil
	},
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver queued submissions now",
	Long: `Deliver queued submissions one at a time, oldest first.

Rejected submissions are moved to the rejected list. The drain stops at the
first submission that cannot be delivered because the server is unreachable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return handleDomainError(err)
		}
		defer a.Close()

		var spinner *ui.Spinner
		if !isJSONOutput() {
			spinner = ui.NewSpinner("Draining queue...")
			spinner.Start()
		}
		report, drainErr := a.queue.Drain(cmd.Context())
		if spinner != nil {
			spinner.Stop()
		}
		if !report.Skipped {
			a.saveDrainState(report, drainErr)
		}

		warnings := warningsFromConditions(report.Warnings)
		for _, id := range report.Stuck {
			warnings = append(warnings, Warning{Code: WarnStuck, ID: id, Message: "reached the attempt limit"})
		}

		if isJSONOutput() {
			if drainErr != nil {
				code := errorCode(drainErr)
				if code == ErrInternal {
					code = ErrDrainFailed
				}
				outputJSON(Response{
					OK:       false,
					Error:    &ErrorInfo{Code: code, Message: drainErr.Error(), Details: report, Suggestion: errorSuggestion(code)},
					Warnings: warnings,
				})
				return nil
			}
			outputSuccessWithWarnings(report, warnings, &Meta{Count: len(report.Delivered)})
			return nil
		}

		if report.Skipped {
			outln(ui.Info("Skipped: " + report.SkipReason))
			return nil
		}
		for _, d := range report.Delivered {
			outln(ui.Successf("Delivered %s", d.SubmissionID))
		}
		for _, r := range report.Rejected {
			outln(ui.Errorf("Rejected %s: %s", r.SubmissionID, r.Reason))
		}
		for _, w := range warnings {
			outln(ui.Warning(w.Message + " " + ui.ID(w.ID)))
		}
		outln(ui.Count(report.Remaining, "submission remaining", "submissions remaining"))
		if drainErr != nil {
			return handleDomainError(drainErr)
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <submission-id|#>...",
	Short: "Move rejected submissions back to the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return handleDomainError(err)
		}
		defer a.Close()

		_, rejected, err := listQueue(cmd.Context(), a)
		if err != nil {
			return handleError(ErrDatabaseError, err, "")
		}

		var restored []string
		for _, ref := range args {
			id := pickID(ref, rejected, func(r model.RejectedSubmission) string { return r.SubmissionID })
			if err := a.queue.Retry(cmd.Context(), id); err != nil {
				return handleDomainError(err)
			}
			restored = append(restored, id)
			if !isJSONOutput() {
				outln(ui.Queued("Requeued " + id))
			}
		}
		if isJSONOutput() {
			outputSuccess(map[string]interface{}{"restored": restored}, &Meta{Count: len(restored)})
		}
		return nil
	},
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <submission-id|#>...",
	Short: "Delete submissions without delivering them",
	Long: `Delete submissions from the queue or the rejected list for good.
This is the only way a submission leaves the queue undelivered.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return handleDomainError(err)
		}
		defer a.Close()

		pending, rejected, err := listQueue(cmd.Context(), a)
		if err != nil {
			return handleError(ErrDatabaseError, err, "")
		}

		var discarded []string
		for _, ref := range args {
			var id string
			if queueDiscardRejected {
				id = pickID(ref, rejected, func(r model.RejectedSubmission) string { return r.SubmissionID })
			} else {
				id = pickID(ref, pending, func(p pendingView) string { return p.SubmissionID })
			}
			if err := a.queue.Discard(cmd.Context(), id); err != nil {
				return handleDomainError(err)
			}
			discarded = append(discarded, id)
			if !isJSONOutput() {
				outln(ui.Successf("Discarded %s", id))
			}
		}
		if isJSONOutput() {
			outputSuccess(map[string]interface{}{"discarded": discarded}, &Meta{Count: len(discarded)})
		}
		return nil
	},
}

var queueAmendCmd = &cobra.Command{
	Use:   "amend <submission-id|#> --set label=value...",
	Short: "Change fields of a still-queued submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return handleDomainError(err)
		}
		defer a.Close()

		if len(queueAmendSet.Items()) == 0 {
			return handleErrorMsg(ErrMissingArgument, "no fields provided; pass one or more --set label=value", "")
		}

		pending, _, err := listQueue(ctx, a)
		if err != nil {
			return handleError(ErrDatabaseError, err, "")
		}
		id := pickID(args[0], pending, func(p pendingView) string { return p.SubmissionID })

		entry, err := a.store.Get(ctx, id)
		if err != nil {
			return handleDomainError(amendLookupError(ctx, a, id, err))
		}
		form, err := a.forms.GetForm(ctx, entry.FormID)
		if err != nil {
			return handleDomainError(err)
		}

		data := model.CloneData(entry.Data)
		for _, set := range queueAmendSet.Items() {
			field, ok := form.Field(set.Label)
			if !ok {
				return handleErrorMsg(ErrUnknownField, fmt.Sprintf("unknown field: %s", set.Label), "")
			}
			value, perr := field.Parse(set.Value)
			if perr == nil {
				perr = field.Validate(value)
			}
			if perr != nil {
				return handleError(ErrValidationFailed, fmt.Errorf("%s: %w", set.Label, perr), "")
			}
			if value == nil {
				delete(data, set.Label)
			} else {
				data[set.Label] = value
			}
		}

		if err := a.queue.Amend(ctx, id, data); err != nil {
			return handleDomainError(err)
		}
		if isJSONOutput() {
			outputSuccess(map[string]interface{}{"submission_id": id, "data": data}, nil)
			return nil
		}
		outln(ui.Successf("Amended %s", id))
		return nil
	},
}

var queueLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the queue audit log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		logger := audit.New(layoutFor(cfg).Root, cfg.AuditEnabled())
		if !logger.Enabled() {
			return handleErrorMsg(ErrConfigInvalid, "audit log is disabled", "Set audit = true in config.toml")
		}

		var entries []audit.Entry
		var err error
		switch {
		case queueLogSubmission != "":
			entries, err = logger.ReadForSubmission(queueLogSubmission)
		case queueLogSince != "":
			since, perr := dates.ParseSince(queueLogSince, time.Now())
			if perr != nil {
				return handleError(ErrInvalidInput, perr, "")
			}
			entries, err = logger.ReadSince(since)
		default:
			entries, err = logger.Tail(queueLogLimit)
		}
		if err != nil {
			return handleError(ErrFileReadError, err, "")
		}
		if queueLogLimit > 0 && len(entries) > queueLogLimit {
			entries = entries[len(entries)-queueLogLimit:]
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{"entries": entries}, &Meta{Count: len(entries)})
			return nil
		}
		if len(entries) == 0 {
			outln(ui.Hint("No audit entries"))
			return nil
		}
		table := ui.NewTable(ui.NewDisplayContext(), "TIME", "EVENT", "SUBMISSION", "ATTEMPT", "MESSAGE")
		for _, e := range entries {
			attempt := ""
			if e.Attempt > 0 {
				attempt = strconv.Itoa(e.Attempt)
			}
			msg := e.Message
			if e.Kind != "" {
				msg = strings.TrimSpace(e.Kind + " " + msg)
			}
			table.AddRow(e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Event, e.SubmissionID, attempt, msg)
		}
		outln(table.Render())
		return nil
	},
}

// listQueue returns the numbered pending and rejected lists.
func listQueue(ctx context.Context, a *app) ([]model.Numbered[pendingView], []model.Numbered[model.RejectedSubmission], error) {
	entries, err := a.queue.Pending(ctx)
	if err != nil {
		return nil, nil, err
	}
	rejected, err := a.queue.Rejected(ctx)
	if err != nil {
		return nil, nil, err
	}
	views := make([]pendingView, 0, len(entries))
	for _, p := range entries {
		views = append(views, pendingView{PendingSubmission: p, Stuck: a.queue.Stuck(p)})
	}
	return model.NumberedList(views), model.NumberedList(rejected), nil
}

// pickID resolves "#n" or "n" against a numbered listing; other values are
// taken as submission ids.
func pickID[T any](ref string, items []model.Numbered[T], id func(T) string) string {
	num, err := strconv.Atoi(strings.TrimPrefix(ref, "#"))
	if err != nil {
		return ref
	}
	if item, ok := model.PickNumbered(items, num); ok {
		return id(item)
	}
	return ref
}

// amendLookupError explains why an entry is not in the pending list.
func amendLookupError(ctx context.Context, a *app, id string, err error) error {
	if !errors.Is(err, store.ErrEntryNotFound) {
		return err
	}
	rejected, rerr := a.queue.Rejected(ctx)
	if rerr != nil {
		return rerr
	}
	for _, r := range rejected {
		if r.SubmissionID == id {
			return fmt.Errorf("%w: %s", queue.ErrEntryRejected, id)
		}
	}
	return fmt.Errorf("no queued submission %s: %w", id, store.ErrEntryNotFound)
}

func init() {
	queueAmendCmd.Flags().Var(&queueAmendSet, "set", "Set a field (label=value, repeatable)")
	queueDiscardCmd.Flags().BoolVar(&queueDiscardRejected, "rejected", false, "Numbers refer to the rejected list")
	queueLogCmd.Flags().IntVarP(&queueLogLimit, "limit", "n", 50, "Show at most this many entries")
	queueLogCmd.Flags().StringVar(&queueLogSubmission, "submission", "", "Only entries about this submission id")
	queueLogCmd.Flags().StringVar(&queueLogSince, "since", "", "Only entries newer than this (2h, today, YYYY-MM-DD)")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDrainCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueDiscardCmd)
	queueCmd.AddCommand(queueAmendCmd)
	queueCmd.AddCommand(queueLogCmd)
	rootCmd.AddCommand(queueCmd)
}
