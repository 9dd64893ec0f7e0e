package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/formsync/internal/formruntime"
	"github.com/aidanlsb/formsync/internal/queue"
	"github.com/aidanlsb/formsync/internal/ui"
)

var (
	fillSet     assignmentsFlag
	fillCorrect assignmentsFlag
	fillDryRun  bool
)

var fillCmd = &cobra.Command{
	Use:   "fill <form-id>",
	Short: "Fill in and submit a form",
	Long: `Fill in a form and submit it.

Each --set assigns one field; the value is parsed by the field's type and
validated right away. Reference fields take the primary-key value of the
target record. The submission is delivered when online; otherwise it is
saved in the local queue and delivered later. When older submissions are
still queued, the new one waits behind them and the queue is drained before
the command exits.

--correct changes one field after submitting. While the submission is still
queued the queued copy is amended; once delivered the change stays local.

Examples:
  formsync fill f-tasks --set Title="Fix the roof" --set Hours=2.5
  formsync fill f-tasks --set Title=Paint --set Owner=emp-042 --json
  formsync fill f-tasks --set Title=Paint --correct Hours=3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return handleDomainError(err)
		}
		defer a.Close()

		rt := formruntime.New(args[0], formruntime.Options{
			Schema:     a.forms,
			References: a.refs,
			Queue:      a.queue,
			Debug:      a.debug,
		})
		if err := rt.Load(ctx); err != nil {
			return handleDomainError(err)
		}

		for _, set := range fillSet.Items() {
			if err := rt.Set(ctx, set.Label, set.Value); err != nil && !isFieldError(err) {
				return handleDomainError(err)
			}
		}

		if fillDryRun {
			return outputFillResult(ctx, a, rt, nil)
		}

		receipt, err := rt.Submit(ctx)
		if err != nil {
			var invalid *formruntime.InvalidError
			if errors.As(err, &invalid) {
				return handleErrorWithDetails(ErrValidationFailed, err, "", invalid.Errors)
			}
			return handleDomainError(err)
		}

		var corrections []Warning
		for _, c := range fillCorrect.Items() {
			if w, err := correctField(ctx, rt, c); err != nil {
				return handleDomainError(err)
			} else if w != nil {
				corrections = append(corrections, *w)
			}
		}

		receipt, drained := drainBehind(ctx, a, receipt)
		return outputFillResult(ctx, a, rt, append(corrections, drained...), receipt)
	},
}

// drainBehind delivers the backlog a submission was queued behind while
// online. The returned receipt is a copy marked Delivered when the drain
// delivered that submission.
func drainBehind(ctx context.Context, a *app, receipt *queue.Receipt) (*queue.Receipt, []Warning) {
	if receipt.Outcome != queue.Deferred || receipt.LastError != nil || !a.online() {
		return receipt, nil
	}
	report, err := a.queue.Drain(ctx)
	if report.Skipped {
		return receipt, nil
	}
	a.saveDrainState(report, err)
	if err != nil {
		a.logDebug("drain after submit: %v", err)
	}

	warnings := warningsFromConditions(report.Warnings)
	out := *receipt
	for _, d := range report.Delivered {
		if d.SubmissionID == receipt.SubmissionID {
			out.Outcome = queue.Delivered
			out.RemoteID = d.RemoteID
			out.Duplicate = d.Duplicate
		}
	}
	for _, r := range report.Rejected {
		warnings = append(warnings, Warning{Code: ErrEntryRejected, ID: r.SubmissionID, Message: "rejected: " + r.Reason})
	}
	return &out, warnings
}

// correctField edits one field of the submitted form. An edit the queue can
// no longer apply is returned as a warning.
func correctField(ctx context.Context, rt *formruntime.Runtime, c fieldAssignment) (*Warning, error) {
	if err := rt.BeginEdit(c.Label); err != nil {
		return nil, err
	}
	if err := rt.Set(ctx, c.Label, c.Value); err != nil {
		_ = rt.CancelEdit()
		return nil, err
	}
	err := rt.CommitEdit(ctx)
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, queue.ErrAlreadyDelivered):
		return &Warning{Code: ErrAlreadyDelivered, Field: c.Label, Message: "submission already delivered; correction kept locally"}, nil
	case errors.Is(err, queue.ErrEntryRejected):
		return &Warning{Code: ErrEntryRejected, Field: c.Label, Message: "submission was rejected; correction kept locally"}, nil
	}
	_ = rt.CancelEdit()
	return nil, err
}

func isFieldError(err error) bool {
	code := errorCode(err)
	return code == ErrValidationFailed
}

func outputFillResult(ctx context.Context, a *app, rt *formruntime.Runtime, extra []Warning, receipts ...*queue.Receipt) error {
	form := rt.Form()
	values := rt.Values()
	warnings := append(warningsFromConditions(rt.Conditions()), extra...)
	for _, verr := range rt.Errors() {
		warnings = append(warnings, Warning{Code: WarnFieldInvalid, Field: verr.Field, Message: verr.Message})
	}

	var receipt *queue.Receipt
	if len(receipts) > 0 {
		receipt = receipts[0]
	}

	if isJSONOutput() {
		data := map[string]interface{}{
			"form_id": form.ID,
			"form":    form.Name,
			"state":   rt.State().String(),
			"status":  rt.StatusLine(),
			"data":    values,
		}
		if receipt != nil {
			if receipt.Outcome == queue.Delivered {
				data["status"] = "Submitted"
			}
			data["submission_id"] = receipt.SubmissionID
			data["outcome"] = receipt.Outcome.String()
			if receipt.RemoteID != "" {
				data["remote_id"] = receipt.RemoteID
			}
			if receipt.Duplicate {
				data["duplicate"] = true
			}
			if receipt.Outcome == queue.Deferred {
				msg := "saved offline, will sync"
				if receipt.LastError != nil {
					msg = fmt.Sprintf("saved offline, will sync (%v)", receipt.LastError)
				}
				warnings = append(warnings, Warning{Code: WarnQueued, Message: msg, ID: receipt.SubmissionID})
			}
		}
		outputSuccessWithWarnings(data, warnings, nil)
		return nil
	}

	outln(ui.Header(form.Name))
	table := ui.NewTable(ui.NewDisplayContext(), "FIELD", "VALUE")
	for _, field := range form.Fields {
		table.AddRow(field.Label, a.refs.DisplayValue(ctx, field, values[field.Label]))
	}
	outln(table.Render())

	for _, w := range warnings {
		if w.Field != "" {
			outln(ui.Warningf("%s: %s", w.Field, w.Message))
		} else {
			outln(ui.Warning(w.Message))
		}
	}

	switch {
	case receipt == nil:
		outln(ui.Hint("Dry run; nothing submitted"))
	case receipt.Outcome == queue.Delivered:
		outln(ui.Success("Submitted") + " " + ui.ID(receipt.SubmissionID))
	default:
		outln(ui.Queued("Saved offline, will sync") + " " + ui.ID(receipt.SubmissionID))
	}
	return nil
}

func init() {
	fillCmd.Flags().Var(&fillSet, "set", "Set a field (label=value, repeatable)")
	fillCmd.Flags().Var(&fillCorrect, "correct", "Correct a field after submitting (label=value, repeatable)")
	fillCmd.Flags().BoolVar(&fillDryRun, "dry-run", false, "Validate without submitting")
	rootCmd.AddCommand(fillCmd)
}
