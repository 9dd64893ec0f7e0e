package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/formsync/internal/resolver"
	"github.com/aidanlsb/formsync/internal/ui"
)

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "Look up reference candidates and records",
}

var refsCandidatesCmd = &cobra.Command{
	Use:   "candidates <form-name>",
	Short: "List the primary-key values of a form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{requireServer: true})
		if err != nil {
			return handleDomainError(err)
		}
		defer a.Close()

		res := a.refs.ListCandidates(cmd.Context(), args[0])

		if isJSONOutput() {
			var warnings []Warning
			if res.Condition != nil {
				warnings = append(warnings, Warning{Code: string(res.Condition.Code), Message: res.Condition.Message})
			}
			outputSuccessWithWarnings(map[string]interface{}{
				"form_name":  res.FormName,
				"candidates": res.Values,
			}, warnings, &Meta{Count: len(res.Values)})
			return nil
		}

		if res.Condition != nil {
			outln(ui.Warning(res.Condition.Message))
			return nil
		}
		if len(res.Values) == 0 {
			outln(ui.Hint(fmt.Sprintf("%s has no submissions yet", res.FormName)))
			return nil
		}
		table := ui.NewTable(ui.NewDisplayContext(), "VALUE", "RECORD")
		for _, c := range res.Values {
			table.AddRow(c.Value, c.RecordID)
		}
		outln(table.Render())
		outln(ui.Count(len(res.Values), "candidate", "candidates"))
		return nil
	},
}

var refsResolveCmd = &cobra.Command{
	Use:   "resolve <form-name> <value>",
	Short: "Show the record a reference value points to",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{requireServer: true})
		if err != nil {
			return handleDomainError(err)
		}
		defer a.Close()

		res := a.refs.ResolveRecord(cmd.Context(), args[0], args[1])
		switch res.Status {
		case resolver.NotFound:
			return handleErrorMsg(ErrRecordMissing, fmt.Sprintf("no %s record with primary key %q", args[0], args[1]), "")
		case resolver.Unavailable:
			msg := "lookup unavailable"
			if res.Condition != nil {
				msg = res.Condition.Message
			}
			return handleErrorMsg(ErrServerUnavailable, msg, "")
		}

		if isJSONOutput() {
			outputSuccess(res.Record, nil)
			return nil
		}

		outln(ui.Header(fmt.Sprintf("%s %s", res.Record.FormName, args[1])) + " " + ui.ID(res.Record.ID))
		table := ui.NewTable(ui.NewDisplayContext(), "FIELD", "VALUE")
		for _, label := range sortedKeys(res.Record.Data) {
			table.AddRow(label, fmt.Sprint(res.Record.Data[label]))
		}
		outln(table.Render())
		return nil
	},
}

func init() {
	refsCmd.AddCommand(refsCandidatesCmd)
	refsCmd.AddCommand(refsResolveCmd)
	rootCmd.AddCommand(refsCmd)
}
