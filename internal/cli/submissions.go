package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/formsync/internal/ui"
)

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "Browse submissions stored on the server",
}

var submissionsListCmd = &cobra.Command{
	Use:   "list <form-id>",
	Short: "List the stored submissions of a form",
	Long: `List the submissions the server stored for a form, oldest first.

Reference fields show the stored primary-key value followed by the fields of
the record it points to. Reference fields of that record are shown as stored.

Examples:
  formsync submissions list f-tasks
  formsync submissions list f-tasks --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{requireServer: true})
		if err != nil {
			return handleDomainError(err)
		}
		defer a.Close()

		form, err := a.forms.GetForm(ctx, args[0])
		if err != nil {
			return handleDomainError(err)
		}
		recs, err := a.client.ListSubmissions(ctx, form.ID)
		if err != nil {
			return handleDomainError(err)
		}

		if isJSONOutput() {
			rows := make([]map[string]interface{}, 0, len(recs))
			for _, rec := range recs {
				display := make(map[string]string, len(form.Fields))
				for _, field := range form.Fields {
					display[field.Label] = a.refs.DisplayValue(ctx, field, rec.Data[field.Label])
				}
				rows = append(rows, map[string]interface{}{
					"id":      rec.ID,
					"data":    rec.Data,
					"display": display,
				})
			}
			outputSuccess(map[string]interface{}{
				"form_id":     form.ID,
				"form":        form.Name,
				"submissions": rows,
			}, &Meta{Count: len(rows)})
			return nil
		}

		if len(recs) == 0 {
			outln(ui.Hint(fmt.Sprintf("%s has no submissions yet", form.Name)))
			return nil
		}
		headers := []string{"ID"}
		for _, field := range form.Fields {
			headers = append(headers, field.Label)
		}
		outln(ui.Header(form.Name))
		table := ui.NewTable(ui.NewDisplayContext(), headers...)
		for _, rec := range recs {
			row := []string{rec.ID}
			for _, field := range form.Fields {
				row = append(row, a.refs.DisplayValue(ctx, field, rec.Data[field.Label]))
			}
			table.AddRow(row...)
		}
		outln(table.Render())
		outln(ui.Count(len(recs), "submission", "submissions"))
		return nil
	},
}

func init() {
	submissionsCmd.AddCommand(submissionsListCmd)
	rootCmd.AddCommand(submissionsCmd)
}
