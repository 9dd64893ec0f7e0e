package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/formsync/internal/schema"
	"github.com/aidanlsb/formsync/internal/ui"
)

var formsShowLocal bool

var formsCmd = &cobra.Command{
	Use:   "forms",
	Short: "Inspect form schemas",
}

var formsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List forms in the local forms directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		layout := layoutFor(cfg)
		local := schema.NewFileStore(layout.Resolve(cfg.Serve.FormsDir, layout.FormsDir()))

		forms, err := local.List()
		if err != nil {
			return handleError(ErrFileReadError, err, "")
		}

		if isJSONOutput() {
			items := make([]map[string]interface{}, 0, len(forms))
			for _, f := range forms {
				pk := ""
				if field, ok := f.PrimaryKey(); ok {
					pk = field.Label
				}
				items = append(items, map[string]interface{}{
					"id":          f.ID,
					"name":        f.Name,
					"fields":      len(f.Fields),
					"primary_key": pk,
				})
			}
			outputSuccess(map[string]interface{}{"dir": local.Dir(), "forms": items}, &Meta{Count: len(items)})
			return nil
		}

		if len(forms) == 0 {
			outln(ui.Hint(fmt.Sprintf("No forms in %s", local.Dir())))
			return nil
		}
		table := ui.NewTable(ui.NewDisplayContext(), "ID", "NAME", "FIELDS", "PRIMARY KEY")
		for _, f := range forms {
			pk := "-"
			if field, ok := f.PrimaryKey(); ok {
				pk = field.Label
			}
			table.AddRow(f.ID, f.Name, strconv.Itoa(len(f.Fields)), pk)
		}
		outln(table.Render())
		outln(ui.Count(len(forms), "form", "forms"))
		return nil
	},
}

var formsShowCmd = &cobra.Command{
	Use:   "show <form-id>",
	Short: "Show a form's fields",
	Long: `Show a form's ordered fields, fetched from the server.

With --local the form is read from the local forms directory instead and
may be given by name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		form, err := lookupForm(cmd.Context(), args[0], formsShowLocal)
		if err != nil {
			return handleDomainError(err)
		}

		if isJSONOutput() {
			outputSuccess(form, &Meta{Count: len(form.Fields)})
			return nil
		}

		display := ui.NewDisplayContext()
		rendered, err := ui.RenderMarkdown(ui.FormMarkdown(form), display.AvailableWidth(2))
		if err != nil {
			return handleError(ErrInternal, err, "")
		}
		outf("%s", rendered)
		return nil
	},
}

var formsPullCmd = &cobra.Command{
	Use:   "pull <form-id>...",
	Short: "Cache server forms in the local forms directory",
	Long: `Fetch forms from the server and write them to the local forms directory.
Cached forms are used when the server is unreachable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{requireServer: true})
		if err != nil {
			return handleDomainError(err)
		}
		defer a.Close()

		saved := make([]string, 0, len(args))
		for _, id := range args {
			form, err := a.client.GetForm(cmd.Context(), id)
			if err != nil {
				return handleDomainError(err)
			}
			if err := a.local.Save(form); err != nil {
				return handleDomainError(err)
			}
			saved = append(saved, a.local.PathFor(form.Name))
			if !isJSONOutput() {
				outln(ui.Successf("Cached %s (%s)", form.Name, form.ID))
			}
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{"files": saved}, &Meta{Count: len(saved)})
		}
		return nil
	},
}

// lookupForm fetches a form from the server, or from the local forms
// directory by id or name.
func lookupForm(ctx context.Context, ref string, local bool) (*schema.Form, error) {
	if local {
		cfg := getConfig()
		layout := layoutFor(cfg)
		store := schema.NewFileStore(layout.Resolve(cfg.Serve.FormsDir, layout.FormsDir()))
		if form, err := store.GetForm(ctx, ref); err == nil {
			return form, nil
		}
		return store.FindByName(ref)
	}

	a, err := openApp(ctx, appOptions{requireServer: true})
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.forms.GetForm(ctx, ref)
}

func init() {
	formsShowCmd.Flags().BoolVar(&formsShowLocal, "local", false, "Read the form from the local forms directory")

	formsCmd.AddCommand(formsListCmd)
	formsCmd.AddCommand(formsShowCmd)
	formsCmd.AddCommand(formsPullCmd)
	rootCmd.AddCommand(formsCmd)
}
