package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"

	"github.com/aidanlsb/formsync/internal/schema"
)

// MarkdownRenderMargin is the left margin used for terminal markdown rendering.
const MarkdownRenderMargin = 2

const defaultCodeTheme = "monokai"

var markdownCodeTheme = defaultCodeTheme

// ConfigureMarkdownCodeTheme sets the chroma theme of rendered code blocks.
// Empty restores the default.
func ConfigureMarkdownCodeTheme(theme string) {
	theme = strings.ToLower(strings.TrimSpace(theme))
	if theme == "" {
		theme = defaultCodeTheme
	}
	markdownCodeTheme = theme
}

// RenderMarkdown renders markdown content for terminal display.
func RenderMarkdown(content string, width int) (string, error) {
	if width <= 0 {
		width = DefaultTermWidth
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(markdownStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}

	rendered, err := r.Render(content)
	if err != nil {
		return "", err
	}

	// glamour adds trailing newlines; normalize to a single trailing newline.
	rendered = strings.TrimRight(rendered, "\n") + "\n"
	return rendered, nil
}

// FormMarkdown describes a form's fields as a markdown table, in order.
func FormMarkdown(form *schema.Form) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", escapeCell(form.Name))
	fmt.Fprintf(&b, "Form `%s`", form.ID)
	if form.OwnerProjectID != "" {
		fmt.Fprintf(&b, " in project `%s`", form.OwnerProjectID)
	}
	b.WriteString("\n\n")

	if len(form.Fields) == 0 {
		b.WriteString("_No fields._\n")
		return b.String()
	}

	b.WriteString("| # | Field | Type | Required | Notes |\n")
	b.WriteString("|---|-------|------|----------|-------|\n")
	for i, f := range form.Fields {
		var notes []string
		if f.IsPrimaryKey {
			notes = append(notes, "**primary key**")
		}
		if target, ok := f.Reference(); ok {
			notes = append(notes, "references _"+escapeCell(target)+"_")
		}
		required := ""
		if f.Required {
			required = "yes"
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
			i+1, escapeCell(f.Label), f.Type, required, strings.Join(notes, ", "))
	}

	if issues := form.Issues(); len(issues) > 0 {
		b.WriteString("\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "> %s\n", escapeCell(issue.Error()))
		}
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// markdownStyle layers the configured accent and code theme over glamour's
// plain-terminal style.
func markdownStyle() ansi.StyleConfig {
	style := styles.NoTTYStyleConfig

	margin := uint(MarkdownRenderMargin)
	style.Document.Margin = &margin

	muted := "8"
	style.BlockQuote.Color = &muted
	style.Link.Color = &muted
	style.LinkText.Color = &muted
	style.HorizontalRule.Color = &muted

	if color, ok := AccentColor(); ok {
		bold := true
		style.Heading.Color = &color
		style.Heading.Bold = &bold
	}

	style.Item.BlockPrefix = "• "
	style.CodeBlock.Theme = markdownCodeTheme
	return style
}
