package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	builtindocs "github.com/aidanlsb/formsync/docs"
	"github.com/aidanlsb/formsync/internal/ui"
)

const docsRoot = "guide"

var (
	docsFS             fs.FS = builtindocs.FS
	docsSearchLimit    int
	docsMarkdownRender = ui.RenderMarkdown
)

type docsTopicView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Path  string `json:"path"`
}

type docsSearchMatchView struct {
	Topic   string `json:"topic"`
	Title   string `json:"title"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

var docsCmd = &cobra.Command{
	Use:   "docs [topic]",
	Short: "Browse the bundled guides",
	Long: `Browse long-form guides bundled into the formsync binary.

For command-level usage, use 'formsync help <command>'.

Examples:
  formsync docs
  formsync docs queue
  formsync docs search rejected`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topics, err := listDocsTopics(docsFS)
		if err != nil {
			return handleError(ErrInternal, err, "")
		}

		if len(args) == 0 {
			if isJSONOutput() {
				outputSuccess(map[string]interface{}{"topics": topics}, &Meta{Count: len(topics)})
				return nil
			}
			table := ui.NewTable(ui.NewDisplayContext(), "TOPIC", "TITLE")
			for _, t := range topics {
				table.AddRow(t.ID, t.Title)
			}
			outln(table.Render())
			outln(ui.Hint("Run 'formsync docs <topic>' to read one"))
			return nil
		}

		topic, ok := findDocsTopic(topics, args[0])
		if !ok {
			ids := make([]string, len(topics))
			for i, t := range topics {
				ids[i] = t.ID
			}
			return handleErrorMsg(ErrFileNotFound, fmt.Sprintf("no docs topic %q", args[0]),
				"Available topics: "+strings.Join(ids, ", "))
		}

		content, err := fs.ReadFile(docsFS, topic.Path)
		if err != nil {
			return handleError(ErrFileReadError, err, "")
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{
				"id":      topic.ID,
				"title":   topic.Title,
				"content": string(content),
			}, nil)
			return nil
		}

		display := ui.NewDisplayContext()
		if !display.IsTTY {
			outf("%s", content)
			return nil
		}
		rendered, err := docsMarkdownRender(string(content), display.AvailableWidth(2))
		if err != nil {
			outf("%s", content)
			return nil
		}
		outf("%s", rendered)
		return nil
	},
}

var docsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the bundled guides",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return handleErrorMsg(ErrMissingArgument, "specify a search query", "Usage: formsync docs search <query>")
		}
		if docsSearchLimit < 1 {
			return handleErrorMsg(ErrInvalidInput, "--limit must be >= 1", "")
		}

		matches, err := searchDocs(docsFS, query, docsSearchLimit)
		if err != nil {
			return handleError(ErrInternal, err, "")
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{
				"query":   query,
				"matches": matches,
			}, &Meta{Count: len(matches)})
			return nil
		}

		if len(matches) == 0 {
			outf("No docs matched %q.\n", query)
			return nil
		}
		for _, m := range matches {
			outf("%s:%d  %s\n", ui.ID(m.Topic), m.Line, m.Snippet)
		}
		return nil
	},
}

// listDocsTopics returns the guide topics ordered by id.
func listDocsTopics(fsys fs.FS) ([]docsTopicView, error) {
	entries, err := fs.ReadDir(fsys, docsRoot)
	if err != nil {
		return nil, err
	}

	var topics []docsTopicView
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".md" {
			continue
		}
		p := path.Join(docsRoot, e.Name())
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(e.Name(), ".md")
		topics = append(topics, docsTopicView{ID: id, Title: docsTitle(content, id), Path: p})
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].ID < topics[j].ID })
	return topics, nil
}

func findDocsTopic(topics []docsTopicView, id string) (docsTopicView, bool) {
	id = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(id)), ".md")
	for _, t := range topics {
		if t.ID == id {
			return t, true
		}
	}
	return docsTopicView{}, false
}

// docsTitle is the text of the first level-one heading, or fallback.
func docsTitle(content []byte, fallback string) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(content))

	title := ""
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		heading, ok := n.(*ast.Heading)
		if !entering || !ok || heading.Level != 1 {
			return ast.WalkContinue, nil
		}
		var b strings.Builder
		for child := heading.FirstChild(); child != nil; child = child.NextSibling() {
			if t, ok := child.(*ast.Text); ok {
				b.Write(t.Segment.Value(content))
			}
		}
		title = strings.TrimSpace(b.String())
		return ast.WalkStop, nil
	})
	if title == "" {
		return fallback
	}
	return title
}

// searchDocs does a case-insensitive line search across every topic.
func searchDocs(fsys fs.FS, query string, limit int) ([]docsSearchMatchView, error) {
	topics, err := listDocsTopics(fsys)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)

	matches := []docsSearchMatchView{}
	for _, t := range topics {
		content, err := fs.ReadFile(fsys, t.Path)
		if err != nil {
			return nil, err
		}
		sc := bufio.NewScanner(bytes.NewReader(content))
		line := 0
		for sc.Scan() {
			line++
			lineText := strings.TrimSpace(sc.Text())
			if !strings.Contains(strings.ToLower(lineText), needle) {
				continue
			}
			matches = append(matches, docsSearchMatchView{
				Topic:   t.ID,
				Title:   t.Title,
				Line:    line,
				Snippet: ui.Truncate(lineText, 100),
			})
			if len(matches) >= limit {
				return matches, nil
			}
		}
	}
	return matches, nil
}

func init() {
	docsSearchCmd.Flags().IntVar(&docsSearchLimit, "limit", 20, "Maximum matches")
	docsCmd.AddCommand(docsSearchCmd)
	rootCmd.AddCommand(docsCmd)
}
