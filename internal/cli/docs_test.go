package cli

import (
	"testing"
	"testing/fstest"

	builtindocs "github.com/aidanlsb/formsync/docs"
)

func testDocsFS() fstest.MapFS {
	return fstest.MapFS{
		"guide/queue.md":  {Data: []byte("# The queue\n\nDrain delivers oldest first.\nRejected entries move aside.\n")},
		"guide/setup.md":  {Data: []byte("No heading here.\nRun config init to drain nothing.\n")},
		"guide/notes.txt": {Data: []byte("ignored")},
	}
}

func TestListDocsTopics(t *testing.T) {
	topics, err := listDocsTopics(testDocsFS())
	if err != nil {
		t.Fatalf("listDocsTopics: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %+v", topics)
	}
	if topics[0].ID != "queue" || topics[0].Title != "The queue" {
		t.Fatalf("unexpected first topic %+v", topics[0])
	}
	if topics[1].Title != "setup" {
		t.Fatalf("topic without heading should fall back to its id, got %q", topics[1].Title)
	}

	if _, ok := findDocsTopic(topics, "Queue.md"); !ok {
		t.Fatalf("expected case-insensitive lookup with extension to match")
	}
}

func TestSearchDocs(t *testing.T) {
	matches, err := searchDocs(testDocsFS(), "DRAIN", 10)
	if err != nil {
		t.Fatalf("searchDocs: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %+v", matches)
	}
	if matches[0].Topic != "queue" || matches[0].Line != 3 {
		t.Fatalf("unexpected first match %+v", matches[0])
	}

	limited, err := searchDocs(testDocsFS(), "drain", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

func TestBundledDocsHaveTitles(t *testing.T) {
	topics, err := listDocsTopics(builtindocs.FS)
	if err != nil {
		t.Fatalf("listDocsTopics: %v", err)
	}
	if len(topics) == 0 {
		t.Fatal("expected bundled guides")
	}
	for _, topic := range topics {
		if topic.Title == topic.ID {
			t.Errorf("bundled topic %s has no heading", topic.ID)
		}
	}
}
