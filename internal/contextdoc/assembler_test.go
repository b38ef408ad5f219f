package contextdoc

import (
	"context"
	"strings"
	"testing"

	"github.com/brojonat/cataloger/internal/store"
)

type fakeStore struct {
	timestamps []string
	catalog    map[string]string
	summary    map[string]string
	scripts    map[string]map[store.ScriptKind]string
	comments   map[string][]string
}

func (f *fakeStore) ListTimestamps(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit > 0 && len(f.timestamps) > limit {
		return f.timestamps[:limit], nil
	}
	return f.timestamps, nil
}

func (f *fakeStore) ReadCatalog(ctx context.Context, prefix, timestamp string) (string, bool, error) {
	v, ok := f.catalog[timestamp]
	return v, ok, nil
}

func (f *fakeStore) ReadSummary(ctx context.Context, prefix, timestamp string) (string, bool, error) {
	v, ok := f.summary[timestamp]
	return v, ok, nil
}

func (f *fakeStore) ReadScript(ctx context.Context, prefix, timestamp string, kind store.ScriptKind) (string, bool, error) {
	byKind, ok := f.scripts[timestamp]
	if !ok {
		return "", false, nil
	}
	v, ok := byKind[kind]
	return v, ok, nil
}

func (f *fakeStore) ReadComments(ctx context.Context, prefix, timestamp string) ([]string, error) {
	return f.comments[timestamp], nil
}

func TestAssembleReturnsEmptyContextForFirstRun(t *testing.T) {
	s := &fakeStore{}
	html, err := Assemble(context.Background(), s, "orders", "")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(html, "No previous catalog found") {
		t.Fatalf("expected empty-context page, got %q", html)
	}
}

func TestAssembleUsesLatestTimestampWhenNoneGiven(t *testing.T) {
	s := &fakeStore{
		timestamps: []string{"2026-01-02T00:00:00Z", "2026-01-01T00:00:00Z"},
		catalog:    map[string]string{"2026-01-02T00:00:00Z": "<p>latest catalog</p>"},
	}
	html, err := Assemble(context.Background(), s, "orders", "")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(html, "latest catalog") {
		t.Fatalf("expected latest run's catalog content, got %q", html)
	}
	if !strings.Contains(html, "2026-01-02T00:00:00Z") {
		t.Fatalf("expected the chosen timestamp in the document, got %q", html)
	}
}

func TestAssembleIncludesCommentsScriptsAndEscapesThem(t *testing.T) {
	s := &fakeStore{
		timestamps: []string{"2026-01-01T00:00:00Z"},
		scripts: map[string]map[store.ScriptKind]string{
			"2026-01-01T00:00:00Z": {store.CatalogScript: "x = 1 < 2"},
		},
		comments: map[string][]string{
			"2026-01-01T00:00:00Z": {"looks <b>great</b>"},
		},
	}
	html, err := Assemble(context.Background(), s, "orders", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(html, "1 &lt; 2") {
		t.Fatalf("expected the catalog script to be HTML-escaped, got %q", html)
	}
	if !strings.Contains(html, "looks &lt;b&gt;great&lt;/b&gt;") {
		t.Fatalf("expected the comment to be HTML-escaped, got %q", html)
	}
}

func TestAssembleNoCommentsShowsEmptyState(t *testing.T) {
	s := &fakeStore{timestamps: []string{"2026-01-01T00:00:00Z"}}
	html, err := Assemble(context.Background(), s, "orders", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(html, "No comments on previous catalog.") {
		t.Fatalf("expected empty-comments message, got %q", html)
	}
}
