// Package contextdoc assembles the HTML context document fed to a fresh
// catalog run: everything known about the previous run under the same
// prefix, bundled into one self-contained page so the agent can read its own
// history instead of starting cold.
package contextdoc

import (
	"context"
	"fmt"
	"strings"

	"github.com/brojonat/cataloger/internal/store"
)

// Store is the subset of CatalogStore the assembler needs, named here so
// tests can supply a fake without importing the S3 client.
type Store interface {
	ListTimestamps(ctx context.Context, prefix string, limit int) ([]string, error)
	ReadCatalog(ctx context.Context, prefix, timestamp string) (string, bool, error)
	ReadSummary(ctx context.Context, prefix, timestamp string) (string, bool, error)
	ReadScript(ctx context.Context, prefix, timestamp string, kind store.ScriptKind) (string, bool, error)
	ReadComments(ctx context.Context, prefix, timestamp string) ([]string, error)
}

var _ Store = (*store.CatalogStore)(nil)

// Assemble builds the HTML context document for prefix. When timestamp is
// empty, the most recent run under prefix is used. If prefix has no prior
// runs at all, an empty-context page is returned rather than an error: a
// first-ever run for a prefix is a normal, expected state.
func Assemble(ctx context.Context, s Store, prefix, timestamp string) (string, error) {
	if timestamp == "" {
		timestamps, err := s.ListTimestamps(ctx, prefix, 1)
		if err != nil {
			return "", err
		}
		if len(timestamps) == 0 {
			return emptyContextHTML(prefix), nil
		}
		timestamp = timestamps[0]
	}

	catalogHTML, _, err := s.ReadCatalog(ctx, prefix, timestamp)
	if err != nil {
		return "", err
	}
	summaryHTML, _, err := s.ReadSummary(ctx, prefix, timestamp)
	if err != nil {
		return "", err
	}
	catalogScript, _, err := s.ReadScript(ctx, prefix, timestamp, store.CatalogScript)
	if err != nil {
		return "", err
	}
	summaryScript, _, err := s.ReadScript(ctx, prefix, timestamp, store.SummaryScript)
	if err != nil {
		return "", err
	}
	comments, err := s.ReadComments(ctx, prefix, timestamp)
	if err != nil {
		return "", err
	}

	return buildContextHTML(prefix, timestamp, catalogHTML, summaryHTML, catalogScript, summaryScript, comments), nil
}

func emptyContextHTML(prefix string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Context Summary - %s</title>
%s
</head>
<body>
<h1>Context Summary: %s</h1>
<p class="empty">No previous catalog found. This will be the first run.</p>
</body>
</html>`, prefix, contextStyle, prefix)
}

const contextStyle = `<style>
body { font-family: sans-serif; max-width: 1200px; margin: 40px auto; padding: 20px; line-height: 1.6; }
h1 { color: #333; border-bottom: 2px solid #2563eb; padding-bottom: 10px; }
h2 { color: #2563eb; margin-top: 40px; }
h3 { color: #666; }
.section { margin-bottom: 40px; }
.timestamp { color: #666; font-size: 0.9em; }
pre { background: #1e293b; color: #e2e8f0; padding: 15px; border-radius: 5px; overflow-x: auto; }
.catalog-content { border: 1px solid #e2e8f0; padding: 20px; border-radius: 5px; background: #ffffff; }
.empty { color: #666; font-style: italic; }
</style>`

// buildContextHTML renders the fixed section order: header, comments
// (always present, even when empty), previous catalog, previous summary,
// then the replay script. Script and comment content are HTML-escaped and
// wrapped in <pre>; catalog/summary HTML is trusted and inlined verbatim
// since it was produced by this same pipeline.
func buildContextHTML(prefix, timestamp, catalogHTML, summaryHTML, catalogScript, summaryScript string, comments []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Context Summary - %s</title>
%s
</head>
<body>
<h1>Context Summary: %s</h1>
<p class="timestamp">Previous catalog from: <strong>%s</strong></p>
`, prefix, contextStyle, prefix, timestamp)

	b.WriteString(`<div class="section">` + "\n")
	b.WriteString("<h2>User Comments &amp; Feedback</h2>\n")
	if len(comments) == 0 {
		b.WriteString(`<p class="empty">No comments on previous catalog.</p>` + "\n")
	} else {
		for _, c := range comments {
			fmt.Fprintf(&b, "<div class=\"comment\">%s</div>\n", EscapeHTML(c))
		}
	}
	b.WriteString("</div>\n")

	if catalogHTML != "" {
		b.WriteString(`<div class="section">` + "\n<h2>Previous Catalog Results</h2>\n<div class=\"catalog-content\">\n")
		b.WriteString(catalogHTML)
		b.WriteString("\n</div>\n</div>\n")
	}

	if summaryHTML != "" {
		b.WriteString(`<div class="section">` + "\n<h2>Previous Summary Analysis</h2>\n<div class=\"catalog-content\">\n")
		b.WriteString(summaryHTML)
		b.WriteString("\n</div>\n</div>\n")
	}

	if catalogScript != "" || summaryScript != "" {
		b.WriteString(`<div class="section">` + "\n<h2>Python Scripts</h2>\n")
		if catalogScript != "" {
			b.WriteString("<h3>Catalog Script</h3>\n<pre>" + EscapeHTML(catalogScript) + "</pre>\n")
		}
		if summaryScript != "" {
			b.WriteString("<h3>Summary Script</h3>\n<pre>" + EscapeHTML(summaryScript) + "</pre>\n")
		}
		b.WriteString("</div>\n")
	}

	b.WriteString("</body>\n</html>")
	return b.String()
}

// EscapeHTML escapes the five characters meaningful in HTML text content,
// matching the narrow escaping the original context summary performed
// (broader than text/template's default, which also touches backticks).
func EscapeHTML(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#x27;",
	)
	return replacer.Replace(s)
}
