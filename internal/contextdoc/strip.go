package contextdoc

import "strings"

// StripTags removes HTML tags from a document, keeping only text content,
// for the plain-text context endpoint. No tag-stripping or HTML-tokenizing
// library is available in the dependency set this module draws from, so this
// is a small hand-rolled scanner rather than a DOM parse: it tracks whether
// it is inside a tag and copies everything else through, which is sufficient
// for documents this package itself generated (no stray "<" in text nodes,
// since EscapeHTML already converts those to entities).
func StripTags(html string) string {
	var b strings.Builder
	b.Grow(len(html))

	inTag := false
	inStyle := false
	inScript := false
	for i := 0; i < len(html); i++ {
		c := html[i]
		switch {
		case c == '<':
			if strings.HasPrefix(html[i:], "<style") {
				inStyle = true
			} else if strings.HasPrefix(html[i:], "</style") {
				inStyle = false
			} else if strings.HasPrefix(html[i:], "<script") {
				inScript = true
			} else if strings.HasPrefix(html[i:], "</script") {
				inScript = false
			}
			inTag = true
		case c == '>':
			inTag = false
		case !inTag && !inStyle && !inScript:
			b.WriteByte(c)
		}
	}
	return collapseBlankLines(unescapeEntities(b.String()))
}

func unescapeEntities(s string) string {
	replacer := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#x27;", "'",
		"&amp;", "&",
	)
	return replacer.Replace(s)
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}
