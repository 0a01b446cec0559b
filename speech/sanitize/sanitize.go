// Package sanitize flattens lesson content into plain narratable text.
package sanitize

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Field names probed on structured content, in priority order. The first
// non-empty string wins.
var narratableFields = []string{"body", "content", "text", "description", "summary", "title"}

const (
	// Sanitized output shorter than this, produced from notably longer raw
	// input, is treated as over-stripped and the raw input is returned.
	minPlausibleLength = 20

	// A serialized whole-structure fallback must be at least this long to
	// be worth narrating.
	minSerializedLength = 40
)

var (
	htmlTagRegex    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// Sanitizer strips markup from raw lesson content. It is stateless apart
// from the parser it holds and safe for concurrent use.
type Sanitizer struct {
	md goldmark.Markdown
}

// New creates a sanitizer with a default markdown parser.
func New() *Sanitizer {
	return &Sanitizer{md: goldmark.New()}
}

// Sanitize converts content into flat narratable text. Content may be a
// plain string or any structured value; structured values are scanned for
// known narratable fields, falling back to the serialized whole when it is
// long enough to be meaningful. Failures yield an empty string, never an
// error.
func (s *Sanitizer) Sanitize(content any) string {
	raw := s.rawText(content)
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	clean := s.flatten(raw)

	// Over-aggressive stripping must not discard legitimate content. A
	// block-level HTML document flattens to nothing above, so the fallback
	// strips tags from the raw input rather than narrating markup.
	fallback := htmlTagRegex.ReplaceAllString(raw, " ")
	fallback = html.UnescapeString(fallback)
	fallback = strings.TrimSpace(whitespaceRegex.ReplaceAllString(fallback, " "))
	if len(clean) < minPlausibleLength && len(fallback) > len(clean) {
		return fallback
	}
	return clean
}

// rawText picks the narratable candidate out of content.
func (s *Sanitizer) rawText(content any) string {
	if str, ok := content.(string); ok {
		return str
	}
	if content == nil {
		return ""
	}

	// Round-trip through JSON so maps and arbitrary structs look the same.
	data, err := json.Marshal(content)
	if err != nil {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err == nil {
		for _, name := range narratableFields {
			raw, ok := fields[name]
			if !ok {
				// Field names are matched case-insensitively.
				for k, v := range fields {
					if strings.EqualFold(k, name) {
						raw, ok = v, true
						break
					}
				}
			}
			if !ok {
				continue
			}
			var str string
			if err := json.Unmarshal(raw, &str); err == nil && strings.TrimSpace(str) != "" {
				return str
			}
		}
	}

	if len(data) >= minSerializedLength {
		return string(data)
	}
	return ""
}

// flatten renders markdown/HTML content down to plain text. Headings, list
// items and blockquotes are closed with terminal punctuation so sentence
// boundaries survive for the chunker.
func (s *Sanitizer) flatten(raw string) string {
	source := []byte(raw)
	doc := s.md.Parser().Parse(text.NewReader(source))

	var parts []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch n.(type) {
		// Text-bearing blocks: headings, paragraphs, and the tight text
		// blocks list items carry. Blockquote and list content is reached
		// through these.
		case *ast.Heading, *ast.Paragraph, *ast.TextBlock:
			if content := extractText(n, source); content != "" {
				parts = append(parts, terminate(content))
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	flat := strings.Join(parts, " ")
	flat = html.UnescapeString(flat)
	flat = htmlTagRegex.ReplaceAllString(flat, " ")
	flat = whitespaceRegex.ReplaceAllString(flat, " ")
	return strings.TrimSpace(flat)
}

// extractText collects the text segments beneath a node, skipping raw HTML
// and code fences nested inside it.
func extractText(node ast.Node, source []byte) string {
	var b strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(source))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.Image:
			// Alt text only.
			b.WriteString(extractText(c, source))
		case *ast.RawHTML, *ast.HTMLBlock, *ast.FencedCodeBlock, *ast.CodeBlock:
			// Not narratable.
		default:
			b.WriteString(extractText(c, source))
		}
	}
	return strings.TrimSpace(b.String())
}

// terminate appends a period to text that does not already end a sentence,
// so downstream sentence detection keeps working on headings and list
// markers converted to plain text.
func terminate(text string) string {
	switch text[len(text)-1] {
	case '.', '!', '?', ':', ';':
		return text
	}
	return text + "."
}
