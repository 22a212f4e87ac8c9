package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"

	"github.com/bull/confrag/internal/model"
)

// Markdown splits markdown at H1 and H2 boundaries. Each section is one
// page whose title is the header path, e.g. "# Talk > ## Demo".
type Markdown struct {
	parser goldmark.Markdown
}

// NewMarkdown creates a markdown extractor configured with goldmark parser.
func NewMarkdown() *Markdown {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Markdown{parser: md}
}

func (m *Markdown) MIMETypes() []string      { return []string{"text/markdown", "text/x-markdown"} }
func (m *Markdown) FileType() model.FileType { return model.FileTypeMarkdown }

type heading struct {
	path string
	node ast.Node
}

func (m *Markdown) Extract(_ context.Context, source []byte) ([]Section, error) {
	reader := text.NewReader(source)
	doc := m.parser.Parser().Parse(reader)

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	var headings []heading
	flattenTOC(doc, tree.Items, nil, &headings)

	if len(headings) == 0 {
		return []Section{{Text: strings.TrimSpace(string(source))}}, nil
	}

	var sections []Section

	// Text before the first heading is kept as its own untitled section.
	first := headings[0].node.Lines().At(0)
	if preamble := strings.TrimSpace(string(source[:lineStart(source, first.Start)])); preamble != "" {
		sections = append(sections, Section{Text: preamble})
	}

	for i, h := range headings {
		start := lineStart(source, h.node.Lines().At(0).Start)
		end := len(source)
		if i+1 < len(headings) {
			end = lineStart(source, headings[i+1].node.Lines().At(0).Start)
		}
		sections = append(sections, Section{
			Title: h.path,
			Text:  strings.TrimSpace(string(source[start:end])),
		})
	}
	return sections, nil
}

// flattenTOC walks TOC items depth-first, which is document order.
func flattenTOC(doc ast.Node, items toc.Items, ancestors []string, out *[]heading) {
	for _, item := range items {
		current := append(append([]string(nil), ancestors...), string(item.Title))
		if node := findHeaderByID(doc, string(item.ID)); node != nil && node.Lines().Len() > 0 {
			*out = append(*out, heading{path: formatHeaderPath(current), node: node})
		}
		if len(item.Items) > 0 {
			flattenTOC(doc, item.Items, current, out)
		}
	}
}

// lineStart moves offset back to the start of its line so ATX markers are kept.
func lineStart(source []byte, offset int) int {
	for offset > 0 && source[offset-1] != '\n' {
		offset--
	}
	return offset
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	if len(path) == 0 {
		return ""
	}
	parts := make([]string, len(path))
	for i, segment := range path {
		parts[i] = fmt.Sprintf("%s %s", strings.Repeat("#", i+1), segment)
	}
	return strings.Join(parts, " > ")
}

// findHeaderByID locates a heading node by its auto-generated ID.
func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}
