package document

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Metadata about the page a Document was extracted from.
type Metadata struct {
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
	// Description: OGDescription, then the description meta tag
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// OGSiteName
	SiteName string `yaml:"siteName,omitempty" json:"site_name,omitempty"`
	// Length of the extracted text in characters, before truncation.
	Length int `yaml:"length" json:"length"`
}

// Document is the extracted text of one page. It is not modified after extraction.
type Document struct {
	URL     string
	RawHTML string
	// Text is the cleaned text, at most the configured max length in characters.
	Text string
	// Truncated is set when Text was cut to fit the max length.
	Truncated bool
	Metadata  Metadata
}

// FindTitle sets the title from the first level 1 heading of Markdown text, unless a
// title is already set.
func (d *Document) FindTitle() string {
	// If the title is already set, return it.
	if d.Metadata.Title != "" {
		return d.Metadata.Title
	}

	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)

	content := []byte(d.Text)
	reader := text.NewReader(content)
	doc := md.Parser().Parse(reader)

	var title string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if heading, ok := n.(*ast.Heading); ok && entering && heading.Level == 1 {
			var titleBuilder strings.Builder
			for child := heading.FirstChild(); child != nil; child = child.NextSibling() {
				if text, ok := child.(*ast.Text); ok {
					titleBuilder.Write(text.Segment.Value(content))
				}
			}
			title = titleBuilder.String()
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	d.Metadata.Title = title
	return title
}
