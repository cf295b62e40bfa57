package content

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
	"github.com/go-shiori/go-readability"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/mempirate/recast/document"
	"github.com/mempirate/recast/log"
)

type Mode = string

const (
	// ModeText strips markup and boilerplate and keeps one line per block element.
	ModeText Mode = "text"
	// ModeReadability keeps only the main article as found by readability.
	ModeReadability Mode = "readability"
	// ModeMarkdown converts the page to Markdown.
	ModeMarkdown Mode = "markdown"
)

// ErrNoText is returned when a page has no visible text left after cleaning.
var ErrNoText = errors.New("no visible text after extraction")

// Elements that never carry article text.
var droppedElements = strings.Join([]string{
	"head", "script", "style", "noscript", "template", "svg", "iframe",
	"nav", "header", "footer", "aside",
}, ",")

var boilerplateClasses = map[string]struct{}{
	"nav": {}, "menu": {}, "sidebar": {}, "footer": {}, "ad": {}, "ads": {},
	"advertisement": {}, "comment": {}, "comments": {}, "share": {}, "social": {},
	"related": {}, "recommend": {}, "popup": {}, "modal": {},
}

var blockElements = map[string]struct{}{
	"address": {}, "article": {}, "blockquote": {}, "br": {}, "dd": {}, "div": {},
	"dl": {}, "dt": {}, "figcaption": {}, "figure": {}, "h1": {}, "h2": {}, "h3": {},
	"h4": {}, "h5": {}, "h6": {}, "hr": {}, "li": {}, "main": {}, "ol": {}, "p": {},
	"pre": {}, "section": {}, "table": {}, "tr": {}, "ul": {},
}

var blankLines = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+`)

type Handler struct {
	log  zerolog.Logger
	mode Mode
}

func NewHandler(mode Mode) (*Handler, error) {
	if mode == "" {
		mode = ModeText
	}

	switch mode {
	case ModeText, ModeReadability, ModeMarkdown:
	default:
		return nil, errors.Errorf("unknown extraction mode: %s", mode)
	}

	return &Handler{
		log:  log.NewLogger("content"),
		mode: mode,
	}, nil
}

// Extract cleans rawHTML into plain text of at most maxLength characters. A
// non-positive maxLength disables truncation. uri may be nil.
func (h *Handler) Extract(rawHTML string, uri *url.URL, maxLength int) (*document.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse HTML")
	}

	meta := extractMetadata(rawHTML, doc)

	var text string
	switch h.mode {
	case ModeReadability:
		text, err = h.readableText(rawHTML, uri, &meta)
	case ModeMarkdown:
		text, err = markdownText(rawHTML, uri)
	default:
		text = plainText(doc)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}

	d := &document.Document{
		RawHTML:  rawHTML,
		Metadata: meta,
	}
	if uri != nil {
		d.URL = uri.String()
	}

	d.Metadata.Length = utf8.RuneCountInString(text)
	d.Text, d.Truncated = Truncate(text, maxLength)

	if h.mode == ModeMarkdown {
		d.FindTitle()
	}

	h.log.Debug().Str("url", d.URL).Str("mode", h.mode).Int("length", d.Metadata.Length).Bool("truncated", d.Truncated).Msg("Text extracted")

	return d, nil
}

// Truncate cuts text to at most maxLength characters. The cut is not sentence aware.
func Truncate(text string, maxLength int) (string, bool) {
	if maxLength <= 0 || utf8.RuneCountInString(text) <= maxLength {
		return text, false
	}

	runes := []rune(text)
	return string(runes[:maxLength]), true
}

func plainText(doc *goquery.Document) string {
	doc.Find(droppedElements).Remove()
	doc.Find("[class]").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		for _, c := range strings.Fields(strings.ToLower(class)) {
			if _, ok := boilerplateClasses[c]; ok {
				s.Remove()
				return
			}
		}
	})

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	w := &textWriter{}
	for _, n := range root.Nodes {
		w.walk(n)
	}
	w.flush()

	return strings.Join(w.lines, "\n")
}

// textWriter collects text nodes into lines, breaking at block elements.
type textWriter struct {
	lines []string
	cur   strings.Builder
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.cur.WriteString(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	}

	_, block := blockElements[n.Data]
	if n.Type == html.ElementNode && block {
		w.flush()
	}

	if n.Type == html.ElementNode && (n.Data == "td" || n.Data == "th") {
		w.cur.WriteByte(' ')
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}

	if n.Type == html.ElementNode && block {
		w.flush()
	}
}

func (w *textWriter) flush() {
	if line := collapse(w.cur.String()); line != "" {
		w.lines = append(w.lines, line)
	}
	w.cur.Reset()
}

// collapse removes control characters and squeezes whitespace runs to one space.
func collapse(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	return strings.Join(strings.Fields(s), " ")
}

// normalizeLines collapses each line and drops the empty ones.
func normalizeLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = collapse(line); line != "" {
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n")
}

func (h *Handler) readableText(rawHTML string, uri *url.URL, meta *document.Metadata) (string, error) {
	if uri == nil {
		uri = &url.URL{}
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), uri)
	if err != nil {
		return "", errors.Wrap(err, "failed to extract article")
	}

	if meta.Title == "" {
		meta.Title = collapse(article.Title)
	}

	return normalizeLines(article.TextContent), nil
}

func markdownText(rawHTML string, uri *url.URL) (string, error) {
	var opts []converter.ConvertOptionFunc
	if uri != nil {
		opts = append(opts, converter.WithDomain(uri.Host))
	}

	out, err := md.ConvertString(rawHTML, opts...)
	if err != nil {
		return "", errors.Wrap(err, "failed to convert HTML to Markdown")
	}

	return strings.TrimSpace(blankLines.ReplaceAllString(out, "\n")), nil
}

// extractMetadata prefers OpenGraph tags and falls back to <title> and the
// description meta tag.
func extractMetadata(rawHTML string, doc *goquery.Document) document.Metadata {
	var meta document.Metadata

	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(strings.NewReader(rawHTML)); err == nil {
		meta.Title = collapse(og.Title)
		meta.Description = collapse(og.Description)
		meta.SiteName = collapse(og.SiteName)
	}

	if meta.Title == "" {
		for _, n := range doc.Nodes {
			if title, ok := extractTitle(n); ok {
				meta.Title = title
				break
			}
		}
	}

	if meta.Description == "" {
		if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
			meta.Description = collapse(desc)
		}
	}

	return meta
}

func isTitleElement(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "title"
}

func extractTitle(n *html.Node) (string, bool) {
	if isTitleElement(n) {
		if n.FirstChild == nil {
			return "", false
		}
		title := collapse(n.FirstChild.Data)
		return title, title != ""
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if result, ok := extractTitle(c); ok {
			return result, ok
		}
	}

	return "", false
}
