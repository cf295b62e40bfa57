package content

import (
	"net/url"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/pkg/errors"
)

func newHandler(t *testing.T, mode Mode) *Handler {
	t.Helper()

	h, err := NewHandler(mode)
	if err != nil {
		t.Fatal(err)
	}

	return h
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "headings and paragraphs",
			html:     "<html><body><h1>Hello</h1><p>World</p></body></html>",
			expected: "Hello\nWorld",
		},
		{
			name:     "scripts and styles",
			html:     "<html><head><style>p{}</style></head><body><script>var x = 1;</script><p>Kept</p><style>.a{}</style></body></html>",
			expected: "Kept",
		},
		{
			name:     "whitespace collapsed",
			html:     "<body><p>  lots \n\t of   <b>space</b>  </p>\n\n\n<div>next</div></body>",
			expected: "lots of space\nnext",
		},
		{
			name:     "boilerplate removed",
			html:     `<body><nav>Home | About</nav><div class="post ads">Buy now</div><article><p>Body</p></article><footer>(c)</footer></body>`,
			expected: "Body",
		},
		{
			name:     "class substrings kept",
			html:     `<body><div class="shadow header-title">Kept</div></body>`,
			expected: "Kept",
		},
		{
			name:     "list items and line breaks",
			html:     "<body><ul><li>one</li><li>two</li></ul><p>a<br>b</p></body>",
			expected: "one\ntwo\na\nb",
		},
		{
			name:     "entities decoded",
			html:     "<body><p>Fish &amp; chips&nbsp;today</p></body>",
			expected: "Fish & chips today",
		},
	}

	h := newHandler(t, ModeText)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			doc, err := h.Extract(test.html, nil, 1000)
			if err != nil {
				t.Fatal(err)
			}

			if doc.Text != test.expected {
				t.Errorf("unexpected text: %q", doc.Text)
			}

			if doc.Truncated {
				t.Error("unexpected truncation")
			}
		})
	}
}

func TestExtractTruncation(t *testing.T) {
	h := newHandler(t, ModeText)
	body := "<body><p>" + strings.Repeat("界", 30) + "</p><p>" + strings.Repeat("a", 30) + "</p></body>"

	// Stripped text is 30 + 1 + 30 = 61 characters.
	for _, max := range []int{1, 10, 30, 31, 60, 61, 62, 1000} {
		doc, err := h.Extract(body, nil, max)
		if err != nil {
			t.Fatal(err)
		}

		if n := utf8.RuneCountInString(doc.Text); n > max {
			t.Errorf("max %d: text has %d characters", max, n)
		}

		if doc.Truncated != (61 > max) {
			t.Errorf("max %d: unexpected truncated flag %v", max, doc.Truncated)
		}

		if doc.Metadata.Length != 61 {
			t.Errorf("max %d: unexpected length %d", max, doc.Metadata.Length)
		}

		if !utf8.ValidString(doc.Text) {
			t.Errorf("max %d: truncation split a character", max)
		}
	}
}

func TestTruncateUnlimited(t *testing.T) {
	text, truncated := Truncate("abcdef", 0)
	if text != "abcdef" || truncated {
		t.Errorf("unexpected result: %q %v", text, truncated)
	}
}

func TestExtractNoText(t *testing.T) {
	h := newHandler(t, ModeText)

	for _, page := range []string{
		"",
		"<html><body>   \n\t </body></html>",
		"<html><body><script>alert(1)</script><style>p{}</style></body></html>",
	} {
		_, err := h.Extract(page, nil, 1000)
		if !errors.Is(err, ErrNoText) {
			t.Errorf("expected ErrNoText for %q, got %v", page, err)
		}
	}
}

func TestExtractMetadata(t *testing.T) {
	h := newHandler(t, ModeText)

	page := `<html><head>
<title> Plain  title </title>
<meta name="description" content="A description">
</head><body><p>Text</p></body></html>`

	doc, err := h.Extract(page, nil, 1000)
	if err != nil {
		t.Fatal(err)
	}

	if doc.Metadata.Title != "Plain title" {
		t.Errorf("unexpected title: %q", doc.Metadata.Title)
	}

	if doc.Metadata.Description != "A description" {
		t.Errorf("unexpected description: %q", doc.Metadata.Description)
	}

	og := `<html><head>
<title>Plain</title>
<meta property="og:title" content="Open Graph title">
<meta property="og:site_name" content="Site">
</head><body><p>Text</p></body></html>`

	doc, err = h.Extract(og, nil, 1000)
	if err != nil {
		t.Fatal(err)
	}

	if doc.Metadata.Title != "Open Graph title" || doc.Metadata.SiteName != "Site" {
		t.Errorf("unexpected metadata: %+v", doc.Metadata)
	}
}

func TestExtractMarkdown(t *testing.T) {
	h := newHandler(t, ModeMarkdown)
	uri, _ := url.Parse("https://example.com/post")

	doc, err := h.Extract("<html><body><h1>Hello</h1><p>World with <strong>bold</strong></p></body></html>", uri, 1000)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(doc.Text, "# Hello") || !strings.Contains(doc.Text, "**bold**") {
		t.Errorf("unexpected markdown: %q", doc.Text)
	}

	if doc.Metadata.Title != "Hello" {
		t.Errorf("unexpected title: %q", doc.Metadata.Title)
	}

	if doc.URL != "https://example.com/post" {
		t.Errorf("unexpected url: %s", doc.URL)
	}
}

func TestExtractReadability(t *testing.T) {
	h := newHandler(t, ModeReadability)
	uri, _ := url.Parse("https://example.com/post")

	paragraph := strings.Repeat("This is a sentence of the main article body, long enough to count. ", 8)
	page := `<html><head><title>Article</title></head><body>
<div class="menu"><a href="/">Home</a></div>
<article><h1>Article</h1><p>` + paragraph + `</p><p>` + paragraph + `</p></article>
</body></html>`

	doc, err := h.Extract(page, uri, 0)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(doc.Text, "main article body") {
		t.Errorf("article text missing: %q", doc.Text)
	}

	if strings.Contains(doc.Text, "\n\n") {
		t.Errorf("blank lines left in text: %q", doc.Text)
	}
}

func TestNewHandlerUnknownMode(t *testing.T) {
	if _, err := NewHandler("pdf"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
