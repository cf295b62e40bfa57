// Package render turns generated text into one of the output formats. Rendering
// only fails on an unknown format; empty text renders an empty body.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"

	"github.com/mempirate/recast/log"
)

type Format string

const (
	Markdown Format = "markdown"
	HTML     Format = "html"
	Text     Format = "text"
	JSON     Format = "json"
)

var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat accepts a format name or one of its aliases (md, htm, txt, plain),
// case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md":
		return Markdown, nil
	case "html", "htm":
		return HTML, nil
	case "text", "txt", "plain":
		return Text, nil
	case "json":
		return JSON, nil
	}

	return "", errors.Wrapf(ErrUnknownFormat, "%q", s)
}

// Ext returns the file extension used when saving output of this format.
func (f Format) Ext() string {
	switch f {
	case Markdown:
		return ".md"
	case HTML:
		return ".html"
	case JSON:
		return ".json"
	default:
		return ".txt"
	}
}

const displayTime = "2006-01-02 15:04:05 MST"

// Metadata is carried into every format. GeneratedAt is supplied by the caller so
// that rendering the same input twice gives identical output.
type Metadata struct {
	URL         string
	Template    string
	Model       string
	Title       string
	GeneratedAt time.Time
}

type Stats struct {
	Characters int `json:"character_count"`
	Words      int `json:"word_count"`
	Lines      int `json:"line_count"`
}

func Statistics(text string) Stats {
	if text == "" {
		return Stats{}
	}

	return Stats{
		Characters: utf8.RuneCountInString(text),
		Words:      len(strings.Fields(text)),
		Lines:      strings.Count(text, "\n") + 1,
	}
}

type Output struct {
	Format   Format
	Body     string
	Metadata Metadata
	Stats    Stats
}

// Renderer is safe for concurrent use.
type Renderer struct {
	log zerolog.Logger

	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func NewRenderer() *Renderer {
	return &Renderer{
		log:    log.NewLogger("render"),
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
	}
}

// Render wraps text in the named format.
func (r *Renderer) Render(text string, format string, meta Metadata) (*Output, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}

	text = tidy(text)
	out := &Output{
		Format:   f,
		Metadata: meta,
		Stats:    Statistics(text),
	}

	switch f {
	case Markdown:
		out.Body, err = r.markdown(text, meta, out.Stats)
	case HTML:
		out.Body, err = r.html(text, meta, out.Stats)
	case Text:
		out.Body = r.text(text, meta, out.Stats)
	case JSON:
		out.Body, err = r.json(text, meta, out.Stats)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "failed to render %s", f)
	}

	r.log.Debug().Str("format", string(f)).Int("length", len(out.Body)).Msg("Rendered output")
	return out, nil
}

var blankLines = regexp.MustCompile(`\n{3,}`)

func tidy(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

type frontMatter struct {
	Title       string `yaml:"title,omitempty"`
	Source      string `yaml:"source,omitempty"`
	Template    string `yaml:"template,omitempty"`
	Model       string `yaml:"model,omitempty"`
	GeneratedAt string `yaml:"generated_at,omitempty"`
}

func (r *Renderer) markdown(text string, meta Metadata, stats Stats) (string, error) {
	var b strings.Builder

	fm, err := yaml.Marshal(frontMatter{
		Title:       meta.Title,
		Source:      meta.URL,
		Template:    meta.Template,
		Model:       meta.Model,
		GeneratedAt: formatTime(meta.GeneratedAt, time.RFC3339),
	})
	if err != nil {
		return "", err
	}

	if string(fm) != "{}\n" {
		b.WriteString("---\n")
		b.Write(fm)
		b.WriteString("---\n\n")
	}

	if text != "" {
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	b.WriteString("---\n\n**Statistics**\n\n")
	fmt.Fprintf(&b, "- Characters: %d\n", stats.Characters)
	fmt.Fprintf(&b, "- Words: %d\n", stats.Words)
	fmt.Fprintf(&b, "- Lines: %d\n", stats.Lines)

	return b.String(), nil
}

func (r *Renderer) html(text string, meta Metadata, stats Stats) (string, error) {
	var body bytes.Buffer
	if err := r.md.Convert([]byte(text), &body); err != nil {
		return "", err
	}

	title := meta.Title
	if title == "" {
		title = "Recast output"
	}

	var out bytes.Buffer
	err := pageTemplate.Execute(&out, struct {
		Title       string
		Meta        Metadata
		GeneratedAt string
		Body        template.HTML
		Stats       Stats
		Style       template.CSS
	}{
		Title:       title,
		Meta:        meta,
		GeneratedAt: formatTime(meta.GeneratedAt, displayTime),
		// The sanitized body is trusted by the template.
		Body:  template.HTML(r.policy.SanitizeBytes(body.Bytes())),
		Stats: stats,
		Style: template.CSS(pageStyle),
	})
	if err != nil {
		return "", err
	}

	return out.String(), nil
}

func (r *Renderer) text(text string, meta Metadata, stats Stats) string {
	var b strings.Builder

	banner := strings.Repeat("=", 80)
	rule := strings.Repeat("-", 50)

	title := meta.Title
	if title == "" {
		title = "Recast output"
	}

	b.WriteString(banner + "\n")
	b.WriteString(title + "\n")
	b.WriteString(banner + "\n")

	if meta.URL != "" || meta.Template != "" || !meta.GeneratedAt.IsZero() {
		b.WriteString("\n[Overview]\n")
		if meta.URL != "" {
			fmt.Fprintf(&b, "Source: %s\n", meta.URL)
		}
		if !meta.GeneratedAt.IsZero() {
			fmt.Fprintf(&b, "Generated: %s\n", formatTime(meta.GeneratedAt, displayTime))
		}
		if meta.Template != "" {
			fmt.Fprintf(&b, "Template: %s\n", meta.Template)
		}
		if meta.Model != "" {
			fmt.Fprintf(&b, "Model: %s\n", meta.Model)
		}
	}

	b.WriteString("\n[Content]\n")
	b.WriteString(rule + "\n")
	if plain := r.stripMarkdown(text); plain != "" {
		b.WriteString(plain + "\n")
	}

	b.WriteString("\n" + rule + "\n")
	b.WriteString("[Statistics]\n")
	fmt.Fprintf(&b, "Characters: %d\n", stats.Characters)
	fmt.Fprintf(&b, "Words: %d\n", stats.Words)
	fmt.Fprintf(&b, "Lines: %d\n", stats.Lines)
	b.WriteString(banner + "\n")

	return b.String()
}

type record struct {
	Content     string `json:"content"`
	URL         string `json:"url"`
	Template    string `json:"template"`
	Title       string `json:"title,omitempty"`
	Model       string `json:"model,omitempty"`
	Format      Format `json:"format"`
	GeneratedAt string `json:"generated_at"`
	Statistics  Stats  `json:"statistics"`
}

func (r *Renderer) json(text string, meta Metadata, stats Stats) (string, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	err := enc.Encode(record{
		Content:     text,
		URL:         meta.URL,
		Template:    meta.Template,
		Title:       meta.Title,
		Model:       meta.Model,
		Format:      JSON,
		GeneratedAt: formatTime(meta.GeneratedAt, time.RFC3339),
		Statistics:  stats,
	})
	if err != nil {
		return "", err
	}

	return buf.String(), nil
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(layout)
}
