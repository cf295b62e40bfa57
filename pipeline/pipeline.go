// Package pipeline runs one URL through fetch, extraction, template lookup,
// completion and rendering. Every stage either hands its output to the next one or
// ends the run with a tagged error.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mempirate/recast/backend"
	"github.com/mempirate/recast/config"
	"github.com/mempirate/recast/content"
	"github.com/mempirate/recast/log"
	"github.com/mempirate/recast/prompt"
	"github.com/mempirate/recast/render"
	"github.com/mempirate/recast/scrape"
	"github.com/mempirate/recast/util"
)

const DefaultTemplate = "summary"

// Request describes one run. Zero values fall back to the settings.
type Request struct {
	URL      string
	Template string
	Format   string
	Model    string
	// Timeout of the page fetch.
	Timeout time.Duration
	Headers map[string]string
	// MaxLength caps the extracted text in characters.
	MaxLength int
}

type Metadata struct {
	RunID       string         `json:"run_id"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	FinalURL    string         `json:"final_url,omitempty"`
	PageBytes   int64          `json:"page_bytes,omitempty"`
	TextLength  int            `json:"text_length,omitempty"`
	Truncated   bool           `json:"truncated,omitempty"`
	Model       string         `json:"model,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Usage       *backend.Usage `json:"usage,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
	Duration    time.Duration  `json:"duration"`
}

// Result is what a caller gets back from a run. Content is only set on success.
type Result struct {
	Success  bool   `json:"success"`
	URL      string `json:"url"`
	Template string `json:"template"`
	Format   string `json:"format"`
	// Content is the rendered output.
	Content string `json:"content,omitempty"`
	// RawContent is the generated text before rendering.
	RawContent string   `json:"raw_content,omitempty"`
	Error      string   `json:"error,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	// Timeout is set when the failing stage ran out of time.
	Timeout    bool     `json:"timeout,omitempty"`
	Metadata   Metadata `json:"metadata"`
}

// Agent owns the stages. It holds no per-run state and may be used concurrently.
type Agent struct {
	log zerolog.Logger

	cfg       *config.Config
	scraper   scrape.Scraper
	extractor *content.Handler
	templates *prompt.Store
	completer backend.Completer
	renderer  *render.Renderer

	now func() time.Time
}

func NewAgent(cfg *config.Config, templates *prompt.Store, scraper scrape.Scraper, completer backend.Completer) (*Agent, error) {
	extractor, err := content.NewHandler(cfg.Extract.Mode)
	if err != nil {
		return nil, err
	}

	return &Agent{
		log:       log.NewLogger("pipeline"),
		cfg:       cfg,
		scraper:   scraper,
		extractor: extractor,
		templates: templates,
		completer: completer,
		renderer:  render.NewRenderer(),
		now:       time.Now,
	}, nil
}

// Process runs a single request. Failures are reported on the Result, never as a
// partial output.
func (a *Agent) Process(ctx context.Context, req Request) *Result {
	start := time.Now()

	if req.Template == "" {
		req.Template = DefaultTemplate
	}
	if req.Format == "" {
		req.Format = a.cfg.Output.Format
	}

	res := &Result{
		URL:      req.URL,
		Template: req.Template,
		Format:   req.Format,
		Metadata: Metadata{RunID: uuid.NewString()},
	}
	defer func() {
		res.Metadata.Duration = time.Since(start)
	}()

	log := a.log.With().Str("run_id", res.Metadata.RunID).Str("url", req.URL).Logger()
	log.Info().Str("template", req.Template).Str("format", req.Format).Msg("Processing URL")

	uri, err := scrape.ParseURL(req.URL)
	if err != nil {
		return a.fail(log, res, KindFetch, &scrape.FetchError{URL: req.URL, Cause: err})
	}

	// Format and template do not depend on the page, so check them before any
	// network traffic.
	format, err := render.ParseFormat(req.Format)
	if err != nil {
		return a.fail(log, res, KindRender, err)
	}
	res.Format = string(format)

	tmpl, err := a.templates.Get(req.Template)
	if err != nil {
		return a.fail(log, res, KindTemplateNotFound, err)
	}

	page, err := a.scraper.Fetch(ctx, req.URL, req.Timeout, req.Headers)
	if err != nil {
		return a.fail(log, res, KindFetch, err)
	}
	res.Metadata.FinalURL = page.FinalURL
	res.Metadata.PageBytes = page.Size

	log.Info().Int("status", page.StatusCode).Str("size", util.FormatBytes(page.Size)).Msg("Page fetched")

	maxLength := a.cfg.Extract.MaxLength
	if req.MaxLength > 0 {
		maxLength = req.MaxLength
	}

	doc, err := a.extractor.Extract(page.HTML, uri, maxLength)
	if err != nil {
		return a.fail(log, res, KindExtraction, err)
	}
	res.Metadata.Title = doc.Metadata.Title
	res.Metadata.Description = doc.Metadata.Description
	res.Metadata.TextLength = len([]rune(doc.Text))
	res.Metadata.Truncated = doc.Truncated

	log.Info().Int("length", res.Metadata.TextLength).Bool("truncated", doc.Truncated).Str("title", doc.Metadata.Title).Msg("Text extracted")

	completion, err := a.completer.Complete(ctx, backend.Request{
		SystemPrompt: tmpl.BuildSystemPrompt(),
		UserPrompt:   tmpl.BuildUserPrompt(doc.Text),
		Model:        req.Model,
	})
	if err == nil && completion == nil {
		err = &backend.CompletionError{Cause: errors.New("no completion result")}
	}
	if completion != nil {
		res.Metadata.Model = completion.Model
		res.Metadata.Attempts = completion.Attempts
		res.Metadata.RequestID = completion.RequestID
		if completion.Usage != (backend.Usage{}) {
			usage := completion.Usage
			res.Metadata.Usage = &usage
		}
	}
	if err == nil && !completion.Success {
		err = &backend.CompletionError{Attempts: completion.Attempts, Cause: errors.New(completion.Error)}
	}
	if err != nil {
		return a.fail(log, res, KindCompletion, err)
	}

	res.Metadata.GeneratedAt = a.now().UTC().Truncate(time.Second)

	out, err := a.renderer.Render(completion.Text, string(format), render.Metadata{
		URL:         req.URL,
		Template:    tmpl.Name,
		Model:       res.Metadata.Model,
		Title:       doc.Metadata.Title,
		GeneratedAt: res.Metadata.GeneratedAt,
	})
	if err != nil {
		return a.fail(log, res, KindRender, err)
	}

	res.Success = true
	res.Content = out.Body
	res.RawContent = completion.Text

	log.Info().Int("length", len(out.Body)).Dur("duration", time.Since(start)).Msg("URL processed")

	return res
}

func (a *Agent) fail(log zerolog.Logger, res *Result, stage string, err error) *Result {
	kind := Kind(err)
	if kind == KindUnknown {
		kind = stage
	}

	res.Success = false
	res.Kind = kind
	res.Error = err.Error()
	res.Timeout = isTimeout(err)

	log.Error().Err(err).Str("kind", kind).Bool("timeout", res.Timeout).Msg("Processing failed")
	return res
}

// ProcessBatch runs reqs with at most concurrency runs in flight, one at a time by
// default. Results are in the order of reqs.
func (a *Agent) ProcessBatch(ctx context.Context, reqs []Request, concurrency int) []*Result {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]*Result, len(reqs))

	var eg errgroup.Group
	eg.SetLimit(concurrency)

	for i, req := range reqs {
		eg.Go(func() error {
			a.log.Info().Int("index", i+1).Int("total", len(reqs)).Str("url", req.URL).Msg("Batch item")
			results[i] = a.Process(ctx, req)
			return nil
		})
	}

	// Process reports failures on the result, so Wait never returns an error.
	_ = eg.Wait()

	return results
}
