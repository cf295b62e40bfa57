package pipeline

import (
	"github.com/pkg/errors"

	"github.com/mempirate/recast/backend"
	"github.com/mempirate/recast/content"
	"github.com/mempirate/recast/prompt"
	"github.com/mempirate/recast/render"
	"github.com/mempirate/recast/scrape"
)

// Error kinds reported on a failed Result.
const (
	KindFetch            = "FetchError"
	KindExtraction       = "ExtractionError"
	KindTemplateNotFound = "TemplateNotFound"
	KindTemplateInvalid  = "TemplateInvalid"
	KindCompletion       = "CompletionError"
	KindRender           = "RenderError"
	KindUnknown          = "Error"
)

func isTimeout(err error) bool {
	var (
		fetchErr      *scrape.FetchError
		completionErr *backend.CompletionError
	)

	switch {
	case errors.As(err, &fetchErr):
		return fetchErr.Timeout
	case errors.As(err, &completionErr):
		return completionErr.Timeout
	}

	return false
}

// Kind maps an error from any stage onto its kind.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var (
		fetchErr      *scrape.FetchError
		invalidErr    *prompt.InvalidError
		completionErr *backend.CompletionError
	)

	switch {
	case errors.As(err, &fetchErr):
		return KindFetch
	case errors.Is(err, content.ErrNoText):
		return KindExtraction
	case errors.Is(err, prompt.ErrTemplateNotFound):
		return KindTemplateNotFound
	case errors.As(err, &invalidErr):
		return KindTemplateInvalid
	case errors.As(err, &completionErr):
		return KindCompletion
	case errors.Is(err, render.ErrUnknownFormat):
		return KindRender
	}

	return KindUnknown
}
