package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"

	"github.com/mempirate/recast/config"
	"github.com/mempirate/recast/log"
	"github.com/mempirate/recast/util"
)

var ErrInvalidURL = errors.New("url must be an absolute http(s) URL")

// Scraper fetches the raw HTML of a web page.
type Scraper interface {
	Fetch(ctx context.Context, rawURL string, timeout time.Duration, headers map[string]string) (*Page, error)
}

// Page is a fetched HTML document plus response metadata.
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Encoding    string
	HTML        string
	Size        int64
}

// FetchError is returned for every fetch failure. StatusCode is zero when no
// response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Timeout    bool
	Cause      error
}

func (e *FetchError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("fetch %s: timed out: %v", e.URL, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Cause)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// HTTPScraper issues a single GET per page with browser-like headers. It never
// retries; that is up to the caller.
type HTTPScraper struct {
	log zerolog.Logger

	client   *http.Client
	timeout  time.Duration
	headers  map[string]string
	maxBytes int64
}

func NewHTTPScraper(cfg config.FetchConfig) *HTTPScraper {
	return &HTTPScraper{
		log:      log.NewLogger("scrape"),
		client:   &http.Client{},
		timeout:  cfg.Timeout,
		headers:  cfg.Headers,
		maxBytes: cfg.MaxBodyBytes,
	}
}

// ParseURL validates that rawURL is an absolute http or https URL.
func ParseURL(rawURL string) (*url.URL, error) {
	uri, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidURL, err.Error())
	}

	if (uri.Scheme != "http" && uri.Scheme != "https") || uri.Host == "" {
		return nil, ErrInvalidURL
	}

	return uri, nil
}

// Fetch downloads rawURL. A zero timeout uses the configured default; headers are
// merged over the default headers.
func (s *HTTPScraper) Fetch(ctx context.Context, rawURL string, timeout time.Duration, headers map[string]string) (*Page, error) {
	uri, err := ParseURL(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Cause: err}
	}

	if timeout <= 0 {
		timeout = s.timeout
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Cause: err}
	}

	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	s.log.Debug().Str("url", rawURL).Dur("timeout", timeout).Msg("Fetching page")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Timeout: isTimeout(err), Cause: errors.Wrap(err, "request failed")}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Cause: errors.New(http.StatusText(resp.StatusCode))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.limit()))
	if err != nil {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Timeout: isTimeout(err), Cause: errors.Wrap(err, "failed to read body")}
	}

	header := resp.Header.Get("Content-Type")
	if header == "" {
		header = http.DetectContentType(body)
	}

	ct, _, err := mime.ParseMediaType(header)
	if err != nil {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Cause: errors.Wrap(err, "failed to parse content type")}
	}

	if ct != "text/html" && ct != "application/xhtml+xml" {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Cause: errors.Errorf("unsupported content type: %s", ct)}
	}

	_, encoding, _ := charset.DetermineEncoding(body, header)
	decoded, err := charset.NewReaderLabel(encoding, bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Cause: errors.Wrapf(err, "unsupported charset %s", encoding)}
	}

	text, err := io.ReadAll(decoded)
	if err != nil {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Cause: errors.Wrap(err, "failed to decode body")}
	}

	page := &Page{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: ct,
		Encoding:    encoding,
		HTML:        string(text),
		Size:        int64(len(body)),
	}

	s.log.Info().Str("url", rawURL).Int("status", page.StatusCode).Str("size", util.FormatBytes(page.Size)).Dur("duration", time.Since(start)).Msg("Page fetched")

	return page, nil
}

func (s *HTTPScraper) limit() int64 {
	if s.maxBytes > 0 {
		return s.maxBytes
	}
	return 10 << 20
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
