package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/mempirate/recast/backend"
	"github.com/mempirate/recast/config"
	"github.com/mempirate/recast/content"
	"github.com/mempirate/recast/prompt"
	"github.com/mempirate/recast/render"
	"github.com/mempirate/recast/scrape"
)

const helloPage = `<html><body><h1>Hello</h1><p>World</p></body></html>`

type stubCompleter struct {
	text string
	err  error

	mu       sync.Mutex
	requests []backend.Request
}

func (s *stubCompleter) Complete(ctx context.Context, req backend.Request) (*backend.Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.err != nil {
		return &backend.Result{Model: "stub", Attempts: 1, Error: s.err.Error()}, s.err
	}

	return &backend.Result{Text: s.text, Model: "stub", Success: true, Attempts: 1}, nil
}

func (s *stubCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// pageServer serves pages by path; unknown paths are 404. /slow answers only after
// the client gives up.
func pageServer(t *testing.T, pages map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if r.URL.Path == "/slow" {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}

		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

func newTestAgent(t *testing.T, completer backend.Completer) *Agent {
	t.Helper()

	templates, err := prompt.Load(filepath.Join(t.TempDir(), "prompts"))
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Fetch.Timeout = 5 * time.Second

	agent, err := NewAgent(cfg, templates, scrape.NewHTTPScraper(cfg.Fetch), completer)
	if err != nil {
		t.Fatal(err)
	}

	agent.now = func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}

	return agent
}

func TestProcessHelloWorld(t *testing.T) {
	srv, _ := pageServer(t, map[string]string{"/hello": helloPage})
	completer := &stubCompleter{text: "A brief greeting."}
	agent := newTestAgent(t, completer)

	url := srv.URL + "/hello"

	res := agent.Process(context.Background(), Request{URL: url, Template: "summary", Format: "markdown", MaxLength: 1000})
	if !res.Success {
		t.Fatalf("expected success, got %s: %s", res.Kind, res.Error)
	}

	if completer.calls() != 1 {
		t.Fatalf("expected one completion, got %d", completer.calls())
	}

	userPrompt := completer.requests[0].UserPrompt
	if strings.Count(userPrompt, "Hello\nWorld") != 1 {
		t.Errorf("expected extracted text exactly once in prompt: %q", userPrompt)
	}

	if strings.Contains(userPrompt, prompt.ContentPlaceholder) {
		t.Errorf("placeholder left in prompt: %q", userPrompt)
	}

	if !strings.Contains(res.Content, "A brief greeting.\n") {
		t.Errorf("markdown output missing generated text:\n%s", res.Content)
	}

	if res.RawContent != "A brief greeting." {
		t.Errorf("unexpected raw content %q", res.RawContent)
	}

	if res.Metadata.TextLength != len("Hello\nWorld") || res.Metadata.Truncated {
		t.Errorf("unexpected extraction metadata: %+v", res.Metadata)
	}

	res = agent.Process(context.Background(), Request{URL: url, Template: "summary", Format: "json", MaxLength: 1000})
	if !res.Success {
		t.Fatalf("expected success, got %s: %s", res.Kind, res.Error)
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(res.Content), &record); err != nil {
		t.Fatalf("json output does not parse: %v", err)
	}

	if record["content"] != "A brief greeting." || record["url"] != url || record["template"] != "summary" {
		t.Errorf("unexpected json record: %v", record)
	}

	if _, ok := record["generated_at"]; !ok {
		t.Errorf("json record has no timestamp: %v", record)
	}
}

func TestProcessFailures(t *testing.T) {
	srv, hits := pageServer(t, map[string]string{
		"/hello": helloPage,
		"/empty": `<html><head><title>Nothing</title><script>var x = 1;</script></head><body>  </body></html>`,
	})

	tests := []struct {
		name          string
		req           Request
		completionErr error
		wantKind      string
		wantFetch     bool
		wantComplete  bool
		wantTimeout   bool
	}{
		{
			name:      "not found page",
			req:       Request{URL: srv.URL + "/missing"},
			wantKind:  KindFetch,
			wantFetch: true,
		},
		{
			name:      "page without text",
			req:       Request{URL: srv.URL + "/empty"},
			wantKind:  KindExtraction,
			wantFetch: true,
		},
		{
			name:     "unknown template",
			req:      Request{URL: srv.URL + "/hello", Template: "sonnet"},
			wantKind: KindTemplateNotFound,
		},
		{
			name:     "template checked before fetch",
			req:      Request{URL: srv.URL + "/missing", Template: "sonnet"},
			wantKind: KindTemplateNotFound,
		},
		{
			name:        "fetch timeout",
			req:         Request{URL: srv.URL + "/slow", Timeout: 50 * time.Millisecond},
			wantKind:    KindFetch,
			wantFetch:   true,
			wantTimeout: true,
		},
		{
			name:     "unknown format",
			req:      Request{URL: srv.URL + "/hello", Format: "docx"},
			wantKind: KindRender,
		},
		{
			name:     "relative url",
			req:      Request{URL: "/hello"},
			wantKind: KindFetch,
		},
		{
			name:          "completion fails",
			req:           Request{URL: srv.URL + "/hello"},
			completionErr: &backend.CompletionError{Attempts: 3, StatusCode: 503, Cause: errors.New("unavailable")},
			wantKind:      KindCompletion,
			wantFetch:     true,
			wantComplete:  true,
		},
		{
			name:          "completion timeout",
			req:           Request{URL: srv.URL + "/hello"},
			completionErr: &backend.CompletionError{Attempts: 3, Timeout: true, Cause: context.DeadlineExceeded},
			wantKind:      KindCompletion,
			wantFetch:     true,
			wantComplete:  true,
			wantTimeout:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits.Store(0)

			completer := &stubCompleter{text: "unused", err: tt.completionErr}
			agent := newTestAgent(t, completer)

			res := agent.Process(context.Background(), tt.req)
			if res.Success {
				t.Fatal("expected failure")
			}

			if res.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s (%s)", tt.wantKind, res.Kind, res.Error)
			}

			if res.Timeout != tt.wantTimeout {
				t.Errorf("expected timeout=%v, got %v (%s)", tt.wantTimeout, res.Timeout, res.Error)
			}

			if res.Error == "" || res.Content != "" || res.RawContent != "" {
				t.Errorf("failed result must carry an error and no output: %+v", res)
			}

			if fetched := hits.Load() > 0; fetched != tt.wantFetch {
				t.Errorf("expected fetch=%v, got %d requests", tt.wantFetch, hits.Load())
			}

			if called := completer.calls() > 0; called != tt.wantComplete {
				t.Errorf("expected completion=%v, got %d calls", tt.wantComplete, completer.calls())
			}
		})
	}
}

func TestProcessInvalidTemplate(t *testing.T) {
	srv, _ := pageServer(t, map[string]string{"/hello": helloPage})

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nsystem_prompt: s\nuser_prompt: no placeholder\n"), 0644); err != nil {
		t.Fatal(err)
	}

	templates, err := prompt.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	completer := &stubCompleter{text: "unused"}
	agent, err := NewAgent(cfg, templates, scrape.NewHTTPScraper(cfg.Fetch), completer)
	if err != nil {
		t.Fatal(err)
	}

	res := agent.Process(context.Background(), Request{URL: srv.URL + "/hello", Template: "broken"})
	if res.Success || res.Kind != KindTemplateInvalid {
		t.Errorf("expected TemplateInvalid, got %+v", res)
	}

	if completer.calls() != 0 {
		t.Error("completion must not run for an invalid template")
	}
}

func TestProcessBatch(t *testing.T) {
	srv, _ := pageServer(t, map[string]string{
		"/a": `<html><body><p>Alpha</p></body></html>`,
		"/b": `<html><body><p>Beta</p></body></html>`,
	})

	completer := &stubCompleter{text: "done"}
	agent := newTestAgent(t, completer)

	reqs := []Request{
		{URL: srv.URL + "/a"},
		{URL: srv.URL + "/missing"},
		{URL: srv.URL + "/b"},
	}

	for _, concurrency := range []int{0, 1, 3} {
		results := agent.ProcessBatch(context.Background(), reqs, concurrency)
		if len(results) != len(reqs) {
			t.Fatalf("expected %d results, got %d", len(reqs), len(results))
		}

		for i, res := range results {
			if res.URL != reqs[i].URL {
				t.Errorf("concurrency %d: result %d is for %s, want %s", concurrency, i, res.URL, reqs[i].URL)
			}
		}

		if !results[0].Success || results[1].Success || !results[2].Success {
			t.Errorf("concurrency %d: unexpected outcomes %v %v %v", concurrency, results[0].Success, results[1].Success, results[2].Success)
		}
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()

	res := &Result{
		Success:  true,
		URL:      "https://example.com/blog/2024/my-post.html",
		Format:   string(render.Markdown),
		Content:  "# Saved\n",
		Metadata: Metadata{},
	}

	first, err := Save(res, "", dir)
	if err != nil {
		t.Fatal(err)
	}

	if filepath.Base(first) != "my-post.md" {
		t.Errorf("unexpected file name %s", first)
	}

	second, err := Save(res, "", dir)
	if err != nil {
		t.Fatal(err)
	}

	if filepath.Base(second) != "my-post-2.md" {
		t.Errorf("expected a fresh name, got %s", second)
	}

	res.Metadata.Title = "A Title: With/Slashes"
	titled, err := Save(res, "", dir)
	if err != nil {
		t.Fatal(err)
	}

	if filepath.Base(titled) != "A Title- With-Slashes.md" {
		t.Errorf("unexpected titled name %s", titled)
	}

	explicit := filepath.Join(dir, "nested", "out.md")
	got, err := Save(res, explicit, "")
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "# Saved\n" {
		t.Errorf("unexpected content %q", data)
	}

	if _, err := Save(&Result{Error: "boom"}, explicit, ""); err == nil {
		t.Error("expected failed results to be refused")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&scrape.FetchError{URL: "u", StatusCode: 404, Cause: errors.New("not found")}, KindFetch},
		{&scrape.FetchError{URL: "u", Cause: scrape.ErrInvalidURL}, KindFetch},
		{errors.Wrap(content.ErrNoText, "extract"), KindExtraction},
		{errors.Wrap(prompt.ErrTemplateNotFound, "x"), KindTemplateNotFound},
		{&prompt.InvalidError{Name: "x", Reason: "r"}, KindTemplateInvalid},
		{errors.Wrap(&backend.CompletionError{Attempts: 1}, "complete"), KindCompletion},
		{errors.Wrap(render.ErrUnknownFormat, "docx"), KindRender},
		{errors.New("other"), KindUnknown},
	}

	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
