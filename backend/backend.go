// Package backend talks to an OpenAI-compatible chat completion endpoint.
package backend

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mempirate/recast/config"
	"github.com/mempirate/recast/log"
)

var ErrMissingAPIKey = errors.New("missing API key")

// Completer produces a completion for a system and user prompt pair.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

type Request struct {
	SystemPrompt string
	UserPrompt   string
	// Model overrides the configured model when set.
	Model string
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Result is the outcome of one Complete call. On failure Success is false and
// Error holds the last error.
type Result struct {
	Text      string        `json:"text"`
	Model     string        `json:"model"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	RequestID string        `json:"request_id,omitempty"`
	Usage     Usage         `json:"usage"`
	Duration  time.Duration `json:"duration"`
}

// CompletionError is returned once retries are exhausted, or immediately for
// failures that retrying cannot fix.
type CompletionError struct {
	Attempts   int
	StatusCode int
	Auth       bool
	Timeout    bool
	Cause      error
}

func (e *CompletionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "completion failed after %d attempt(s)", e.Attempts)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *CompletionError) Unwrap() error {
	return e.Cause
}

// Backend is a Completer backed by the openai-go client. The SDK's own retries are
// disabled; Complete runs its own bounded loop.
type Backend struct {
	log zerolog.Logger

	client openai.Client
	apiKey string
	cfg    config.CompletionConfig
}

func NewBackend(apiKey string, cfg config.CompletionConfig, opts ...option.RequestOption) *Backend {
	log := log.NewLogger("backend")

	log.Info().Str("endpoint", cfg.Endpoint).Str("model", cfg.Model).Msg("Initializing completion client")
	client := openai.NewClient(append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.Endpoint),
		option.WithMaxRetries(0),
	}, opts...)...)

	return &Backend{
		log:    log,
		client: client,
		apiKey: apiKey,
		cfg:    cfg,
	}
}

// Complete sends the prompts to the model. Network errors, timeouts, 408, 429 and
// 5xx responses are retried up to MaxAttempts times with a linearly growing delay.
// Authentication failures and other 4xx responses are returned at once.
func (b *Backend) Complete(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = b.cfg.Model
	}

	res := &Result{Model: model}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
	}()

	if b.apiKey == "" {
		return b.fail(res, &CompletionError{Auth: true, Cause: ErrMissingAPIKey})
	}

	maxAttempts := max(b.cfg.MaxAttempts, 1)

	var lastErr *CompletionError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * b.cfg.RetryDelay
			b.log.Warn().Int("attempt", attempt).Dur("delay", delay).Err(lastErr.Cause).Msg("Retrying completion")

			select {
			case <-ctx.Done():
				lastErr.Cause = errors.Wrap(ctx.Err(), "cancelled while waiting to retry")
				return b.fail(res, lastErr)
			case <-time.After(delay):
			}
		}

		res.Attempts = attempt

		completion, err := b.send(ctx, model, req)
		if err == nil {
			if len(completion.Choices) == 0 {
				return b.fail(res, &CompletionError{Attempts: attempt, Cause: errors.New("response has no choices")})
			}

			res.Success = true
			res.Text = completion.Choices[0].Message.Content
			res.RequestID = completion.ID
			if completion.Model != "" {
				res.Model = completion.Model
			}
			res.Usage = Usage{
				PromptTokens:     completion.Usage.PromptTokens,
				CompletionTokens: completion.Usage.CompletionTokens,
				TotalTokens:      completion.Usage.TotalTokens,
			}

			b.log.Info().Str("model", res.Model).Int("attempt", attempt).Int("length", len(res.Text)).Int64("tokens", res.Usage.TotalTokens).Dur("duration", time.Since(start)).Msg("Completion succeeded")
			return res, nil
		}

		status, auth, timeout, transient := classify(err)
		lastErr = &CompletionError{Attempts: attempt, StatusCode: status, Auth: auth, Timeout: timeout, Cause: err}

		if !transient || ctx.Err() != nil {
			return b.fail(res, lastErr)
		}
	}

	return b.fail(res, lastErr)
}

func (b *Backend) send(ctx context.Context, model string, req Request) (*openai.ChatCompletion, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}

	if b.cfg.Temperature > 0 {
		params.Temperature = openai.Float(b.cfg.Temperature)
	}
	if b.cfg.TopP > 0 {
		params.TopP = openai.Float(b.cfg.TopP)
	}
	if b.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(b.cfg.MaxTokens)
	}

	b.log.Debug().Str("model", model).Int("prompt_length", len(req.UserPrompt)).Msg("Sending completion request")

	return b.client.Chat.Completions.New(ctx, params)
}

func (b *Backend) fail(res *Result, err *CompletionError) (*Result, error) {
	err.Attempts = res.Attempts
	res.Success = false
	res.Error = err.Error()

	b.log.Error().Err(err.Cause).Int("attempts", err.Attempts).Int("status", err.StatusCode).Bool("auth", err.Auth).Bool("timeout", err.Timeout).Msg("Completion failed")
	return res, err
}

// Ping checks that the endpoint accepts the credentials and answers a trivial prompt.
func (b *Backend) Ping(ctx context.Context) (*Result, error) {
	return b.Complete(ctx, Request{
		SystemPrompt: "You are a helpful assistant.",
		UserPrompt:   "Reply with the single word: pong",
	})
}

// classify reports the HTTP status of err (if any) and whether it is an
// authentication failure, a timeout, and worth retrying.
func classify(err error) (status int, auth, timeout, transient bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return status, true, false, false
		case status == http.StatusRequestTimeout:
			return status, false, true, true
		case status == http.StatusTooManyRequests || status >= 500:
			return status, false, false, true
		default:
			return status, false, false, false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return 0, false, true, true
	}

	if errors.Is(err, context.Canceled) {
		return 0, false, false, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return 0, false, netErr.Timeout(), true
	}

	// Unclassified transport failures, e.g. a refused connection.
	return 0, false, false, true
}
