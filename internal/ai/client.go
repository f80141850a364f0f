// Package ai wraps the OpenAI chat API behind the small summarize/translate
// surface the prefetch worker consumes. All calls funnel through one rate
// limiter so the worker's serial discipline also bounds spend.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	retry "github.com/avast/retry-go/v4"
	"github.com/charmbracelet/log"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
)

const (
	defaultModel      = openai.ChatModelGPT4oMini
	defaultTimeout    = 60 * time.Second
	defaultRatePerSec = 0.5
	defaultRetries    = 3

	// Inputs beyond this are truncated before the request; summaries of a
	// page tail add little and the token cost is real.
	maxInputChars = 24000

	summarySystemPrompt = "You summarize web page text for being read aloud. " +
		"Produce a concise spoken-style summary in the same language as the input. " +
		"No headings, no lists, plain sentences only."

	translateSystemPrompt = "You translate text for being read aloud. " +
		"Translate the user's text into %s. Output only the translation, plain sentences, " +
		"no commentary."
)

// ErrNoCredential is returned when the client was built without an API key.
var ErrNoCredential = errors.New("ai: no API key configured")

// Config holds settings for the OpenAI-backed client.
type Config struct {
	APIKey     string        `yaml:"api_key" env:"TABREADER_AI_API_KEY"`
	Model      string        `yaml:"model" env:"TABREADER_AI_MODEL"`
	BaseURL    string        `yaml:"base_url" env:"TABREADER_AI_BASE_URL"`
	RatePerSec float64       `yaml:"rate_per_sec" env:"TABREADER_AI_RATE_PER_SEC"`
	MaxRetries int           `yaml:"max_retries" env:"TABREADER_AI_MAX_RETRIES"`
	Timeout    time.Duration `yaml:"timeout" env:"TABREADER_AI_TIMEOUT"`
}

// Client talks to the OpenAI chat completions API.
type Client struct {
	api        openai.Client
	model      string
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	hasKey     bool
	logger     *log.Logger
}

// NewClient builds a client from config. A missing API key is allowed; calls
// then fail with ErrNoCredential so the worker can report it per job.
func NewClient(cfg Config, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		// retry-go owns retries so the SDK must not stack its own.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		api:        openai.NewClient(opts...),
		model:      cfg.Model,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		hasKey:     strings.TrimSpace(cfg.APIKey) != "",
		logger:     logger,
	}
}

// HasCredential reports whether an API key is configured.
func (c *Client) HasCredential() bool {
	return c.hasKey
}

// Summarize produces a spoken-style summary of text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	return c.complete(ctx, summarySystemPrompt, text)
}

// Translate renders text into the target language.
func (c *Client) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if strings.TrimSpace(targetLanguage) == "" {
		return "", errors.New("ai: empty target language")
	}
	return c.complete(ctx, fmt.Sprintf(translateSystemPrompt, targetLanguage), text)
}

// truncateInput cuts s to at most max bytes without splitting a rune.
func truncateInput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (c *Client) complete(ctx context.Context, system, input string) (string, error) {
	if !c.hasKey {
		return "", ErrNoCredential
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("ai: empty input text")
	}
	input = truncateInput(input, maxInputChars)

	var out string
	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			resp, err := c.api.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
				Model: c.model,
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.SystemMessage(system),
					openai.UserMessage(input),
				},
			})
			if err != nil {
				return fmt.Errorf("chat completion failed: %w", err)
			}
			if len(resp.Choices) == 0 {
				return errors.New("chat completion returned no choices")
			}

			out = strings.TrimSpace(resp.Choices[0].Message.Content)
			c.logger.Debug("chat completion", "model", c.model,
				"input_chars", len(input), "output_chars", len(out),
				"elapsed", time.Since(start))
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", errors.New("ai: empty completion")
	}
	return out, nil
}
