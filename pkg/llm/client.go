// Package llm is the LLM client used by title generation, the task
// planner, and the agent loop's code-generation calls: a direct
// anthropics/anthropic-sdk-go client (replacing the codegen'd-gRPC
// transport the teacher used — see DESIGN.md), wrapped with the circuit
// breaker and retry discipline spec §5 requires of every LLM suspension
// point.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/telemetry"
)

// Usage is the token/cost accounting surfaced by one Complete call,
// consumed by pkg/telemetry's cost accounting (spec §4.M).
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	ModelName    string
	CostUSD      float64
}

// pricePerMillionTokens is the per-model input/output price table backing
// telemetry's cost estimate (spec §4.M).
var pricePerMillionTokens = map[string]struct{ Input, Output float64 }{
	string(anthropic.ModelClaudeSonnet4_5):      {Input: 3.00, Output: 15.00},
	string(anthropic.ModelClaudeOpus4_1):        {Input: 15.00, Output: 75.00},
	string(anthropic.ModelClaude3_5HaikuLatest): {Input: 0.80, Output: 4.00},
}

// Client wraps the Anthropic Messages API with a circuit breaker
// (prevents hammering a provider that's already failing) and bounded
// retries on transport-level errors (spec §5 retry policy).
type Client struct {
	sdk     anthropic.Client
	model   anthropic.Model
	breaker *gobreaker.CircuitBreaker[*anthropic.Message]
	timeout time.Duration
	log     *slog.Logger
}

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	Model       string
	CallTimeout time.Duration // LLM_CALL_TIMEOUT, default 60s
	BreakerName string
}

// New builds a Client.
func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5
	}

	breaker := gobreaker.NewCircuitBreaker[*anthropic.Message](gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		sdk:     anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   model,
		breaker: breaker,
		timeout: cfg.CallTimeout,
		log:     log,
	}
}

// Complete sends a single-turn prompt and returns the response text plus
// token usage, under LLM_CALL_TIMEOUT and retried with exponential
// backoff on retryable transport errors.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, Usage, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	var msg *anthropic.Message
	err := backoff.Retry(func() error {
		result, err := c.breaker.Execute(func() (*anthropic.Message, error) {
			return c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
				Model:     c.model,
				MaxTokens: maxTokens,
				System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
				},
			})
		})
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		msg = result
		return nil
	}, policy)

	if err != nil {
		telemetry.RecordLLMCall(string(c.model), 0, 0, 0, time.Since(started), err)
		return "", Usage{}, fmt.Errorf("llm complete: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	usage := Usage{
		InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens,
		ModelName: string(c.model),
	}
	usage.CostUSD = estimateCost(usage)
	telemetry.RecordLLMCall(usage.ModelName, usage.InputTokens, usage.OutputTokens, usage.CostUSD, time.Since(started), nil)

	return text, usage, nil
}

func estimateCost(u Usage) float64 {
	price, ok := pricePerMillionTokens[u.ModelName]
	if !ok {
		return 0
	}
	return float64(u.InputTokens)/1_000_000*price.Input + float64(u.OutputTokens)/1_000_000*price.Output
}

// isRetryable mirrors spec §5's transport-level retry set: timeouts,
// connection errors, and 408/429/500/502/503/504 status codes.
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		switch apiErr.StatusCode {
		case 408, 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	// Network-level errors (no structured status) are treated as retryable.
	return true
}

// asAnthropicError is a small indirection around errors.As so tests can
// stub it without constructing a real SDK error value.
func asAnthropicError(err error, target **anthropic.Error) bool {
	type asser interface{ As(any) bool }
	if a, ok := err.(asser); ok {
		return a.As(target)
	}
	return false
}

// GenerateIncidentTitle implements pkg/reducer.TitleGenerator: a bounded
// prompt that turns a log entry into a short title and one-paragraph
// description.
func (c *Client) GenerateIncidentTitle(ctx context.Context, log *models.LogEntry) (string, string, error) {
	prompt := fmt.Sprintf(
		"Service %q emitted a %s log: %q\nRespond with exactly two lines: a title under 80 characters, then a one-paragraph description.",
		log.ServiceName, log.Severity, log.Message,
	)
	text, _, err := c.Complete(ctx, "You summarize production incidents concisely.", prompt, 200)
	if err != nil {
		return "", "", err
	}
	return splitTitleAndDescription(text)
}

func splitTitleAndDescription(text string) (string, string, error) {
	for i, r := range text {
		if r == '\n' {
			return text[:i], text[i+1:], nil
		}
	}
	return text, "", nil
}
