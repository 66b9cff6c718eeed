package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"

	"github.com/lelandsequel/shipmachine/pkg/logging"
	"github.com/lelandsequel/shipmachine/pkg/operations"
)

const (
	// DefaultTimeout bounds a single model call
	DefaultTimeout = 60 * time.Second

	systemPrompt = "You are an engineering automation service. Reply with a single JSON object and nothing else."
)

// Client calls an OpenAI-compatible endpoint and falls back to Mock
type Client struct {
	client  *openai.Client
	apiKey  string
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter
	counter TokenCounter
	mock    *Mock
	logger  *logging.Logger
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithTimeout bounds each call
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit paces calls to requestsPerMinute; zero disables pacing
func WithRateLimit(requestsPerMinute int) ClientOption {
	return func(c *Client) {
		if requestsPerMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
		}
	}
}

// WithTokenCounter overrides the token counter
func WithTokenCounter(counter TokenCounter) ClientOption {
	return func(c *Client) { c.counter = counter }
}

// WithLogger sets the client logger
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client. An empty apiKey puts the client in mock mode.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		timeout: DefaultTimeout,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.counter == nil {
		c.counter = NewTokenCounter()
	}
	c.mock = NewMock(c.counter)

	if c.apiKey != "" {
		reqOpts := []option.RequestOption{
			option.WithAPIKey(c.apiKey),
			option.WithMaxRetries(0),
		}
		if c.baseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
		}
		client := openai.NewClient(reqOpts...)
		c.client = &client
	}
	return c
}

// MockMode reports whether the client has no credentials
func (c *Client) MockMode() bool {
	return c.client == nil
}

// Call implements Invoker
func (c *Client) Call(ctx context.Context, prompt, model string, schema operations.Schema) (*Response, error) {
	if c.client == nil {
		return c.mock.Call(ctx, prompt, model, schema)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	completion, err := c.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("model %s rejected the request: %w", model, err)
		}
		// parent cancellation is not a timeout of this call
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warnf("model call to %s failed (%v), using mock response", model, err)
		return c.mock.Call(ctx, prompt, model, schema)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("model %s returned no choices", model)
	}
	raw := completion.Choices[0].Message.Content

	content, err := ParseContent(raw)
	if err != nil {
		return nil, err
	}

	tokens := int(completion.Usage.TotalTokens)
	if tokens == 0 {
		tokens = c.counter.Count(prompt) + c.counter.Count(raw)
	}

	return &Response{Content: content, Raw: raw, TokensUsed: tokens}, nil
}
