// Package llm wraps the OpenAI-compatible completion API the agent plans
// and answers with. Structured calls pin a JSON schema so responses
// unmarshal straight into Go types.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client is the completion surface the orchestrator depends on.
type Client interface {
	// Complete returns the assistant text for a prompt pair.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// CompleteJSON forces a strict JSON-schema response and unmarshals it
	// into out.
	CompleteJSON(ctx context.Context, req CompletionRequest, schemaName string, schema any, out any) error
	Model() string
}

// CompletionRequest is one prompt pair plus sampling knobs.
type CompletionRequest struct {
	System      string
	User        string
	Temperature *float64 // nil = model default, explicit 0 = deterministic
	MaxTokens   int
}

// Config selects the endpoint and model.
type Config struct {
	APIKey  string
	BaseURL string // empty = api.openai.com
	Model   string
	Timeout time.Duration // per-call cap, 0 = no cap
}

type client struct {
	openai  openai.Client
	model   string
	timeout time.Duration
}

// New builds a client. The API key is required; BaseURL points the client
// at any OpenAI-compatible server.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &client{
		openai:  openai.NewClient(opts...),
		model:   model,
		timeout: cfg.Timeout,
	}, nil
}

func (c *client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := c.chat(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *client) CompleteJSON(ctx context.Context, req CompletionRequest, schemaName string, schema any, out any) error {
	format := &openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   schemaName,
				Schema: schema,
				Strict: openai.Bool(true),
			},
		},
	}

	resp, err := c.chat(ctx, req, format)
	if err != nil {
		return err
	}

	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", schemaName, err)
	}
	return nil
}

func (c *client) Model() string {
	return c.model
}

func (c *client) chat(ctx context.Context, req CompletionRequest, format *openai.ChatCompletionNewParamsResponseFormatUnion) (*openai.ChatCompletion, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if format != nil {
		params.ResponseFormat = *format
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}

	slog.DebugContext(ctx, "llm chat completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return resp, nil
}

// Temp is a pointer helper for CompletionRequest.Temperature.
func Temp(t float64) *float64 {
	return &t
}

// GenerateSchema reflects T into a strict JSON schema: no extra
// properties, definitions inlined.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// IsRetryable reports whether a completion error is worth one more
// attempt: rate limits, server errors and network failures are; context
// cancellation and client errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	// No API response at all, likely transient.
	return true
}
