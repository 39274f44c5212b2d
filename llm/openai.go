package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/smhanov/deepsearch/retry"
)

// OpenAI talks to any server exposing the chat completions API (OpenAI,
// Groq, OpenRouter, vLLM, LiteLLM, Ollama's /v1).
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI constructs an OpenAI-compatible backend. baseURL may be empty
// for api.openai.com. The SDK's own retries are disabled; wrap the result
// with WithRetry instead.
func NewOpenAI(apiKey, baseURL, model string, logger *slog.Logger) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &OpenAI{client: &client, model: model, logger: logger}
}

// Generate sends a chat completion with a JSON-schema response format.
func (o *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: req.Schema,
					Strict: openai.Bool(false),
				},
			},
		}
	}

	o.logger.Debug("openai request", "model", model, "prompt_chars", len(req.Prompt))
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("openai: response contained no choices")
	}
	return Response{
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func openAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		he := &retry.HTTPError{StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		if apiErr.Response != nil {
			he.Header = apiErr.Response.Header.Clone()
		}
		return fmt.Errorf("openai: %w", he)
	}
	return fmt.Errorf("openai: %w", err)
}
