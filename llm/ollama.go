package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/smhanov/deepsearch/retry"
)

// Ollama calls a local Ollama server through its official client. The
// endpoint comes from OLLAMA_HOST (default http://127.0.0.1:11434).
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama constructs an Ollama backend from the environment.
func NewOllama(model string) (*Ollama, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	return &Ollama{client: client, model: model}, nil
}

// Generate runs a non-streaming chat with the schema as output format.
func (o *Ollama) Generate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	stream := false
	chat := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Stream:  &stream,
		Options: map[string]any{"temperature": req.Temperature},
	}
	if req.MaxTokens > 0 {
		chat.Options["num_predict"] = req.MaxTokens
	}
	if req.Schema != nil {
		chat.Format = req.Schema.JSON()
	}

	var out Response
	var text strings.Builder
	err := o.client.Chat(ctx, chat, func(r api.ChatResponse) error {
		text.WriteString(r.Message.Content)
		if r.Done {
			out.Usage = Usage{PromptTokens: r.PromptEvalCount, CompletionTokens: r.EvalCount}
		}
		return nil
	})
	if err != nil {
		return Response{}, ollamaError(err)
	}
	out.Text = strings.TrimSpace(text.String())
	return out, nil
}

func ollamaError(err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		return fmt.Errorf("ollama: %w", &retry.HTTPError{StatusCode: se.StatusCode, Body: se.ErrorMessage})
	}
	return fmt.Errorf("ollama: %w", err)
}
