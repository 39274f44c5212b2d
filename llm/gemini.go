package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/smhanov/deepsearch/retry"
)

// Gemini calls the Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini constructs a Gemini backend.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Generate requests JSON output constrained by the request schema.
func (g *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       &temp,
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toGenaiSchema(req.Schema)
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return Response{}, geminiError(err)
	}
	out := Response{Text: strings.TrimSpace(resp.Text())}
	if md := resp.UsageMetadata; md != nil {
		out.Usage = Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.TotalTokenCount - md.PromptTokenCount),
		}
	}
	return out, nil
}

func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
		Items:       toGenaiSchema(s.Items),
	}
	if s.MaxItems > 0 {
		n := int64(s.MaxItems)
		out.MaxItems = &n
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toGenaiSchema(v)
		}
	}
	return out
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("gemini: %w", &retry.HTTPError{StatusCode: apiErr.Code, Body: apiErr.Message})
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return fmt.Errorf("gemini: %w", &retry.HTTPError{StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message})
	}
	return fmt.Errorf("gemini: %w", err)
}
