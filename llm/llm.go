// Package llm is the structured-output model layer. A Generator turns a
// system prompt, a user prompt and a JSON schema into model text that is
// expected to hold one JSON value matching the schema, together with the
// tokens the call consumed.
//
// Three backends are provided: OpenAI-compatible chat completions
// (NewOpenAI), Gemini (NewGemini) and Ollama (NewOllama). Rate-limit
// errors from every backend surface as *retry.HTTPError with status 429 so
// that WithRetry and retry.Do can back off uniformly.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Schema is the subset of JSON Schema that every backend understands.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	MaxItems    int                `json:"maxItems,omitempty"`
}

// Schema types.
const (
	TypeObject  = "object"
	TypeString  = "string"
	TypeArray   = "array"
	TypeBoolean = "boolean"
	TypeInteger = "integer"
	TypeNumber  = "number"
)

// String returns a string property schema.
func String(description string) *Schema {
	return &Schema{Type: TypeString, Description: description}
}

// Boolean returns a boolean property schema.
func Boolean(description string) *Schema {
	return &Schema{Type: TypeBoolean, Description: description}
}

// StringArray returns an array-of-strings schema. maxItems of 0 leaves the
// length unbounded.
func StringArray(description string, maxItems int) *Schema {
	return &Schema{Type: TypeArray, Description: description, Items: &Schema{Type: TypeString}, MaxItems: maxItems}
}

// Object returns an object schema.
func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: TypeObject, Properties: props, Required: required}
}

// JSON renders the schema for backends that take raw JSON.
func (s *Schema) JSON() json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return b
}

// Request is a single structured generation.
type Request struct {
	// Model overrides the backend's default model when non-empty.
	Model       string
	System      string
	Prompt      string
	Schema      *Schema
	SchemaName  string
	Temperature float64
	MaxTokens   int
}

// Usage is the token accounting of one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{PromptTokens: u.PromptTokens + o.PromptTokens, CompletionTokens: u.CompletionTokens + o.CompletionTokens}
}

// Response carries the raw model text and usage.
type Response struct {
	Text  string
	Usage Usage
}

// Generator produces structured model output.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Response, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// ErrNoJSON is returned when model text holds no valid JSON value.
var ErrNoJSON = errors.New("llm: no valid JSON in model output")

// GenerateObject runs req and decodes the JSON in the response into v. The
// usage is returned even when decoding fails so callers can account for it.
func GenerateObject(ctx context.Context, g Generator, req Request, v any) (Usage, error) {
	resp, err := g.Generate(ctx, req)
	if err != nil {
		return resp.Usage, err
	}
	return resp.Usage, Decode(resp.Text, v)
}
