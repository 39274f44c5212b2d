// Package tools provides the model-backed collaborators used by the agent:
// an answer Evaluator, a query Rewriter, deduplicators, an error Analyzer
// and a JavaScript Coder. Each one reports the tokens it consumed so the
// agent can charge them to the session.
package tools

import (
	"io"
	"log/slog"
	"time"

	"github.com/smhanov/deepsearch/llm"
)

// Option configures a model-backed tool.
type Option func(*settings)

type settings struct {
	model       string
	temperature float64
	logger      *slog.Logger

	codeTimeout  time.Duration
	codeAttempts int
}

// WithModelName overrides the backend's default model for this tool.
func WithModelName(name string) Option {
	return func(s *settings) { s.model = name }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func buildSettings(temperature float64, opts []Option) settings {
	s := settings{
		temperature: temperature,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) request(system, prompt, name string, schema *llm.Schema) llm.Request {
	return llm.Request{
		Model:       s.model,
		Temperature: s.temperature,
		System:      system,
		Prompt:      prompt,
		Schema:      schema,
		SchemaName:  name,
	}
}
