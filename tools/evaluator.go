package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/llm"
)

const evaluatorSystemPrompt = `You judge whether an answer is definitive. Statements such as "I don't know", "there is not enough information", "it does not exist" or "not sure", and answers hedged with uncertainty, are not definitive. Clear factual statements are definitive even if brief.

Examples:
Question: "What are the system requirements for running Python 3.9?"
Answer: "I'm not entirely sure, but I think you need a computer with some RAM."
Evaluation: {"is_definitive": false, "reasoning": "Uncertainty markers such as 'not entirely sure' and 'I think'."}

Question: "What are the system requirements for running Python 3.9?"
Answer: "Python 3.9 requires Windows 7 or later, macOS 10.11 or later, or Linux."
Evaluation: {"is_definitive": true, "reasoning": "Clear statements without hedging."}`

var evaluationSchema = llm.Object(map[string]*llm.Schema{ //nolint:gochecknoglobals
	"is_definitive": llm.Boolean("Whether the answer is definitive, without uncertainty or 'I don't know' statements"),
	"reasoning":     llm.String("Why the answer is or is not definitive"),
}, "is_definitive", "reasoning")

// Evaluator checks answers for definitiveness with a model.
type Evaluator struct {
	model llm.Generator
	cfg   settings
}

// NewEvaluator constructs an Evaluator. The default temperature is 0.
func NewEvaluator(model llm.Generator, opts ...Option) *Evaluator {
	return &Evaluator{model: model, cfg: buildSettings(0, opts)}
}

// Evaluate implements deepsearch.Evaluator.
func (e *Evaluator) Evaluate(ctx context.Context, question, answer string) (deepsearch.Evaluation, error) {
	q, _ := json.Marshal(question)
	a, _ := json.Marshal(answer)
	prompt := fmt.Sprintf("Now evaluate this pair:\nQuestion: %s\nAnswer: %s", q, a)

	var out struct {
		IsDefinitive bool   `json:"is_definitive"`
		Reasoning    string `json:"reasoning"`
	}
	usage, err := llm.GenerateObject(ctx, e.model, e.cfg.request(evaluatorSystemPrompt, prompt, "evaluation", evaluationSchema), &out)
	if err != nil {
		return deepsearch.Evaluation{Usage: usage}, fmt.Errorf("evaluate answer: %w", err)
	}
	e.cfg.logger.Debug("evaluated answer", "pass", out.IsDefinitive, "reasoning", out.Reasoning)
	return deepsearch.Evaluation{Pass: out.IsDefinitive, Reasoning: out.Reasoning, Usage: usage}, nil
}
