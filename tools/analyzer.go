package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/llm"
)

const analyzerSystemPrompt = `You review the log of a research agent whose answer was rejected.
Recap the key actions in order, identify where the process went wrong, and give concrete, actionable advice for the next attempt.
If specific facts are still missing, list up to two short sub-questions that would resolve them.`

var analysisSchema = llm.Object(map[string]*llm.Schema{ //nolint:gochecknoglobals
	"recap":             llm.String("Chronological summary of the key actions and what they found"),
	"blame":             llm.String("The specific steps or patterns that led to the bad answer"),
	"improvement":       llm.String("Actionable suggestions for the next attempt"),
	"questionsToAnswer": llm.StringArray("Optional sub-questions whose answers are still missing", 2),
}, "recap", "blame", "improvement")

// Analyzer explains why an attempt failed.
type Analyzer struct {
	model llm.Generator
	cfg   settings
}

// NewAnalyzer constructs an Analyzer. The default temperature is 0.
func NewAnalyzer(model llm.Generator, opts ...Option) *Analyzer {
	return &Analyzer{model: model, cfg: buildSettings(0, opts)}
}

// Analyze implements deepsearch.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, diary []string) (deepsearch.Analysis, error) {
	var b strings.Builder
	b.WriteString("<steps>\n")
	b.WriteString(strings.Join(diary, "\n\n"))
	b.WriteString("\n</steps>\n\nAnalyze these steps.")

	var out struct {
		Recap             string   `json:"recap"`
		Blame             string   `json:"blame"`
		Improvement       string   `json:"improvement"`
		QuestionsToAnswer []string `json:"questionsToAnswer"`
	}
	usage, err := llm.GenerateObject(ctx, a.model, a.cfg.request(analyzerSystemPrompt, b.String(), "analysis", analysisSchema), &out)
	if err != nil {
		return deepsearch.Analysis{Usage: usage}, fmt.Errorf("analyze steps: %w", err)
	}
	return deepsearch.Analysis{
		Recap:             out.Recap,
		Blame:             out.Blame,
		Improvement:       out.Improvement,
		QuestionsToAnswer: out.QuestionsToAnswer,
		Usage:             usage,
	}, nil
}
