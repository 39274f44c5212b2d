package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/llm"
)

const maxRewrittenQueries = 5

const rewriterSystemPrompt = `You turn research intentions into effective search engine queries.
- Use short keyword queries, not sentences.
- Cover different aspects or phrasings; do not repeat a query.
- Add operators such as site: or quotes only when they clearly help.
- Keep names, numbers and technical terms exactly as given.`

// Rewriter expands search requests into keyword queries.
type Rewriter struct {
	model llm.Generator
	cfg   settings
}

// NewRewriter constructs a Rewriter. The default temperature is 0.1.
func NewRewriter(model llm.Generator, opts ...Option) *Rewriter {
	return &Rewriter{model: model, cfg: buildSettings(0.1, opts)}
}

// Rewrite implements deepsearch.Rewriter.
func (r *Rewriter) Rewrite(ctx context.Context, step *deepsearch.SearchAction) (deepsearch.RewriteResult, error) {
	var b strings.Builder
	if step.Think != "" {
		fmt.Fprintf(&b, "Intention: %s\n\n", step.Think)
	}
	b.WriteString("Requested searches:\n")
	for _, q := range step.Requests {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	b.WriteString("\nReturn the best keyword queries.")

	schema := llm.Object(map[string]*llm.Schema{
		"think":   llm.String("Brief reasoning about the queries"),
		"queries": llm.StringArray("Keyword queries for a search engine", maxRewrittenQueries),
	}, "think", "queries")

	var out struct {
		Queries []string `json:"queries"`
	}
	usage, err := llm.GenerateObject(ctx, r.model, r.cfg.request(rewriterSystemPrompt, b.String(), "rewrite", schema), &out)
	if err != nil {
		return deepsearch.RewriteResult{Usage: usage}, fmt.Errorf("rewrite queries: %w", err)
	}
	var queries []string
	for _, q := range out.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) > maxRewrittenQueries {
		queries = queries[:maxRewrittenQueries]
	}
	return deepsearch.RewriteResult{Queries: queries, Usage: usage}, nil
}
