package deepsearch

import (
	"context"

	"github.com/smhanov/deepsearch/llm"
)

// SearchResult is a single item returned by a SearchProvider.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// SearchProvider executes a query and returns results.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// Page is the readable content of a URL.
type Page struct {
	Title   string
	URL     string
	Content string
	// Tokens is the reader's own token count for the content, when it
	// reports one.
	Tokens int
}

// Reader retrieves the readable content of a URL.
type Reader interface {
	Read(ctx context.Context, url string) (Page, error)
}

// Evaluation is the verdict on an answer attempt.
type Evaluation struct {
	// Pass is true when the answer is definitive.
	Pass      bool
	Reasoning string
	Usage     llm.Usage
}

// Evaluator judges whether an answer is definitive.
type Evaluator interface {
	Evaluate(ctx context.Context, question, answer string) (Evaluation, error)
}

// RewriteResult holds the queries produced from a search step.
type RewriteResult struct {
	Queries []string
	Usage   llm.Usage
}

// Rewriter expands a search step into queries suited to a search engine.
type Rewriter interface {
	Rewrite(ctx context.Context, step *SearchAction) (RewriteResult, error)
}

// DedupResult holds the candidates that are not semantically covered by
// the existing set.
type DedupResult struct {
	Unique []string
	Usage  llm.Usage
}

// Deduper removes candidates that duplicate each other or existing items.
type Deduper interface {
	Dedup(ctx context.Context, candidates, existing []string) (DedupResult, error)
}

// Analysis is the post-mortem of a rejected answer attempt.
type Analysis struct {
	Recap       string
	Blame       string
	Improvement string
	// QuestionsToAnswer are optional sub-questions worth resolving before
	// answering again.
	QuestionsToAnswer []string
	Usage             llm.Usage
}

// Analyzer reviews the diary of a failed attempt.
type Analyzer interface {
	Analyze(ctx context.Context, diary []string) (Analysis, error)
}

// Solution is the outcome of a sandboxed coding step.
type Solution struct {
	Output string
	Code   string
	Usage  llm.Usage
}

// CodeSolver answers a coding issue by writing and running code.
type CodeSolver interface {
	Solve(ctx context.Context, issue string, knowledge []KnowledgeItem) (Solution, error)
}
