package deepsearch

import (
	"log/slog"
	"time"

	"github.com/smhanov/deepsearch/llm"
	"github.com/smhanov/deepsearch/retry"
	"github.com/smhanov/deepsearch/tracker"
)

const (
	defaultStepSleep         = time.Second
	defaultMaxDepth          = 2
	defaultSplitRatio        = 0.5
	defaultMaxURLsPerStep    = 4
	defaultMaxQueriesPerStep = 5
	defaultMaxReflectPerStep = 2
	defaultMaxCandidateURLs  = 50
	defaultTokenBudget       = 1_000_000
	defaultMaxBadAttempts    = 3
)

// Model roles accepted by WithModelSettings.
const (
	RoleAgent     = "agent"
	RoleBeastMode = "agentBeastMode"
)

// ModelSettings selects the model name and sampling for one role.
type ModelSettings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Option configures an Agent.
type Option func(*Agent)

// WithModel sets the model that decides each step.
func WithModel(m llm.Generator) Option {
	return func(a *Agent) { a.model = m }
}

// WithBeastModel overrides the model used for the forced final answer.
// It defaults to the step model.
func WithBeastModel(m llm.Generator) Option {
	return func(a *Agent) { a.beastModel = m }
}

// WithModelSettings sets the model name and temperature for a role
// (RoleAgent or RoleBeastMode). Unknown roles are ignored.
func WithModelSettings(role string, s ModelSettings) Option {
	return func(a *Agent) {
		switch role {
		case RoleAgent:
			a.agentSettings = s
		case RoleBeastMode:
			a.beastSettings = s
		}
	}
}

// WithSearchProvider sets the search implementation. Without one the
// search action is never offered.
func WithSearchProvider(s SearchProvider) Option {
	return func(a *Agent) { a.searcher = s }
}

// WithReader sets the URL reader. Without one the visit action is never
// offered.
func WithReader(r Reader) Option {
	return func(a *Agent) { a.reader = r }
}

// WithEvaluator sets the answer evaluator. Without one every answer is
// accepted.
func WithEvaluator(e Evaluator) Option {
	return func(a *Agent) { a.evaluator = e }
}

// WithRewriter sets the query rewriter.
func WithRewriter(r Rewriter) Option {
	return func(a *Agent) { a.rewriter = r }
}

// WithDeduper sets the semantic deduplicator. Without one, exact-match
// deduplication is used.
func WithDeduper(d Deduper) Option {
	return func(a *Agent) { a.deduper = d }
}

// WithAnalyzer sets the error analyzer run after a rejected answer.
func WithAnalyzer(an Analyzer) Option {
	return func(a *Agent) { a.analyzer = an }
}

// WithCoder sets the code solver. Without one the coding action is never
// offered.
func WithCoder(c CodeSolver) Option {
	return func(a *Agent) { a.coder = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithStepSleep sets the pause between steps.
func WithStepSleep(d time.Duration) Option {
	return func(a *Agent) {
		if d >= 0 {
			a.stepSleep = d
		}
	}
}

// WithMaxRecursionDepth bounds how deep reflect sub-sessions may nest.
func WithMaxRecursionDepth(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.maxDepth = n
		}
	}
}

// WithBudgetSplitRatio sets the share of the remaining budget given to each
// reflect sub-session.
func WithBudgetSplitRatio(r float64) Option {
	return func(a *Agent) {
		if r > 0 && r <= 1 {
			a.splitRatio = r
		}
	}
}

// WithMaxURLsPerStep caps the URLs read in one visit step.
func WithMaxURLsPerStep(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxURLsPerStep = n
		}
	}
}

// WithMaxQueriesPerStep caps the queries issued in one search step.
func WithMaxQueriesPerStep(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxQueriesPerStep = n
		}
	}
}

// WithMaxReflectPerStep caps the sub-questions taken from one reflect step.
func WithMaxReflectPerStep(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxReflectPerStep = n
		}
	}
}

// WithMaxCandidateURLs sets the unvisited-URL ceiling above which search is
// no longer offered.
func WithMaxCandidateURLs(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxCandidateURLs = n
		}
	}
}

// WithSnapshotDir enables per-step JSON snapshots under dir.
func WithSnapshotDir(dir string) Option {
	return func(a *Agent) { a.snapshotDir = dir }
}

// WithRetryOptions configures retries of the step model call.
func WithRetryOptions(o retry.Options) Option {
	return func(a *Agent) { a.retry = o }
}

// AnswerOption configures a single call to Agent.Answer.
type AnswerOption func(*answerConfig)

type answerConfig struct {
	budget    int
	maxBad    int
	tokens    *tracker.TokenTracker
	actions   *tracker.ActionTracker
	knowledge []KnowledgeItem
	messages  []Message
	lang      string
}

// WithTokenBudget sets the token budget of the session.
func WithTokenBudget(n int) AnswerOption {
	return func(c *answerConfig) {
		if n > 0 {
			c.budget = n
		}
	}
}

// WithMaxBadAttempts sets how many rejected answers are tolerated.
func WithMaxBadAttempts(n int) AnswerOption {
	return func(c *answerConfig) {
		if n >= 0 {
			c.maxBad = n
		}
	}
}

// WithTrackers makes the session record usage and progress on the given
// trackers. Either may be nil.
func WithTrackers(tokens *tracker.TokenTracker, actions *tracker.ActionTracker) AnswerOption {
	return func(c *answerConfig) {
		c.tokens = tokens
		c.actions = actions
	}
}

// WithKnowledge supplies knowledge collected by a previous session,
// typically Result.Knowledge, so follow-up questions start from it.
func WithKnowledge(items []KnowledgeItem) AnswerOption {
	return func(c *answerConfig) { c.knowledge = append([]KnowledgeItem(nil), items...) }
}

// WithMessages supplies prior chat turns shown to the model as context.
func WithMessages(msgs []Message) AnswerOption {
	return func(c *answerConfig) { c.messages = append([]Message(nil), msgs...) }
}

// WithLanguage selects the language of progress messages.
func WithLanguage(lang string) AnswerOption {
	return func(c *answerConfig) { c.lang = lang }
}
