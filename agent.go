package deepsearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smhanov/deepsearch/llm"
	"github.com/smhanov/deepsearch/retry"
	"github.com/smhanov/deepsearch/tracker"
)

var (
	// ErrNoModel is returned when the agent has no step model.
	ErrNoModel = errors.New("step model is not configured")
	// ErrActionNotAllowed is returned when the model picks an action that
	// was not offered for the step.
	ErrActionNotAllowed = errors.New("action not allowed")
)

// Agent runs research sessions. It holds configuration only, so one Agent
// may serve concurrent Answer calls.
type Agent struct {
	model         llm.Generator
	beastModel    llm.Generator
	agentSettings ModelSettings
	beastSettings ModelSettings

	searcher  SearchProvider
	reader    Reader
	evaluator Evaluator
	rewriter  Rewriter
	deduper   Deduper
	analyzer  Analyzer
	coder     CodeSolver

	logger            *slog.Logger
	stepSleep         time.Duration
	maxDepth          int
	splitRatio        float64
	maxURLsPerStep    int
	maxQueriesPerStep int
	maxReflectPerStep int
	maxCandidateURLs  int
	snapshotDir       string
	retry             retry.Options

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New constructs an Agent with optional configuration.
func New(opts ...Option) *Agent {
	a := &Agent{
		agentSettings:     ModelSettings{Temperature: 0.7},
		beastSettings:     ModelSettings{Temperature: 0.7},
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		stepSleep:         defaultStepSleep,
		maxDepth:          defaultMaxDepth,
		splitRatio:        defaultSplitRatio,
		maxURLsPerStep:    defaultMaxURLsPerStep,
		maxQueriesPerStep: defaultMaxQueriesPerStep,
		maxReflectPerStep: defaultMaxReflectPerStep,
		maxCandidateURLs:  defaultMaxCandidateURLs,
		now:               time.Now,
		sleep:             sleepContext,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.beastModel == nil {
		a.beastModel = a.model
	}
	return a
}

// Result is the outcome of a session.
type Result struct {
	// Action is the final step, normally an *AnswerAction with Markdown
	// filled in.
	Action Action
	// IsAnswered reports whether the evaluator accepted the answer. A
	// forced final answer leaves it false.
	IsAnswered  bool
	Knowledge   []KnowledgeItem
	VisitedURLs []string
	// Steps is the number of steps taken, including sub-sessions.
	Steps int
	Usage tracker.Usage
}

// Answer returns the final answer action, or nil.
func (r Result) Answer() *AnswerAction {
	a, _ := r.Action.(*AnswerAction)
	return a
}

// Answer researches question until it is answered, the token budget runs
// out or too many answers are rejected. In the latter cases a final answer
// is forced from the knowledge gathered so far.
func (a *Agent) Answer(ctx context.Context, question string, opts ...AnswerOption) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, errors.New("question is empty")
	}
	if a.model == nil {
		return Result{}, ErrNoModel
	}
	cfg := answerConfig{budget: defaultTokenBudget, maxBad: defaultMaxBadAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.tokens == nil {
		cfg.tokens = tracker.NewTokenTracker(0, tracker.WithLogger(a.logger))
	}
	if cfg.actions == nil {
		cfg.actions = tracker.NewActionTracker()
	}
	return a.run(ctx, sessionParams{
		id:        uuid.NewString(),
		question:  question,
		budget:    cfg.budget,
		maxBad:    cfg.maxBad,
		knowledge: cfg.knowledge,
		messages:  cfg.messages,
		lang:      cfg.lang,
		tokens:    cfg.tokens,
		actions:   cfg.actions,
	})
}

// run executes one session, recursively for reflect sub-questions.
func (a *Agent) run(ctx context.Context, p sessionParams) (Result, error) {
	s := newSession(p, a.now)
	log := a.logger.With("session", s.id, "depth", s.depth)
	log.Info("session started", "question", s.question, "budget", s.budget)
	s.actions.TrackAction(tracker.State{Gaps: []string{s.question}, TotalStep: s.totalStep})

	final, err := a.loop(ctx, s, log)
	answered := final != nil
	if err != nil {
		log.Warn("session interrupted", "error", err)
	}
	if !answered {
		final, err = a.beastMode(ctx, s, log)
		if err != nil {
			return s.result(nil, false), fmt.Errorf("final answer: %w", err)
		}
	}
	final.Markdown = Render(final)
	log.Info("session finished", "answered", answered, "steps", s.totalStep, "tokens", s.used())
	return s.result(final, answered), nil
}

func (s *session) result(final *AnswerAction, answered bool) Result {
	r := Result{
		IsAnswered:  answered,
		Knowledge:   s.knowledge,
		VisitedURLs: s.visitOrder,
		Steps:       s.totalStep,
		Usage:       s.tokens.Usage(),
	}
	if final != nil {
		r.Action = final
	}
	return r
}

// loop runs steps until an answer is accepted, the guard fails or a step
// errors. A nil answer means the session ended without one.
func (a *Agent) loop(ctx context.Context, s *session, log *slog.Logger) (*AnswerAction, error) {
	for s.withinBudget() && s.badAttempts <= s.maxBad {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.step++
		s.totalStep++
		question := s.nextQuestion()
		allow := a.allowed(s)
		s.actions.TrackAction(s.progress(nil))

		action, err := a.decide(ctx, s, question, allow)
		if err != nil {
			return nil, err
		}
		s.blocked = allowSet{}
		log.Debug("step", "step", s.step, "total_step", s.totalStep, "action", action.Kind(), "question", question)
		s.actions.TrackAction(s.progress(action))

		var out outcome
		switch act := action.(type) {
		case *AnswerAction:
			out, err = a.handleAnswer(ctx, s, question, act, log)
		case *ReflectAction:
			err = a.handleReflect(ctx, s, question, act, log)
		case *SearchAction:
			a.handleSearch(ctx, s, act, log)
		case *VisitAction:
			a.handleVisit(ctx, s, act, log)
		case *CodingAction:
			a.handleCoding(ctx, s, act, log)
		}
		a.snapshot(s, action, log)
		if err != nil {
			return nil, err
		}
		switch out {
		case stepAnswered:
			return action.(*AnswerAction), nil
		case stepGaveUp:
			return nil, nil
		}
		if err := a.sleep(ctx, a.stepSleep); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// allowed computes the actions offered for the next step.
func (a *Agent) allowed(s *session) allowSet {
	candidates := len(s.order)
	allow := allowSet{
		answer:  !s.blocked.answer,
		reflect: !s.blocked.reflect && s.depth < a.maxDepth && len(s.gaps) <= 1,
		search:  a.searcher != nil && !s.blocked.search && candidates <= a.maxCandidateURLs,
		visit:   a.reader != nil && !s.blocked.visit && candidates > 0,
		coding:  a.coder != nil && !s.codingOff,
	}
	if allow.empty() {
		allow.answer = true
	}
	return allow
}

func (a *Agent) caps() stepCaps {
	return stepCaps{urls: a.maxURLsPerStep, queries: a.maxQueriesPerStep, reflect: a.maxReflectPerStep}
}

// decide asks the model for the next action.
func (a *Agent) decide(ctx context.Context, s *session, question string, allow allowSet) (Action, error) {
	req := llm.Request{
		Model:       a.agentSettings.Model,
		Temperature: a.agentSettings.Temperature,
		MaxTokens:   a.agentSettings.MaxTokens,
		System:      agentSystemPrompt,
		Prompt:      buildStepPrompt(s, question, allow, false, a.now(), a.caps()),
		Schema:      actionSchema(allow, a.caps()),
		SchemaName:  "step_action",
	}
	resp, err := retry.Do(ctx, func(ctx context.Context) (llm.Response, error) {
		return a.model.Generate(ctx, req)
	}, a.retry)
	if err != nil {
		return nil, fmt.Errorf("decide step: %w", err)
	}
	s.track("agent", resp.Usage)
	action, err := ParseAction(resp.Text)
	if err != nil {
		return nil, err
	}
	if !allow.allows(action.Kind()) {
		return nil, fmt.Errorf("%w: %s", ErrActionNotAllowed, action.Kind())
	}
	return action, nil
}

// beastMode forces one answer from whatever the session has gathered. The
// result is final and is not evaluated.
func (a *Agent) beastMode(ctx context.Context, s *session, log *slog.Logger) (*AnswerAction, error) {
	log.Info("forcing final answer", "bad_attempts", s.badAttempts, "tokens", s.used())
	allow := allowSet{answer: true}
	s.step++
	s.totalStep++
	req := llm.Request{
		Model:       a.beastSettings.Model,
		Temperature: a.beastSettings.Temperature,
		MaxTokens:   a.beastSettings.MaxTokens,
		System:      beastSystemPrompt,
		Prompt:      buildStepPrompt(s, s.question, allow, true, a.now(), a.caps()),
		Schema:      actionSchema(allow, a.caps()),
		SchemaName:  "final_answer",
	}
	resp, err := retry.Do(ctx, func(ctx context.Context) (llm.Response, error) {
		return a.beastModel.Generate(ctx, req)
	}, a.retry)
	if err != nil {
		return nil, err
	}
	s.track("agent", resp.Usage)
	action, err := ParseAction(resp.Text)
	if err != nil {
		return nil, err
	}
	ans, ok := action.(*AnswerAction)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotAllowed, action.Kind())
	}
	ans.IsFinal = true
	s.actions.TrackAction(s.progress(ans))
	a.snapshot(s, ans, log)
	return ans, nil
}

// subBudget is the token budget handed to one reflect sub-session.
func subBudget(budget, used int, ratio float64) int {
	remaining := budget - used
	if remaining <= 0 {
		return 0
	}
	return int(math.Floor(float64(remaining) * ratio))
}

func (a *Agent) snapshot(s *session, action Action, log *slog.Logger) {
	if a.snapshotDir == "" {
		return
	}
	if err := writeSnapshot(a.snapshotDir, s, action); err != nil {
		log.Warn("snapshot failed", "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
