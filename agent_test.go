package deepsearch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smhanov/deepsearch/llm"
	"github.com/smhanov/deepsearch/tracker"
)

// scriptedModel answers by system prompt: step decisions and forced final
// answers are scripted separately.
type scriptedModel struct {
	steps []string
	beast []string

	stepIdx  int
	beastIdx int
	prompts  []string
	offered  [][]string
	usage    llm.Usage
}

func (s *scriptedModel) next(list []string, idx *int) (string, error) {
	if *idx >= len(list) {
		return "", errors.New("no scripted response available")
	}
	resp := list[*idx]
	*idx = *idx + 1
	return resp, nil
}

func (s *scriptedModel) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	var text string
	var err error
	switch req.System {
	case agentSystemPrompt:
		s.offered = append(s.offered, req.Schema.Properties["action"].Enum)
		text, err = s.next(s.steps, &s.stepIdx)
	case beastSystemPrompt:
		text, err = s.next(s.beast, &s.beastIdx)
	default:
		return llm.Response{}, errors.New("unknown system prompt")
	}
	if err != nil {
		return llm.Response{}, err
	}
	s.prompts = append(s.prompts, req.Prompt)
	return llm.Response{Text: text, Usage: s.usage}, nil
}

type fakeSearch struct {
	results []SearchResult
	err     error
	queries []string
}

func (f *fakeSearch) Search(_ context.Context, q string) ([]SearchResult, error) {
	f.queries = append(f.queries, q)
	return f.results, f.err
}

type fakeReader struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (f *fakeReader) Read(_ context.Context, u string) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, u)
	if f.fail[u] {
		return Page{}, errors.New("connection refused")
	}
	return Page{URL: u, Title: "page", Content: "content of " + u, Tokens: 7}, nil
}

type fakeEvaluator struct {
	pass      func(question string) bool
	questions []string
}

func (f *fakeEvaluator) Evaluate(_ context.Context, q, _ string) (Evaluation, error) {
	f.questions = append(f.questions, q)
	ok := f.pass(q)
	return Evaluation{Pass: ok, Reasoning: "verdict", Usage: llm.Usage{PromptTokens: 2, CompletionTokens: 1}}, nil
}

type fakeAnalyzer struct{ calls int }

func (f *fakeAnalyzer) Analyze(context.Context, []string) (Analysis, error) {
	f.calls++
	return Analysis{Recap: "recap", Blame: "blame", Improvement: "search first"}, nil
}

type fakeCoder struct{ calls int }

func (f *fakeCoder) Solve(context.Context, string, []KnowledgeItem) (Solution, error) {
	f.calls++
	return Solution{}, errors.New("sandbox crashed")
}

func passAll(string) bool { return true }
func failAll(string) bool { return false }

const (
	answerParis = `{"action":"answer","think":"known","answer":"Paris (REF_1)","references":[{"exactQuote":"Paris is the capital","url":"https://a.example/france"}]}`
	searchStep  = `{"action":"search","think":"need facts","searchRequests":["capital of france"]}`
	beastAnswer = `{"action":"answer","think":"last chance","answer":"best guess"}`
)

func TestAgentAnswersOnFirstStep(t *testing.T) {
	model := &scriptedModel{steps: []string{answerParis}, usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5}}
	eval := &fakeEvaluator{pass: passAll}
	tokens := tracker.NewTokenTracker(0)
	dir := t.TempDir()

	agent := New(WithModel(model), WithEvaluator(eval), WithStepSleep(0), WithSnapshotDir(dir))
	res, err := agent.Answer(context.Background(), "What is the capital of France?", WithTrackers(tokens, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsAnswered || res.Steps != 1 {
		t.Fatalf("expected answered in one step, got answered=%v steps=%d", res.IsAnswered, res.Steps)
	}
	ans := res.Answer()
	if ans == nil || !ans.IsFinal {
		t.Fatalf("expected final answer, got %+v", res.Action)
	}
	if !strings.Contains(ans.Markdown, "Paris [^1]") || !strings.Contains(ans.Markdown, "[^1]: [Paris is the capital](https://a.example/france)") {
		t.Fatalf("unexpected markdown: %q", ans.Markdown)
	}
	breakdown := tokens.Breakdown()
	if breakdown["agent"] != 15 || breakdown["evaluator"] != 3 {
		t.Fatalf("unexpected breakdown: %v", breakdown)
	}
	if res.Usage.TotalTokens != 18 {
		t.Fatalf("expected 18 total tokens, got %d", res.Usage.TotalTokens)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "*", "0-1.json"))
	if len(files) != 1 {
		t.Fatalf("expected one snapshot, got %v", files)
	}
}

func TestAgentBadAttemptsForceFinalAnswer(t *testing.T) {
	model := &scriptedModel{
		steps: []string{answerParis, searchStep, answerParis},
		beast: []string{beastAnswer},
	}
	eval := &fakeEvaluator{pass: failAll}
	an := &fakeAnalyzer{}
	search := &fakeSearch{results: []SearchResult{{Title: "France", URL: "https://b.example", Description: "capital"}}}

	agent := New(
		WithModel(model),
		WithEvaluator(eval),
		WithAnalyzer(an),
		WithSearchProvider(search),
		WithMaxRecursionDepth(0),
		WithStepSleep(0),
	)
	res, err := agent.Answer(context.Background(), "What is the capital of France?", WithMaxBadAttempts(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(eval.questions) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(eval.questions))
	}
	if an.calls != 1 {
		t.Fatalf("expected analyzer to run once, got %d", an.calls)
	}
	if res.IsAnswered {
		t.Fatal("forced answer must not count as answered")
	}
	ans := res.Answer()
	if ans == nil || ans.Answer != "best guess" || !ans.IsFinal {
		t.Fatalf("unexpected final answer: %+v", ans)
	}
	if !strings.Contains(model.prompts[1], "Unsuccessful Attempts") {
		t.Fatal("expected rejected attempt in the next prompt")
	}
}

func TestAgentBlocksAnswerAfterRejection(t *testing.T) {
	model := &scriptedModel{
		steps: []string{answerParis, answerParis},
		beast: []string{beastAnswer},
	}
	eval := &fakeEvaluator{pass: failAll}
	agent := New(
		WithModel(model),
		WithEvaluator(eval),
		WithSearchProvider(&fakeSearch{}),
		WithMaxRecursionDepth(0),
		WithStepSleep(0),
	)

	res, err := agent.Answer(context.Background(), "Q?", WithMaxBadAttempts(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The second answer is not allowed, so the loop falls back to a forced
	// answer without evaluating it.
	if len(eval.questions) != 1 {
		t.Fatalf("expected a single evaluation, got %d", len(eval.questions))
	}
	if res.Answer().Answer != "best guess" {
		t.Fatalf("unexpected answer: %+v", res.Answer())
	}
}

func TestAgentDisallowedActionForcesFinalAnswer(t *testing.T) {
	model := &scriptedModel{steps: []string{searchStep}, beast: []string{beastAnswer}}
	agent := New(WithModel(model), WithStepSleep(0))

	res, err := agent.Answer(context.Background(), "Q?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsAnswered || res.Answer() == nil {
		t.Fatalf("expected forced answer, got %+v", res)
	}
	if model.beastIdx != 1 {
		t.Fatalf("expected one forced answer call, got %d", model.beastIdx)
	}
}

func TestAgentBlocksActionForOneStep(t *testing.T) {
	const (
		reflectDup = `{"action":"reflect","think":"split","questionsToAnswer":["  q? "]}`
		visitA     = `{"action":"visit","think":"read","URLTargets":["https://a.example"]}`
		coding     = `{"action":"coding","think":"compute","codingIssue":"sum 1..10"}`
	)
	cases := []struct {
		name    string
		steps   []string
		results []SearchResult
		kind    ActionKind
		// blockedAt is the index of the step decision that must not offer
		// kind; the decision after it must offer it again.
		blockedAt int
	}{
		{
			name:      "reflect with only known questions",
			steps:     []string{reflectDup, searchStep, answerParis},
			kind:      ActionReflect,
			blockedAt: 1,
		},
		{
			name:      "search with only issued queries",
			steps:     []string{searchStep, searchStep, coding, answerParis},
			kind:      ActionSearch,
			blockedAt: 2,
		},
		{
			name:  "visit with only read urls",
			steps: []string{searchStep, visitA, visitA, coding, answerParis},
			results: []SearchResult{
				{Title: "A", URL: "https://a.example", Description: "d"},
				{Title: "B", URL: "https://b.example", Description: "d"},
			},
			kind:      ActionVisit,
			blockedAt: 3,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := &scriptedModel{steps: tc.steps}
			agent := New(
				WithModel(model),
				WithSearchProvider(&fakeSearch{results: tc.results}),
				WithReader(&fakeReader{}),
				WithCoder(&fakeCoder{}),
				WithStepSleep(0),
			)
			res, err := agent.Answer(context.Background(), "Q?")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.IsAnswered || model.stepIdx != len(tc.steps) {
				t.Fatalf("expected every scripted step to run, got %d of %d (answered=%v)", model.stepIdx, len(tc.steps), res.IsAnswered)
			}
			offers := func(i int) bool {
				for _, k := range model.offered[i] {
					if k == string(tc.kind) {
						return true
					}
				}
				return false
			}
			if !offers(tc.blockedAt - 1) {
				t.Fatalf("%s must be offered before the duplicate step: %v", tc.kind, model.offered)
			}
			if offers(tc.blockedAt) {
				t.Fatalf("%s offered right after the duplicate step: %v", tc.kind, model.offered[tc.blockedAt])
			}
			if !offers(tc.blockedAt + 1) {
				t.Fatalf("%s not offered again one step later: %v", tc.kind, model.offered[tc.blockedAt+1])
			}
		})
	}
}

func TestAgentReflectRunsSubSessions(t *testing.T) {
	model := &scriptedModel{
		steps: []string{
			`{"action":"reflect","think":"split","questionsToAnswer":["What is X?","what is  x?","What is Y?","What is Z?"]}`,
			`{"action":"answer","think":"x","answer":"X is 1"}`,
			`{"action":"answer","think":"y","answer":"Y is 2"}`,
			`{"action":"answer","think":"done","answer":"X+Y is 3"}`,
		},
		usage: llm.Usage{PromptTokens: 4, CompletionTokens: 1},
	}
	eval := &fakeEvaluator{pass: passAll}
	tokens := tracker.NewTokenTracker(0)
	actions := tracker.NewActionTracker()
	var steps []int
	actions.OnAction(func(s tracker.State) { steps = append(steps, s.TotalStep) })

	agent := New(WithModel(model), WithEvaluator(eval), WithStepSleep(0))
	res, err := agent.Answer(context.Background(), "What is X+Y?", WithTrackers(tokens, actions))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsAnswered || res.Answer().Answer != "X+Y is 3" {
		t.Fatalf("unexpected result: %+v", res.Answer())
	}
	want := []string{"What is X?", "What is Y?", "What is X+Y?"}
	if strings.Join(eval.questions, "|") != strings.Join(want, "|") {
		t.Fatalf("evaluated %v, want %v", eval.questions, want)
	}
	var learned []string
	for _, k := range res.Knowledge {
		if k.Type == KnowledgeQA {
			learned = append(learned, k.Question)
		}
	}
	if strings.Join(learned, "|") != "What is X?|What is Y?" {
		t.Fatalf("unexpected knowledge: %v", learned)
	}
	if tokens.Breakdown()["agent"] != 20 {
		t.Fatalf("expected four agent calls on the shared tracker, got %v", tokens.Breakdown())
	}
	if res.Steps != 4 || steps[len(steps)-1] != 4 {
		t.Fatalf("expected 4 total steps, got %d (events %v)", res.Steps, steps)
	}
	if !strings.Contains(model.prompts[3], "X is 1") {
		t.Fatal("expected sub-answer in the parent's knowledge")
	}
}

func TestAgentVisitIsolatesFailures(t *testing.T) {
	model := &scriptedModel{
		steps: []string{
			searchStep,
			`{"action":"visit","think":"read","URLTargets":["https://good.example/a/","https://bad.example","https://good.example/a"]}`,
			answerParis,
		},
	}
	search := &fakeSearch{results: []SearchResult{
		{Title: "Good", URL: "https://good.example/a", Description: "d"},
		{Title: "Bad", URL: "https://bad.example", Description: "d"},
	}}
	reader := &fakeReader{fail: map[string]bool{"https://bad.example": true}}
	tokens := tracker.NewTokenTracker(0)

	agent := New(WithModel(model), WithSearchProvider(search), WithReader(reader), WithStepSleep(0))
	res, err := agent.Answer(context.Background(), "Q?", WithTrackers(tokens, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reader.calls) != 2 {
		t.Fatalf("expected 2 distinct reads, got %v", reader.calls)
	}
	if len(res.VisitedURLs) != 1 || res.VisitedURLs[0] != "https://good.example/a" {
		t.Fatalf("unexpected visited urls: %v", res.VisitedURLs)
	}
	if tokens.Breakdown()["read"] != 7 {
		t.Fatalf("expected read usage, got %v", tokens.Breakdown())
	}
	if !strings.Contains(model.prompts[2], "content of https://good.example/a") {
		t.Fatal("expected page content in knowledge")
	}
	if strings.Contains(model.prompts[2], `"https://bad.example"`) {
		t.Fatal("failed url must not be offered again")
	}
}

func TestAgentCodingDisabledAfterUse(t *testing.T) {
	coding := `{"action":"coding","think":"compute","codingIssue":"sum 1..10"}`
	model := &scriptedModel{steps: []string{coding, coding}, beast: []string{beastAnswer}}
	coder := &fakeCoder{}

	agent := New(WithModel(model), WithCoder(coder), WithStepSleep(0))
	res, err := agent.Answer(context.Background(), "Q?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if coder.calls != 1 {
		t.Fatalf("expected one coding attempt, got %d", coder.calls)
	}
	if res.IsAnswered {
		t.Fatal("expected forced answer after the disallowed second coding step")
	}
}

func TestAgentBudgetExhaustedForcesFinalAnswer(t *testing.T) {
	model := &scriptedModel{
		steps: []string{searchStep, searchStep},
		beast: []string{beastAnswer},
		usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5},
	}
	search := &fakeSearch{results: []SearchResult{{Title: "t", URL: "https://c.example", Description: "d"}}}

	agent := New(WithModel(model), WithSearchProvider(search), WithStepSleep(0))
	res, err := agent.Answer(context.Background(), "Q?", WithTokenBudget(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.stepIdx != 1 {
		t.Fatalf("expected the loop to stop after one step, got %d", model.stepIdx)
	}
	if res.IsAnswered || res.Answer().Answer != "best guess" {
		t.Fatalf("unexpected result: %+v", res.Answer())
	}
}

func TestAgentRequiresModel(t *testing.T) {
	if _, err := New().Answer(context.Background(), "Q?"); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
}

func TestSubBudget(t *testing.T) {
	cases := []struct {
		budget, used int
		ratio        float64
		want         int
	}{
		{1000, 400, 0.5, 300},
		{1000, 0, 0.3, 300},
		{101, 0, 0.5, 50},
		{100, 150, 0.5, 0},
	}
	for _, tc := range cases {
		if got := subBudget(tc.budget, tc.used, tc.ratio); got != tc.want {
			t.Fatalf("subBudget(%d, %d, %v) = %d, want %d", tc.budget, tc.used, tc.ratio, got, tc.want)
		}
	}
}

func TestAllowedActions(t *testing.T) {
	agent := New(WithSearchProvider(&fakeSearch{}), WithReader(&fakeReader{}), WithMaxCandidateURLs(1))
	s := newSession(sessionParams{question: "Q", tokens: tracker.NewTokenTracker(0), actions: tracker.NewActionTracker()}, agent.now)

	allow := agent.allowed(s)
	if !allow.search || allow.visit || !allow.reflect || !allow.answer || allow.coding {
		t.Fatalf("unexpected initial actions: %+v", allow)
	}

	s.register([]SearchResult{{URL: "https://a.example"}, {URL: "https://b.example"}})
	s.gaps = []string{"a", "b"}
	allow = agent.allowed(s)
	if allow.search || !allow.visit || allow.reflect {
		t.Fatalf("unexpected actions with candidates and gaps: %+v", allow)
	}

	s.blocked = allowSet{answer: true, visit: true}
	allow = agent.allowed(s)
	if !allow.answer {
		t.Fatalf("answer must be allowed when nothing else is: %+v", allow)
	}
}

func TestProgressClearsDrainedGaps(t *testing.T) {
	actions := tracker.NewActionTracker()
	s := newSession(sessionParams{
		question: "Q?",
		tokens:   tracker.NewTokenTracker(0),
		actions:  actions,
	}, time.Now)
	s.gaps = []string{"What is X?"}
	actions.TrackAction(s.progress(nil))
	if got := actions.State().Gaps; len(got) != 1 {
		t.Fatalf("expected one queued gap, got %v", got)
	}

	s.nextQuestion()
	actions.TrackAction(s.progress(nil))
	if got := actions.State().Gaps; len(got) != 0 {
		t.Fatalf("expected the drained queue to be reported, got %v", got)
	}
}
