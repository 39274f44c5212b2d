package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/llm"
	"github.com/smhanov/deepsearch/retry"
)

var (
	_ deepsearch.Evaluator  = (*Evaluator)(nil)
	_ deepsearch.Rewriter   = (*Rewriter)(nil)
	_ deepsearch.Deduper    = (*LLMDeduper)(nil)
	_ deepsearch.Deduper    = (*JinaDeduper)(nil)
	_ deepsearch.Analyzer   = (*Analyzer)(nil)
	_ deepsearch.CodeSolver = (*Coder)(nil)
)

// scripted returns the given responses in order and records the prompts.
type scripted struct {
	responses []string
	prompts   []string
}

func (s *scripted) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	s.prompts = append(s.prompts, req.Prompt)
	text := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return llm.Response{Text: text, Usage: llm.Usage{PromptTokens: 3, CompletionTokens: 2}}, nil
}

func TestEvaluator(t *testing.T) {
	model := &scripted{responses: []string{`{"is_definitive":false,"reasoning":"hedged"}`}}
	ev, err := NewEvaluator(model).Evaluate(context.Background(), `Who said "hi"?`, "Not sure.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Pass || ev.Reasoning != "hedged" || ev.Usage.Total() != 5 {
		t.Fatalf("unexpected evaluation: %+v", ev)
	}
	if !strings.Contains(model.prompts[0], `"Who said \"hi\"?"`) {
		t.Fatalf("question must be quoted in the prompt: %s", model.prompts[0])
	}
}

func TestEvaluatorKeepsUsageOnError(t *testing.T) {
	model := &scripted{responses: []string{"I think it passes"}}
	ev, err := NewEvaluator(model).Evaluate(context.Background(), "q", "a")
	if err == nil {
		t.Fatal("expected error for non-JSON output")
	}
	if ev.Usage.Total() != 5 {
		t.Fatalf("usage must be reported on failure, got %+v", ev.Usage)
	}
}

func TestRewriterCapsQueries(t *testing.T) {
	model := &scripted{responses: []string{`{"think":"t","queries":["a"," ","b","c","d","e","f"]}`}}
	rw, err := NewRewriter(model).Rewrite(context.Background(), &deepsearch.SearchAction{Think: "why", Requests: []string{"x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(rw.Queries, ",") != "a,b,c,d,e" {
		t.Fatalf("unexpected queries: %v", rw.Queries)
	}
	if !strings.Contains(model.prompts[0], "Intention: why") || !strings.Contains(model.prompts[0], "- x") {
		t.Fatalf("unexpected prompt: %s", model.prompts[0])
	}
}

func TestLLMDeduper(t *testing.T) {
	model := &scripted{responses: []string{`{"think":"t","unique":["new one"]}`}}
	res, err := NewLLMDeduper(model).Dedup(context.Background(), []string{"new one", "old one again"}, []string{"old one"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Unique) != 1 || res.Unique[0] != "new one" {
		t.Fatalf("unexpected result: %v", res.Unique)
	}
	if !strings.Contains(model.prompts[0], "1. old one") {
		t.Fatalf("existing items missing from prompt: %s", model.prompts[0])
	}
}

func TestAnalyzer(t *testing.T) {
	model := &scripted{responses: []string{`{"recap":"r","blame":"b","improvement":"i","questionsToAnswer":["q1"]}`}}
	an, err := NewAnalyzer(model).Analyze(context.Background(), []string{"step one", "step two"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if an.Recap != "r" || an.Blame != "b" || an.Improvement != "i" || len(an.QuestionsToAnswer) != 1 {
		t.Fatalf("unexpected analysis: %+v", an)
	}
	if !strings.Contains(model.prompts[0], "step one\n\nstep two") {
		t.Fatalf("diary missing from prompt: %s", model.prompts[0])
	}
}

func embeddingServer(t *testing.T, vectors map[string][]float64, failFirst bool) *httptest.Server {
	t.Helper()
	calls := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if failFirst && calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing authorization header")
		}
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		type item struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		var resp struct {
			Data  []item         `json:"data"`
			Usage map[string]int `json:"usage"`
		}
		for i, in := range req.Input {
			resp.Data = append(resp.Data, item{Index: i, Embedding: vectors[in]})
		}
		resp.Usage = map[string]int{"total_tokens": 12}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestJinaDeduper(t *testing.T) {
	srv := embeddingServer(t, map[string][]float64{
		"a": {1, 0},
		"b": {0.99, 0.1},
		"c": {0, 1},
		"d": {0.05, 1},
	}, false)
	defer srv.Close()

	d := NewJinaDeduper("key", WithEmbeddingsURL(srv.URL))
	res, err := d.Dedup(context.Background(), []string{"a", "b", "c"}, []string{"d"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(res.Unique, ",") != "a" {
		t.Fatalf("expected only a to survive, got %v", res.Unique)
	}
	if res.Usage.Total() != 12 {
		t.Fatalf("unexpected usage %+v", res.Usage)
	}
}

func TestJinaDeduperRetriesRateLimit(t *testing.T) {
	srv := embeddingServer(t, map[string][]float64{"a": {1, 0}, "b": {0, 1}}, true)
	defer srv.Close()

	d := NewJinaDeduper("key", WithEmbeddingsURL(srv.URL), WithJinaRetry(retry.Options{
		MaxRetries: 2,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	}))
	res, err := d.Dedup(context.Background(), []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Unique) != 2 {
		t.Fatalf("expected both items, got %v", res.Unique)
	}
}

func TestCoderRun(t *testing.T) {
	c := NewCoder(nil, WithCodeTimeout(100*time.Millisecond))
	knowledge := []deepsearch.KnowledgeItem{{Question: "q", Answer: "forty-two"}}
	cases := []struct {
		code string
		want string
	}{
		{"return 1 + 2;", "3"},
		{"return 'hi';", "hi"},
		{"return {a: [1, 2]};", `{"a":[1,2]}`},
		{"console.log('x', 1); console.log('y');", "x 1\ny"},
		{"return knowledge[0].answer;", "forty-two"},
	}
	for _, tc := range cases {
		got, err := c.Run(context.Background(), tc.code, knowledge)
		if err != nil {
			t.Fatalf("Run(%q): %v", tc.code, err)
		}
		if got != tc.want {
			t.Fatalf("Run(%q) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestCoderRunTimeout(t *testing.T) {
	c := NewCoder(nil, WithCodeTimeout(50*time.Millisecond))
	_, err := c.Run(context.Background(), "while (true) {}", nil)
	if err == nil || !strings.Contains(err.Error(), "interrupted") {
		t.Fatalf("expected interruption, got %v", err)
	}
}

func TestCoderRunNoOutput(t *testing.T) {
	c := NewCoder(nil)
	if _, err := c.Run(context.Background(), "var x = 1;", nil); err != ErrNoOutput {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}

func TestCoderSolveFeedsErrorsBack(t *testing.T) {
	model := &scripted{responses: []string{
		`{"think":"t","code":"throw new Error('boom');"}`,
		`{"think":"t","code":"return 55;"}`,
	}}
	sol, err := NewCoder(model).Solve(context.Background(), "sum 1..10", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sol.Output != "55" || sol.Code != "return 55;" {
		t.Fatalf("unexpected solution: %+v", sol)
	}
	if sol.Usage.Total() != 10 {
		t.Fatalf("expected usage of both attempts, got %+v", sol.Usage)
	}
	if !strings.Contains(model.prompts[1], "boom") {
		t.Fatalf("second prompt must include the error: %s", model.prompts[1])
	}
}

func TestCoderSolveGivesUp(t *testing.T) {
	model := &scripted{responses: []string{`{"think":"t","code":"throw new Error('always');"}`}}
	_, err := NewCoder(model, WithCodeAttempts(2)).Solve(context.Background(), "x", nil)
	if err == nil || !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("expected failure after 2 attempts, got %v", err)
	}
}
