package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/config"
	"github.com/smhanov/deepsearch/fetch"
	"github.com/smhanov/deepsearch/llm"
	"github.com/smhanov/deepsearch/retry"
	"github.com/smhanov/deepsearch/search"
	"github.com/smhanov/deepsearch/tracker"
)

func TestBuildSearch(t *testing.T) {
	cases := map[string]any{
		"jina":   &search.Jina{},
		"brave":  &search.Brave{},
		"tavily": &search.Tavily{},
		"duck":   &search.DuckDuckGo{},
	}
	for provider, want := range cases {
		cfg := config.Default()
		cfg.Search.Provider = provider
		got, err := buildSearch(cfg)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", provider, err)
		}
		if gotType, wantType := typeName(got), typeName(want); gotType != wantType {
			t.Fatalf("%s: built %s, want %s", provider, gotType, wantType)
		}
	}
	cfg := config.Default()
	cfg.Search.Provider = "bing"
	if _, err := buildSearch(cfg); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestBuildReader(t *testing.T) {
	cfg := config.Default()
	cfg.Reader.Provider = "browser"
	cfg.Reader.BrowserURL = "ws://127.0.0.1:9222"
	r, closeFn, err := buildReader(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, ok := r.(*fetch.Browser)
	if !ok || b.ControlURL != "ws://127.0.0.1:9222" {
		t.Fatalf("unexpected reader %T", r)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("closing an unused browser: %v", err)
	}

	cfg.Reader.Provider = "http"
	if r, _, _ = buildReader(cfg); typeName(r) != "*fetch.HTTP" {
		t.Fatalf("unexpected reader %T", r)
	}
}

func TestBuildAgentWithOllama(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.Model = "llama3.1"
	cfg.Search.Dedup = "jina"
	cfg.Search.JinaAPIKey = "jk"
	b, err := buildAgent(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.agent == nil || b.close() != nil {
		t.Fatal("expected an agent and a no-op close")
	}
}

func TestAssembledAgentRetriesModelOnce(t *testing.T) {
	calls := 0
	gen := llm.GeneratorFunc(func(context.Context, llm.Request) (llm.Response, error) {
		calls++
		return llm.Response{}, &retry.HTTPError{StatusCode: 429}
	})
	cfg := config.Default()
	cfg.Agent.StepSleep = 0
	policy := retry.Options{
		MaxRetries: 2,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	}
	agent := assemble(cfg, gen, policy, search.NewDuckDuckGo(), fetch.NewHTTP(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := agent.Answer(context.Background(), "What is the capital of France?")
	if retry.StatusCode(err) != 429 {
		t.Fatalf("expected the rate-limit error, got %v", err)
	}
	// One step decision and one forced final answer, each tried MaxRetries+1 times.
	if calls != 6 {
		t.Fatalf("expected 6 model calls, got %d", calls)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := newLogger("loud"); err == nil {
		t.Fatal("expected error for an unknown level")
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	r := deepsearch.Result{
		Action:      &deepsearch.AnswerAction{Answer: "42", Markdown: "42"},
		IsAnswered:  true,
		Steps:       3,
		VisitedURLs: []string{"https://a.example"},
		Usage:       tracker.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	if err := printResult(&buf, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "42\n\n---\nanswered after 3 steps, 1 URLs visited, tokens: 10 prompt + 5 completion = 15\n"
	if buf.String() != want {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestPrintThinkSkipsRepeats(t *testing.T) {
	var buf bytes.Buffer
	fn := printThink(&buf)
	fn(tracker.State{Think: "searching", TotalStep: 1})
	fn(tracker.State{Think: "searching", TotalStep: 1})
	fn(tracker.State{TotalStep: 2})
	fn(tracker.State{Think: "reading", TotalStep: 2})
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
