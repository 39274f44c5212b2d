package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/config"
	"github.com/smhanov/deepsearch/fetch"
	"github.com/smhanov/deepsearch/llm"
	"github.com/smhanov/deepsearch/retry"
	"github.com/smhanov/deepsearch/search"
	"github.com/smhanov/deepsearch/tools"
)

// backend is the assembled agent and anything that must be released when
// the command exits.
type backend struct {
	agent *deepsearch.Agent
	close func() error
}

// buildAgent wires the configured model backend, collaborators, search
// provider and reader into an Agent.
func buildAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	gen, err := buildGenerator(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	searcher, err := buildSearch(cfg)
	if err != nil {
		return nil, err
	}
	reader, closeReader, err := buildReader(cfg)
	if err != nil {
		return nil, err
	}
	agent := assemble(cfg, gen, retry.Options{MaxRetries: cfg.LLM.MaxRetries}, searcher, reader, logger)
	return &backend{agent: agent, close: closeReader}, nil
}

// assemble builds the agent around gen. The agent retries its own decision
// calls with policy, so it receives gen undecorated; the collaborators get
// a retrying wrapper with the same policy.
func assemble(cfg *config.Config, gen llm.Generator, policy retry.Options,
	searcher deepsearch.SearchProvider, reader deepsearch.Reader, logger *slog.Logger,
) *deepsearch.Agent {
	toolGen := llm.WithRetry(gen, policy)
	toolOpts := func(role string) []tools.Option {
		m := cfg.Model(role)
		return []tools.Option{
			tools.WithModelName(m.Model),
			tools.WithTemperature(m.Temperature),
			tools.WithLogger(logger),
		}
	}
	var deduper deepsearch.Deduper = tools.NewLLMDeduper(toolGen, toolOpts(config.RoleDedup)...)
	if cfg.Search.Dedup == "jina" {
		deduper = tools.NewJinaDeduper(cfg.Search.JinaAPIKey, tools.WithJinaLogger(logger))
	}
	coderOpts := append(toolOpts(config.RoleCoder), tools.WithCodeTimeout(cfg.Agent.CodeTimeout))

	settings := func(role string) deepsearch.ModelSettings {
		m := cfg.Model(role)
		return deepsearch.ModelSettings{Model: m.Model, Temperature: m.Temperature, MaxTokens: m.MaxTokens}
	}
	a := cfg.Agent
	return deepsearch.New(
		deepsearch.WithModel(gen),
		deepsearch.WithRetryOptions(policy),
		deepsearch.WithModelSettings(deepsearch.RoleAgent, settings(config.RoleAgent)),
		deepsearch.WithModelSettings(deepsearch.RoleBeastMode, settings(config.RoleBeastMode)),
		deepsearch.WithSearchProvider(searcher),
		deepsearch.WithReader(reader),
		deepsearch.WithEvaluator(tools.NewEvaluator(toolGen, toolOpts(config.RoleEvaluator)...)),
		deepsearch.WithRewriter(tools.NewRewriter(toolGen, toolOpts(config.RoleRewriter)...)),
		deepsearch.WithDeduper(deduper),
		deepsearch.WithAnalyzer(tools.NewAnalyzer(toolGen, toolOpts(config.RoleAnalyzer)...)),
		deepsearch.WithCoder(tools.NewCoder(toolGen, coderOpts...)),
		deepsearch.WithLogger(logger),
		deepsearch.WithStepSleep(a.StepSleep),
		deepsearch.WithMaxRecursionDepth(a.MaxRecursionDepth),
		deepsearch.WithBudgetSplitRatio(a.BudgetSplitRatio),
		deepsearch.WithMaxURLsPerStep(a.MaxURLsPerStep),
		deepsearch.WithMaxQueriesPerStep(a.MaxQueriesPerStep),
		deepsearch.WithMaxReflectPerStep(a.MaxReflectPerStep),
		deepsearch.WithMaxCandidateURLs(a.MaxCandidateURLs),
		deepsearch.WithSnapshotDir(a.SnapshotDir),
	)
}

func buildGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Generator, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAI(cfg.LLM.OpenAIAPIKey, cfg.LLM.BaseURL, cfg.LLM.Model, logger), nil
	case "gemini":
		g, err := llm.NewGemini(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.Model)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		return g, nil
	case "ollama":
		o, err := llm.NewOllama(cfg.LLM.Model)
		if err != nil {
			return nil, fmt.Errorf("ollama: %w", err)
		}
		return o, nil
	}
	return nil, fmt.Errorf("%w: unknown llm provider %q", config.ErrInvalid, cfg.LLM.Provider)
}

func buildSearch(cfg *config.Config) (deepsearch.SearchProvider, error) {
	s := cfg.Search
	switch s.Provider {
	case "jina":
		return search.NewJina(s.JinaAPIKey), nil
	case "brave":
		return search.NewBrave(s.BraveAPIKey), nil
	case "tavily":
		return search.NewTavily(s.TavilyAPIKey, s.TavilyDepth), nil
	case "duck":
		return search.NewDuckDuckGo(), nil
	}
	return nil, fmt.Errorf("%w: unknown search provider %q", config.ErrInvalid, s.Provider)
}

func buildReader(cfg *config.Config) (deepsearch.Reader, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Reader.Provider {
	case "jina":
		return fetch.NewJina(cfg.Search.JinaAPIKey), noop, nil
	case "http":
		return fetch.NewHTTP(), noop, nil
	case "browser":
		b := fetch.NewBrowser()
		b.ControlURL = cfg.Reader.BrowserURL
		return b, b.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown reader %q", config.ErrInvalid, cfg.Reader.Provider)
}
