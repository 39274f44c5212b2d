// Package config loads deepsearch settings. Values are resolved from
// (lowest to highest priority):
//
//  1. Defaults
//  2. A YAML file (optional)
//  3. A .env file (optional, missing file ignored)
//  4. Environment variables
//
// and then validated.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation and parse failure.
var ErrInvalid = errors.New("invalid configuration")

// Model roles recognised under the models key.
const (
	RoleAgent     = "agent"
	RoleBeastMode = "agentBeastMode"
	RoleEvaluator = "evaluator"
	RoleRewriter  = "rewriter"
	RoleDedup     = "dedup"
	RoleAnalyzer  = "analyzer"
	RoleCoder     = "coder"
)

// Config holds all deepsearch configuration.
type Config struct {
	Server ServerConfig           `yaml:"server"`
	LLM    LLMConfig              `yaml:"llm"`
	Search SearchConfig           `yaml:"search"`
	Reader ReaderConfig           `yaml:"reader"`
	Models map[string]ModelConfig `yaml:"models"`
	Agent  AgentConfig            `yaml:"agent"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// Secret, when set, is required as a bearer token on chat completions.
	Secret string `yaml:"secret"`
}

// LLMConfig selects the model backend.
type LLMConfig struct {
	// Provider is one of openai, gemini, ollama.
	Provider string `yaml:"provider"`
	// Model is the default model for every role.
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	// MaxRetries bounds retries of rate-limited model calls.
	MaxRetries int `yaml:"max_retries"`
}

// SearchConfig selects the search provider and holds provider keys.
type SearchConfig struct {
	// Provider is one of jina, brave, duck, tavily.
	Provider     string `yaml:"provider"`
	JinaAPIKey   string `yaml:"jina_api_key"`
	BraveAPIKey  string `yaml:"brave_api_key"`
	TavilyAPIKey string `yaml:"tavily_api_key"`
	// TavilyDepth is basic or advanced.
	TavilyDepth string `yaml:"tavily_depth"`
	// Dedup is llm or jina (embeddings).
	Dedup string `yaml:"dedup"`
}

// ReaderConfig selects how URLs are read.
type ReaderConfig struct {
	// Provider is one of jina, http, browser.
	Provider string `yaml:"provider"`
	// BrowserURL connects the browser reader to a running Chromium.
	BrowserURL string `yaml:"browser_url"`
}

// ModelConfig overrides the model settings of one role. Empty fields fall
// back to the LLM default model and the role's default temperature.
type ModelConfig struct {
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// AgentConfig holds the research loop defaults.
type AgentConfig struct {
	TokenBudget       int           `yaml:"token_budget"`
	MaxBadAttempts    int           `yaml:"max_bad_attempts"`
	StepSleep         time.Duration `yaml:"step_sleep"`
	MaxRecursionDepth int           `yaml:"max_recursion_depth"`
	BudgetSplitRatio  float64       `yaml:"budget_split_ratio"`
	MaxURLsPerStep    int           `yaml:"max_urls_per_step"`
	MaxQueriesPerStep int           `yaml:"max_queries_per_step"`
	MaxReflectPerStep int           `yaml:"max_reflect_per_step"`
	MaxCandidateURLs  int           `yaml:"max_candidate_urls"`
	SnapshotDir       string        `yaml:"snapshot_dir"`
	CodeTimeout       time.Duration `yaml:"code_timeout"`
}

// Resolved is the effective setting for one model role.
type Resolved struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

//nolint:gochecknoglobals
var defaultTemperatures = map[string]float64{
	RoleAgent:     0.7,
	RoleBeastMode: 0.7,
	RoleEvaluator: 0,
	RoleRewriter:  0.1,
	RoleDedup:     0.1,
	RoleAnalyzer:  0,
	RoleCoder:     0.7,
}

//nolint:gochecknoglobals
var defaultModels = map[string]string{
	"openai": "gpt-4o-mini",
	"gemini": "gemini-2.0-flash",
	"ollama": "llama3.1",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 3000},
		LLM:    LLMConfig{Provider: "openai", MaxRetries: 3},
		Search: SearchConfig{Provider: "duck", TavilyDepth: "basic", Dedup: "llm"},
		Reader: ReaderConfig{Provider: "http"},
		Models: map[string]ModelConfig{},
		Agent: AgentConfig{
			TokenBudget:       1_000_000,
			MaxBadAttempts:    3,
			StepSleep:         time.Second,
			MaxRecursionDepth: 2,
			BudgetSplitRatio:  0.5,
			MaxURLsPerStep:    4,
			MaxQueriesPerStep: 5,
			MaxReflectPerStep: 2,
			MaxCandidateURLs:  50,
			CodeTimeout:       5 * time.Second,
		},
	}
}

// Load resolves the configuration. path names an optional YAML file; an
// empty path skips the file layer. envFile names the dotenv file, ".env"
// when empty.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if envFile == "" {
		envFile = ".env"
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", envFile, err)
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
		return dotenv[key]
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultModels[cfg.LLM.Provider]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	if c.Models == nil {
		c.Models = map[string]ModelConfig{}
	}
	return nil
}

// applyEnv overlays environment variables onto c.
func (c *Config) applyEnv(lookup func(string) string) error {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			*dst = v
		}
	}
	setStr(&c.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	setStr(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	setStr(&c.LLM.GeminiAPIKey, "GEMINI_API_KEY")
	setStr(&c.LLM.Provider, "LLM_PROVIDER")
	setStr(&c.LLM.Model, "LLM_MODEL")
	setStr(&c.Search.JinaAPIKey, "JINA_API_KEY")
	setStr(&c.Search.BraveAPIKey, "BRAVE_API_KEY")
	setStr(&c.Search.TavilyAPIKey, "TAVILY_API_KEY")
	setStr(&c.Search.Provider, "SEARCH_PROVIDER")
	setStr(&c.Reader.Provider, "READER_PROVIDER")
	setStr(&c.Server.Secret, "DEEPSEARCH_SECRET")

	if v := strings.TrimSpace(lookup("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PORT %q is not a number", ErrInvalid, v)
		}
		c.Server.Port = port
	}
	if v := strings.TrimSpace(lookup("STEP_SLEEP")); v != "" {
		d, err := parseSleep(v)
		if err != nil {
			return fmt.Errorf("%w: STEP_SLEEP %q: %v", ErrInvalid, v, err)
		}
		c.Agent.StepSleep = d
	}
	return nil
}

// parseSleep accepts a Go duration ("1.5s") or a bare number of
// milliseconds ("1000").
func parseSleep(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Validate reports every invalid setting, each wrapping ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		bad("port %d out of range", c.Server.Port)
	}

	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAIAPIKey == "" && c.LLM.BaseURL == "" {
			bad("OPENAI_API_KEY is required for the openai provider")
		}
	case "gemini":
		if c.LLM.GeminiAPIKey == "" {
			bad("GEMINI_API_KEY is required for the gemini provider")
		}
	case "ollama":
	default:
		bad("unknown llm provider %q", c.LLM.Provider)
	}

	switch c.Search.Provider {
	case "jina":
		if c.Search.JinaAPIKey == "" {
			bad("JINA_API_KEY is required for jina search")
		}
	case "brave":
		if c.Search.BraveAPIKey == "" {
			bad("BRAVE_API_KEY is required for brave search")
		}
	case "tavily":
		if c.Search.TavilyAPIKey == "" {
			bad("TAVILY_API_KEY is required for tavily search")
		}
	case "duck":
	default:
		bad("unknown search provider %q", c.Search.Provider)
	}
	switch c.Search.Dedup {
	case "llm":
	case "jina":
		if c.Search.JinaAPIKey == "" {
			bad("JINA_API_KEY is required for jina dedup")
		}
	default:
		bad("unknown dedup mode %q", c.Search.Dedup)
	}

	switch c.Reader.Provider {
	case "jina":
		if c.Search.JinaAPIKey == "" {
			bad("JINA_API_KEY is required for the jina reader")
		}
	case "http", "browser":
	default:
		bad("unknown reader %q", c.Reader.Provider)
	}

	for role := range c.Models {
		if _, ok := defaultTemperatures[role]; !ok {
			bad("unknown model role %q", role)
		}
	}

	a := c.Agent
	if a.TokenBudget <= 0 {
		bad("token budget must be positive")
	}
	if a.MaxBadAttempts < 0 {
		bad("max bad attempts must not be negative")
	}
	if a.StepSleep < 0 {
		bad("step sleep must not be negative")
	}
	if a.MaxRecursionDepth < 0 {
		bad("max recursion depth must not be negative")
	}
	if a.BudgetSplitRatio <= 0 || a.BudgetSplitRatio > 1 {
		bad("budget split ratio %v must be in (0, 1]", a.BudgetSplitRatio)
	}
	if a.MaxURLsPerStep <= 0 || a.MaxQueriesPerStep <= 0 || a.MaxReflectPerStep <= 0 || a.MaxCandidateURLs <= 0 {
		bad("per-step caps must be positive")
	}
	return errors.Join(errs...)
}

// Model resolves the settings for role.
func (c *Config) Model(role string) Resolved {
	r := Resolved{Model: c.LLM.Model, Temperature: defaultTemperatures[role]}
	if m, ok := c.Models[role]; ok {
		if m.Model != "" {
			r.Model = m.Model
		}
		if m.Temperature != nil {
			r.Temperature = *m.Temperature
		}
		r.MaxTokens = m.MaxTokens
	}
	return r
}
