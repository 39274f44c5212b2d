package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/llm"
	"github.com/smhanov/deepsearch/retry"
)

const dedupSystemPrompt = `You remove semantic duplicates from a list of new queries or questions.
Two items are duplicates when they ask for the same information, even if worded differently.
Keep a new item only if it differs from every other kept new item and from every existing item.
Return the kept new items verbatim.`

// LLMDeduper removes semantic duplicates with a model.
type LLMDeduper struct {
	model llm.Generator
	cfg   settings
}

// NewLLMDeduper constructs an LLMDeduper. The default temperature is 0.1.
func NewLLMDeduper(model llm.Generator, opts ...Option) *LLMDeduper {
	return &LLMDeduper{model: model, cfg: buildSettings(0.1, opts)}
}

// Dedup implements deepsearch.Deduper.
func (d *LLMDeduper) Dedup(ctx context.Context, candidates, existing []string) (deepsearch.DedupResult, error) {
	var b strings.Builder
	b.WriteString("New items:\n")
	writeList(&b, candidates)
	b.WriteString("\nExisting items:\n")
	if len(existing) == 0 {
		b.WriteString("(none)\n")
	}
	writeList(&b, existing)

	schema := llm.Object(map[string]*llm.Schema{
		"think":  llm.String("Which items duplicate which"),
		"unique": llm.StringArray("The new items to keep, verbatim", len(candidates)),
	}, "think", "unique")

	var out struct {
		Unique []string `json:"unique"`
	}
	usage, err := llm.GenerateObject(ctx, d.model, d.cfg.request(dedupSystemPrompt, b.String(), "dedup", schema), &out)
	if err != nil {
		return deepsearch.DedupResult{Usage: usage}, fmt.Errorf("dedup: %w", err)
	}
	return deepsearch.DedupResult{Unique: out.Unique, Usage: usage}, nil
}

func writeList(b *strings.Builder, items []string) {
	for i, s := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, s)
	}
}

const (
	defaultJinaEmbeddingsURL = "https://api.jina.ai/v1/embeddings"
	defaultSimilarity        = 0.86
)

// JinaDeduper removes candidates whose embedding is too close to an
// existing item or to an earlier kept candidate.
type JinaDeduper struct {
	apiKey    string
	endpoint  string
	model     string
	threshold float64
	client    *http.Client
	retry     retry.Options
	logger    *slog.Logger
}

// JinaOption configures a JinaDeduper.
type JinaOption func(*JinaDeduper)

// WithEmbeddingsURL overrides the embeddings endpoint.
func WithEmbeddingsURL(u string) JinaOption {
	return func(d *JinaDeduper) { d.endpoint = u }
}

// WithSimilarityThreshold sets the cosine similarity at or above which two
// items are duplicates.
func WithSimilarityThreshold(t float64) JinaOption {
	return func(d *JinaDeduper) {
		if t > 0 && t <= 1 {
			d.threshold = t
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) JinaOption {
	return func(d *JinaDeduper) {
		if c != nil {
			d.client = c
		}
	}
}

// WithJinaRetry configures retries of the embeddings call.
func WithJinaRetry(o retry.Options) JinaOption {
	return func(d *JinaDeduper) { d.retry = o }
}

// WithJinaLogger sets the structured logger.
func WithJinaLogger(l *slog.Logger) JinaOption {
	return func(d *JinaDeduper) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewJinaDeduper constructs a deduplicator backed by the Jina embeddings
// API.
func NewJinaDeduper(apiKey string, opts ...JinaOption) *JinaDeduper {
	d := &JinaDeduper{
		apiKey:    apiKey,
		endpoint:  defaultJinaEmbeddingsURL,
		model:     "jina-embeddings-v3",
		threshold: defaultSimilarity,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Dedup implements deepsearch.Deduper.
func (d *JinaDeduper) Dedup(ctx context.Context, candidates, existing []string) (deepsearch.DedupResult, error) {
	if len(candidates) == 0 {
		return deepsearch.DedupResult{}, nil
	}
	input := append(append([]string(nil), candidates...), existing...)
	emb, err := retry.Do(ctx, func(ctx context.Context) (embeddingResponse, error) {
		return d.embed(ctx, input)
	}, d.retry)
	if err != nil {
		return deepsearch.DedupResult{}, fmt.Errorf("jina embeddings: %w", err)
	}
	if len(emb.Data) != len(input) {
		return deepsearch.DedupResult{}, fmt.Errorf("jina embeddings: got %d vectors for %d inputs", len(emb.Data), len(input))
	}
	vectors := make([][]float64, len(input))
	for _, v := range emb.Data {
		if v.Index < 0 || v.Index >= len(input) {
			return deepsearch.DedupResult{}, fmt.Errorf("jina embeddings: index %d out of range", v.Index)
		}
		vectors[v.Index] = v.Embedding
	}

	usage := llm.Usage{PromptTokens: emb.Usage.TotalTokens}
	existingVecs := vectors[len(candidates):]
	var kept []string
	var keptVecs [][]float64
	for i, c := range candidates {
		if d.duplicate(vectors[i], existingVecs) || d.duplicate(vectors[i], keptVecs) {
			d.logger.Debug("dropping duplicate", "item", c)
			continue
		}
		kept = append(kept, c)
		keptVecs = append(keptVecs, vectors[i])
	}
	return deepsearch.DedupResult{Unique: kept, Usage: usage}, nil
}

func (d *JinaDeduper) duplicate(v []float64, others [][]float64) bool {
	for _, o := range others {
		if cosine(v, o) >= d.threshold {
			return true
		}
	}
	return false
}

func (d *JinaDeduper) embed(ctx context.Context, input []string) (embeddingResponse, error) {
	body, err := json.Marshal(map[string]any{
		"model":          d.model,
		"task":           "text-matching",
		"late_chunking":  false,
		"dimensions":     1024,
		"embedding_type": "float",
		"input":          input,
	})
	if err != nil {
		return embeddingResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return embeddingResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return embeddingResponse{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return embeddingResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return embeddingResponse{}, retry.NewHTTPError(resp, data)
	}
	var out embeddingResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return embeddingResponse{}, fmt.Errorf("decode embeddings: %w", err)
	}
	return out, nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
