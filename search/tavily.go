package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/retry"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	APIKey string
	// Depth is Tavily's search depth, basic or advanced.
	Depth string
	// Endpoint overrides the API URL.
	Endpoint string
	client   *http.Client
	retry    retry.Options
}

// NewTavily constructs a Tavily search provider.
func NewTavily(apiKey string, depth string) *Tavily {
	return NewTavilyWithClient(apiKey, depth, &http.Client{Timeout: 10 * time.Second})
}

// NewTavilyWithClient constructs a Tavily search provider using the
// supplied HTTP client.
func NewTavilyWithClient(apiKey string, depth string, client *http.Client) *Tavily {
	if depth == "" {
		depth = "basic"
	}
	return &Tavily{
		APIKey:   apiKey,
		Depth:    depth,
		Endpoint: tavilyEndpoint,
		client:   client,
		retry:    retry.Options{MaxRetries: 4, InitialDelay: time.Second},
	}
}

// Search posts a query to Tavily, backing off on 429 replies.
func (t *Tavily) Search(ctx context.Context, query string) ([]deepsearch.SearchResult, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}
	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      t.APIKey,
		"search_depth": t.Depth,
		"max_results":  maxResults,
	})
	if err != nil {
		return nil, err
	}

	data, err := retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, retry.NewHTTPError(resp, body)
		}
		return body, nil
	}, t.retry)
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	results := make([]deepsearch.SearchResult, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, deepsearch.SearchResult{Title: r.Title, URL: r.URL, Description: r.Content})
		if len(results) >= maxResults {
			break
		}
	}
	return results, nil
}
