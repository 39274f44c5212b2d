package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/retry"
)

const jinaSearchEndpoint = "https://s.jina.ai/"

// Jina uses the Jina search API, which returns result snippets as JSON.
type Jina struct {
	APIKey string
	// Endpoint overrides the API URL.
	Endpoint string
	client   *http.Client
	retry    retry.Options
}

// NewJina constructs a Jina search provider.
func NewJina(apiKey string) *Jina {
	return NewJinaWithClient(apiKey, &http.Client{Timeout: 30 * time.Second})
}

// NewJinaWithClient constructs a Jina search provider using the supplied
// HTTP client.
func NewJinaWithClient(apiKey string, client *http.Client) *Jina {
	return &Jina{
		APIKey:   apiKey,
		Endpoint: jinaSearchEndpoint,
		client:   client,
		retry:    retry.Options{MaxRetries: 3, InitialDelay: time.Second},
	}
}

// Search runs a query through s.jina.ai.
func (j *Jina) Search(ctx context.Context, query string) ([]deepsearch.SearchResult, error) {
	if strings.TrimSpace(j.APIKey) == "" {
		return nil, errors.New("jina: API key is missing")
	}
	endpoint := j.Endpoint + "?" + url.Values{"q": {query}}.Encode()

	data, err := retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+j.APIKey)
		req.Header.Set("X-Respond-With", "no-content")
		resp, err := j.client.Do(req)
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
	}, j.retry)
	if err != nil {
		return nil, fmt.Errorf("jina: %w", err)
	}

	var payload struct {
		Code int `json:"code"`
		Data []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"data"`
		ReadableMessage string `json:"readableMessage"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("jina: decode response: %w", err)
	}
	if payload.Code != 0 && payload.Code != http.StatusOK {
		return nil, fmt.Errorf("jina: code %d: %s", payload.Code, payload.ReadableMessage)
	}

	results := make([]deepsearch.SearchResult, 0, len(payload.Data))
	for _, r := range payload.Data {
		results = append(results, deepsearch.SearchResult{Title: r.Title, URL: r.URL, Description: r.Description})
		if len(results) >= maxResults {
			break
		}
	}
	return results, nil
}
