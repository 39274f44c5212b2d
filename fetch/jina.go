package fetch

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

const jinaReaderEndpoint = "https://r.jina.ai/"

// Jina reads pages through the Jina reader API, which renders them to
// markdown and reports the tokens it consumed.
type Jina struct {
	APIKey string
	// Endpoint overrides the API URL.
	Endpoint string
	client   *http.Client
	retry    retry.Options
}

// NewJina creates a Jina reader.
func NewJina(apiKey string) *Jina {
	return NewJinaWithClient(apiKey, &http.Client{Timeout: 60 * time.Second})
}

// NewJinaWithClient creates a Jina reader using the supplied client.
func NewJinaWithClient(apiKey string, client *http.Client) *Jina {
	return &Jina{
		APIKey:   apiKey,
		Endpoint: jinaReaderEndpoint,
		client:   client,
		retry:    retry.Options{MaxRetries: 3, InitialDelay: time.Second, ShouldRetry: retry.IsTransient},
	}
}

// Read asks r.jina.ai for the page content.
func (j *Jina) Read(ctx context.Context, url string) (deepsearch.Page, error) {
	if strings.TrimSpace(j.APIKey) == "" {
		return deepsearch.Page{}, errors.New("jina reader: API key is missing")
	}
	payload, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return deepsearch.Page{}, err
	}

	data, err := retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+j.APIKey)
		req.Header.Set("X-Retain-Images", "none")
		req.Header.Set("X-Return-Format", "markdown")
		resp, err := j.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, retry.NewHTTPError(resp, body)
		}
		return body, nil
	}, j.retry)
	if err != nil {
		return deepsearch.Page{}, fmt.Errorf("jina reader %s: %w", url, err)
	}

	var response struct {
		Code int `json:"code"`
		Data struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
			Usage   struct {
				Tokens int `json:"tokens"`
			} `json:"usage"`
		} `json:"data"`
		ReadableMessage string `json:"readableMessage"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return deepsearch.Page{}, fmt.Errorf("jina reader: decode response: %w", err)
	}
	if response.Code != 0 && response.Code != http.StatusOK {
		return deepsearch.Page{}, fmt.Errorf("jina reader: code %d: %s", response.Code, response.ReadableMessage)
	}
	if strings.TrimSpace(response.Data.Content) == "" {
		return deepsearch.Page{}, fmt.Errorf("jina reader %s: no content", url)
	}

	page := deepsearch.Page{
		Title:   response.Data.Title,
		URL:     response.Data.URL,
		Content: truncate(response.Data.Content),
		Tokens:  response.Data.Usage.Tokens,
	}
	if page.URL == "" {
		page.URL = url
	}
	if page.Tokens == 0 {
		page.Tokens = estimateTokens(page.Content)
	}
	return page, nil
}
