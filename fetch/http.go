package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/retry"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// HTTP reads pages with a plain GET and strips the HTML locally.
type HTTP struct {
	client *http.Client
	retry  retry.Options
}

// NewHTTP creates an HTTP reader with a modest timeout.
func NewHTTP() *HTTP {
	return NewHTTPWithClient(&http.Client{Timeout: 15 * time.Second})
}

// NewHTTPWithClient creates an HTTP reader using the supplied client.
func NewHTTPWithClient(client *http.Client) *HTTP {
	return &HTTP{client: client, retry: retry.Options{MaxRetries: 2, InitialDelay: time.Second, ShouldRetry: retry.IsTransient}}
}

// Read downloads the URL and returns its title and plain text.
func (f *HTTP) Read(ctx context.Context, url string) (deepsearch.Page, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return deepsearch.Page{}, errors.New("fetch: url is empty")
	}

	body, err := retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmed, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, retry.NewHTTPError(resp, data)
		}
		return data, nil
	}, f.retry)
	if err != nil {
		return deepsearch.Page{}, fmt.Errorf("fetch %s: %w", trimmed, err)
	}

	title, text := ExtractText(string(body))
	if text == "" {
		return deepsearch.Page{}, fmt.Errorf("fetch %s: no readable content", trimmed)
	}
	return deepsearch.Page{Title: title, URL: trimmed, Content: text, Tokens: estimateTokens(text)}, nil
}
