package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/retry"
)

const (
	braveEndpoint       = "https://api.search.brave.com/res/v1/web/search"
	braveMaxRateRetries = 3
)

// keyGate serializes requests that share an API key and enforces a minimum
// spacing between them. Providers with the same key share one gate, so the
// per-key rate limit holds across instances.
type keyGate struct {
	mu      sync.Mutex
	readyAt time.Time
}

var (
	gatesMu sync.Mutex
	gates   = map[string]*keyGate{}
)

// gateFor returns (or creates) the shared gate for a provider and key.
func gateFor(provider, apiKey string) *keyGate {
	gatesMu.Lock()
	defer gatesMu.Unlock()
	k := provider + "\x00" + apiKey
	g, ok := gates[k]
	if !ok {
		g = &keyGate{}
		gates[k] = g
	}
	return g
}

// waitAndLock blocks until the caller may issue a request and returns with
// the gate locked. The caller must call unlock with the delay to impose on
// the next caller.
func (g *keyGate) waitAndLock(ctx context.Context) error {
	g.mu.Lock()
	if wait := time.Until(g.readyAt); wait > 0 {
		g.mu.Unlock()
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		g.mu.Lock()
	}
	return nil
}

func (g *keyGate) unlock(delay time.Duration) {
	g.readyAt = time.Now().Add(delay)
	g.mu.Unlock()
}

// Brave uses the Brave Search API. An API key is required.
type Brave struct {
	APIKey string
	// Endpoint overrides the API URL.
	Endpoint string
	client   *http.Client
}

// NewBrave constructs a Brave search provider.
func NewBrave(apiKey string) *Brave {
	return NewBraveWithClient(apiKey, &http.Client{Timeout: 10 * time.Second})
}

// NewBraveWithClient constructs a Brave search provider using the supplied
// HTTP client.
func NewBraveWithClient(apiKey string, client *http.Client) *Brave {
	return &Brave{APIKey: apiKey, Endpoint: braveEndpoint, client: client}
}

// Search executes a Brave query. Concurrent calls sharing an API key are
// serialized through a shared gate; a 429 reply is waited out using the
// rate-limit reset header, a bounded number of times.
func (b *Brave) Search(ctx context.Context, query string) ([]deepsearch.SearchResult, error) {
	if strings.TrimSpace(b.APIKey) == "" {
		return nil, errors.New("brave: API key is missing")
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(maxResults))
	params.Set("safesearch", "off")
	endpoint := b.Endpoint + "?" + params.Encode()

	gate := gateFor("brave", b.APIKey)

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		if err := gate.waitAndLock(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			gate.unlock(0)
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.APIKey)

		resp, err = b.client.Do(req)
		if err != nil {
			gate.unlock(time.Second)
			return nil, fmt.Errorf("brave: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt == braveMaxRateRetries {
			gate.unlock(braveNextDelay(resp.Header))
			break
		}
		wait := braveRetryDelay(resp.Header)
		resp.Body.Close()
		gate.unlock(wait)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("brave: %w", retry.NewHTTPError(resp, body))
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("brave: decode response: %w", err)
	}

	results := make([]deepsearch.SearchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, deepsearch.SearchResult{Title: r.Title, URL: r.URL, Description: stripTags(r.Description)})
		if len(results) >= maxResults {
			break
		}
	}
	return results, nil
}

// braveRetryDelay reads X-RateLimit-Reset, a comma-separated list of reset
// times in seconds ("1, 1419704"), and uses the smallest. It falls back to
// one second.
func braveRetryDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Reset")
	minReset := -1
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		if minReset < 0 || n < minReset {
			minReset = n
		}
	}
	if minReset <= 0 {
		return time.Second
	}
	return time.Duration(minReset) * time.Second
}

// braveNextDelay reads X-RateLimit-Remaining ("0, 14832": per second, per
// month). An exhausted per-second bucket, or a missing header, holds the
// gate for one second.
func braveNextDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Remaining")
	if raw == "" {
		return time.Second
	}
	parts := strings.SplitN(raw, ",", 2)
	perSecond, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || perSecond <= 0 {
		return time.Second
	}
	return 0
}
