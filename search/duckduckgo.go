package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/retry"
)

const ddgEndpoint = "https://lite.duckduckgo.com/lite/"

// ddgRateLimit enforces one query per second across all DuckDuckGo
// instances.
var ddgRateLimit struct {
	mu   sync.Mutex
	last time.Time
}

// DuckDuckGo searches through DuckDuckGo's lite HTML interface. It needs no
// API key.
type DuckDuckGo struct {
	// Endpoint overrides the lite page URL.
	Endpoint string
	client   *http.Client
	retry    retry.Options
}

// NewDuckDuckGo creates a DuckDuckGo searcher with a modest timeout.
func NewDuckDuckGo() *DuckDuckGo {
	return NewDuckDuckGoWithClient(&http.Client{Timeout: 15 * time.Second})
}

// NewDuckDuckGoWithClient creates a DuckDuckGo searcher using the supplied
// HTTP client.
func NewDuckDuckGoWithClient(client *http.Client) *DuckDuckGo {
	return &DuckDuckGo{
		Endpoint: ddgEndpoint,
		client:   client,
		retry:    retry.Options{MaxRetries: 4, InitialDelay: time.Second},
	}
}

// Search posts the query to the lite page and parses the result table.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]deepsearch.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("duckduckgo: query is empty")
	}
	if err := ddgWait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", query)
	body, err := retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, retry.NewHTTPError(resp, data)
		}
		return data, nil
	}, d.retry)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	return parseLiteResults(string(body))
}

func ddgWait(ctx context.Context) error {
	ddgRateLimit.mu.Lock()
	defer ddgRateLimit.mu.Unlock()
	if wait := time.Until(ddgRateLimit.last.Add(time.Second)); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	ddgRateLimit.last = time.Now()
	return nil
}

// parseLiteResults walks the lite page: each result is an anchor with class
// result-link followed by a cell with class result-snippet.
func parseLiteResults(page string) ([]deepsearch.SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse page: %w", err)
	}
	var results []deepsearch.SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(results) > maxResults {
			return
		}
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.A && hasClass(n, "result-link"):
				if u := resolveDDGLink(attr(n, "href")); u != "" {
					results = append(results, deepsearch.SearchResult{Title: nodeText(n), URL: u})
				}
			case n.DataAtom == atom.Td && hasClass(n, "result-snippet"):
				if len(results) > 0 && results[len(results)-1].Description == "" {
					results[len(results)-1].Description = nodeText(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// resolveDDGLink unwraps DuckDuckGo redirect links (//duckduckgo.com/l/?uddg=...)
// and drops internal links.
func resolveDDGLink(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Hostname(), "duckduckgo.com") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
