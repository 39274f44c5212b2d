// Package search provides SearchProvider implementations for the
// deepsearch agent. Every provider returns at most ten results.
//
// Available providers:
//
//   - DuckDuckGo: free, no API key (parses lite.duckduckgo.com)
//   - Brave: API key via the X-Subscription-Token header, one request per
//     second per key
//   - Tavily: API key, basic or advanced depth
//   - Jina: API key, s.jina.ai snippets
//
// Rate-limited replies (HTTP 429) are retried with backoff; other failures
// surface as *retry.HTTPError so callers can inspect the status code.
//
// # Example
//
//	provider := search.NewBrave("your-api-key")
//	results, err := provider.Search(ctx, "best practices for API design")
//
// # Custom Providers
//
// Implement deepsearch.SearchProvider to add your own backend:
//
//	type SearchProvider interface {
//	    Search(ctx context.Context, query string) ([]deepsearch.SearchResult, error)
//	}
package search
