// Package fetch provides deepsearch.Reader implementations that turn a URL
// into readable text for the agent's knowledge.
//
//   - HTTP: plain GET, HTML stripped locally with ExtractText
//   - Jina: the r.jina.ai reader API, markdown output and reported tokens
//   - Browser: headless Chromium via go-rod with stealth tabs, for pages
//     that render client-side
//
// Content is capped at 32KB per page.
package fetch
