package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/smhanov/deepsearch"
)

// Browser reads pages with a headless Chromium driven over the DevTools
// protocol, for sites that need JavaScript. Each Read opens a stealth tab in
// a shared browser, which is launched on first use.
type Browser struct {
	// Timeout bounds a single page load.
	Timeout time.Duration
	// ControlURL connects to an existing browser instead of launching one.
	ControlURL string
	// Headless controls whether a launched browser shows a window.
	Headless bool

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowser creates a Browser reader that launches headless Chromium.
func NewBrowser() *Browser {
	return &Browser{Timeout: 30 * time.Second, Headless: true}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}
	controlURL := b.ControlURL
	if controlURL == "" {
		u, err := launcher.New().Leakless(true).Headless(b.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	b.browser = browser
	return browser, nil
}

// Read renders the URL in a fresh tab and extracts its text.
func (b *Browser) Read(ctx context.Context, url string) (deepsearch.Page, error) {
	browser, err := b.connect()
	if err != nil {
		return deepsearch.Page{}, err
	}
	tab, err := stealth.Page(browser)
	if err != nil {
		return deepsearch.Page{}, fmt.Errorf("open tab: %w", err)
	}
	defer tab.Close()

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	page := tab.Context(ctx)

	if err := page.Navigate(url); err != nil {
		return deepsearch.Page{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return deepsearch.Page{}, fmt.Errorf("load %s: %w", url, err)
	}
	raw, err := page.HTML()
	if err != nil {
		return deepsearch.Page{}, fmt.Errorf("read %s: %w", url, err)
	}

	title, text := ExtractText(raw)
	if text == "" {
		return deepsearch.Page{}, fmt.Errorf("read %s: no readable content", url)
	}
	finalURL := url
	if info, err := page.Info(); err == nil {
		finalURL = info.URL
		if info.Title != "" {
			title = info.Title
		}
	}
	return deepsearch.Page{Title: title, URL: finalURL, Content: text, Tokens: estimateTokens(text)}, nil
}

// Close shuts down the shared browser, if one was started.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}
