package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/smhanov/deepsearch/retry"
)

const samplePage = `<!doctype html><html><head><title> Go  Memory Model </title>
<style>body { color: red }</style><script>var x = 1;</script></head>
<body><nav>Home | Docs</nav><header>Site header</header>
<h1>Introduction</h1><p>The Go memory model specifies the conditions &amp; guarantees.</p>
<ul><li>first</li><li>second</li></ul>
<footer>Copyright</footer></body></html>`

func TestExtractText(t *testing.T) {
	title, text := ExtractText(samplePage)
	if title != "Go Memory Model" {
		t.Fatalf("unexpected title %q", title)
	}
	want := "Introduction\nThe Go memory model specifies the conditions & guarantees.\nfirst\nsecond"
	if text != want {
		t.Fatalf("unexpected text:\n%q\nwant\n%q", text, want)
	}
}

func TestExtractTextTruncates(t *testing.T) {
	_, text := ExtractText("<p>" + strings.Repeat("é", maxFetchBytes) + "</p>")
	if !strings.HasSuffix(text, "\n[TRUNCATED]") {
		t.Fatal("expected truncation marker")
	}
	body := strings.TrimSuffix(text, "\n[TRUNCATED]")
	if len(body) > maxFetchBytes || strings.ContainsRune(body, utf8.RuneError) {
		t.Fatalf("truncated body is %d bytes or split a rune", len(body))
	}
}

func TestHTTPRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing user agent")
		}
		fmt.Fprint(w, samplePage)
	}))
	defer srv.Close()

	page, err := NewHTTP().Read(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Title != "Go Memory Model" || page.URL != srv.URL {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Tokens != estimateTokens(page.Content) || page.Tokens == 0 {
		t.Fatalf("unexpected token estimate %d", page.Tokens)
	}
}

func TestHTTPReadStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTP()
	f.retry = retry.Options{MaxRetries: -1}
	_, err := f.Read(context.Background(), srv.URL)
	var httpErr *retry.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
}

func TestHTTPReadEmptyURL(t *testing.T) {
	if _, err := NewHTTP().Read(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestJinaRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["url"] != "https://go.dev/ref/mem" {
			t.Errorf("unexpected body %v", body)
		}
		if r.Header.Get("X-Return-Format") != "markdown" || r.Header.Get("Authorization") != "Bearer jk" {
			t.Errorf("unexpected headers %v", r.Header)
		}
		fmt.Fprint(w, `{"code":200,"data":{"title":"Memory","url":"https://go.dev/ref/mem","content":"# Memory model","usage":{"tokens":42}}}`)
	}))
	defer srv.Close()

	j := NewJina("jk")
	j.Endpoint = srv.URL
	page, err := j.Read(context.Background(), "https://go.dev/ref/mem")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Title != "Memory" || page.Content != "# Memory model" || page.Tokens != 42 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestJinaReadRetriesServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"code":200,"data":{"content":"body text"}}`)
	}))
	defer srv.Close()

	j := NewJina("jk")
	j.Endpoint = srv.URL
	j.retry = retry.Options{MaxRetries: 2, ShouldRetry: retry.IsTransient, Sleep: func(context.Context, time.Duration) error { return nil }}
	page, err := j.Read(context.Background(), "https://a.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || page.URL != "https://a.example" || page.Tokens != estimateTokens("body text") {
		t.Fatalf("unexpected outcome: calls=%d page=%+v", calls, page)
	}
}

func TestJinaReadEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"code":200,"data":{"content":"  "}}`)
	}))
	defer srv.Close()

	j := NewJina("jk")
	j.Endpoint = srv.URL
	if _, err := j.Read(context.Background(), "https://a.example"); err == nil {
		t.Fatal("expected error for empty content")
	}
}
