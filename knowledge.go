package deepsearch

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// KnowledgeType classifies a KnowledgeItem by where it came from.
type KnowledgeType string

const (
	KnowledgeQA       KnowledgeType = "qa"
	KnowledgeSideInfo KnowledgeType = "side-info"
	KnowledgeURL      KnowledgeType = "url"
	KnowledgeCoding   KnowledgeType = "coding"
)

// KnowledgeItem is one fact the agent has gathered.
type KnowledgeItem struct {
	Question   string        `json:"question"`
	Answer     string        `json:"answer"`
	Type       KnowledgeType `json:"type"`
	References []string      `json:"references,omitempty"`
	SourceCode string        `json:"sourceCode,omitempty"`
	Updated    time.Time     `json:"updated"`
}

// BadAttempt records a rejected answer and the lessons drawn from it.
type BadAttempt struct {
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Evaluation  string `json:"evaluation"`
	Recap       string `json:"recap"`
	Blame       string `json:"blame"`
	Improvement string `json:"improvement"`
}

// Message is a prior chat turn supplied with the question.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NormalizeURL canonicalizes a URL so equivalent spellings share one
// registry entry: scheme and host are lowercased, default ports, fragments
// and a trailing slash on the path are dropped.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	} else if u.Path == "/" {
		u.Path = ""
	}
	return u.String(), nil
}
