// Package tracker records token consumption and the agent's current step
// so that observers (typically a live HTTP response) can follow a research
// session as it runs.
//
// Both trackers are safe for concurrent use and are meant to be shared by a
// top-level session and every recursive sub-session it spawns.
package tracker

import (
	"log/slog"
	"sync"
)

// Record is a single accepted usage entry.
type Record struct {
	Tool             string
	PromptTokens     int
	CompletionTokens int
}

// Tokens is the total token count of the record.
func (r Record) Tokens() int { return r.PromptTokens + r.CompletionTokens }

// Usage is the aggregate in the shape of a chat completion usage block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TokenTracker accumulates token usage per tool. When constructed with a
// positive budget, records that would push the total past it are dropped
// and logged rather than returned as errors.
type TokenTracker struct {
	mu        sync.Mutex
	budget    int
	records   []Record
	listeners listenerSet[Record]
	logger    *slog.Logger
}

// NewTokenTracker returns a tracker. A budget of zero or less disables the
// budget check.
func NewTokenTracker(budget int, opts ...Option) *TokenTracker {
	o := buildOptions(opts)
	return &TokenTracker{budget: budget, logger: o.logger}
}

// Budget returns the configured budget, or 0 when unbounded.
func (t *TokenTracker) Budget() int {
	if t.budget < 0 {
		return 0
	}
	return t.budget
}

// TrackUsage records tokens consumed by tool. It reports whether the record
// was accepted.
func (t *TokenTracker) TrackUsage(tool string, tokens int) bool {
	return t.TrackTokens(tool, 0, tokens)
}

// TrackTokens records a usage entry with a prompt/completion split. It
// reports whether the record was accepted.
func (t *TokenTracker) TrackTokens(tool string, prompt, completion int) bool {
	rec := Record{Tool: tool, PromptTokens: max(prompt, 0), CompletionTokens: max(completion, 0)}

	t.mu.Lock()
	total := t.totalLocked()
	if t.budget > 0 && total+rec.Tokens() > t.budget {
		t.mu.Unlock()
		t.logger.Warn("token budget exceeded, usage dropped",
			"tool", tool, "tokens", rec.Tokens(), "total", total, "budget", t.budget)
		return false
	}
	t.records = append(t.records, rec)
	t.mu.Unlock()

	t.listeners.emit(rec)
	return true
}

// Total returns the sum of all recorded tokens.
func (t *TokenTracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalLocked()
}

func (t *TokenTracker) totalLocked() int {
	sum := 0
	for _, r := range t.records {
		sum += r.Tokens()
	}
	return sum
}

// Breakdown returns the recorded tokens grouped by tool.
func (t *TokenTracker) Breakdown() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int)
	for _, r := range t.records {
		out[r.Tool] += r.Tokens()
	}
	return out
}

// Usage returns the aggregate prompt/completion split.
func (t *TokenTracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var u Usage
	for _, r := range t.records {
		u.PromptTokens += r.PromptTokens
		u.CompletionTokens += r.CompletionTokens
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// Records returns a copy of the accepted records in insertion order.
func (t *TokenTracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Reset clears all records. Listeners stay attached.
func (t *TokenTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = nil
}

// OnUsage registers fn to be called for every accepted record. The returned
// function detaches it; calling it more than once is harmless.
func (t *TokenTracker) OnUsage(fn func(Record)) (remove func()) {
	return t.listeners.add(fn)
}
