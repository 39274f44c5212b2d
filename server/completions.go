package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/stream"
	"github.com/smhanov/deepsearch/tracker"
)

const maxRequestBytes = 4 << 20

var errStreamClosed = errors.New("stream closed")

// effort maps reasoning_effort to a token budget and a rejected-answer
// allowance.
type effort struct {
	budget int
	maxBad int
}

var efforts = map[string]effort{ //nolint:gochecknoglobals
	"low":    {budget: 100_000, maxBad: 1},
	"medium": {budget: 500_000, maxBad: 2},
	"high":   {budget: 1_000_000, maxBad: 3},
}

// budgetFor resolves the session limits for a request. An explicit
// max_completion_tokens overrides the effort table's budget and allows
// three bad attempts.
func budgetFor(reasoningEffort string, maxCompletionTokens *int) effort {
	if maxCompletionTokens != nil {
		return effort{budget: *maxCompletionTokens, maxBad: 3}
	}
	if e, ok := efforts[strings.ToLower(reasoningEffort)]; ok {
		return e
	}
	return efforts["medium"]
}

func (s *Server) authorized(r *http.Request) bool {
	if s.secret == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token == s.secret
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn("unauthorized chat completion request")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Messages array is required and must not be empty"})
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Last message must be from user"})
		return
	}

	limits := budgetFor(req.ReasoningEffort, req.MaxCompletionTokens)
	c := &call{
		id:      "chatcmpl-" + uuid.NewString(),
		created: s.now().Unix(),
		model:   req.Model,
		tokens:  tracker.NewTokenTracker(0, tracker.WithLogger(s.logger)),
		actions: tracker.NewActionTracker(),
	}
	if c.model == "" {
		c.model = ModelID
	}
	history := make([]deepsearch.Message, 0, len(req.Messages)-1)
	for _, m := range req.Messages[:len(req.Messages)-1] {
		history = append(history, deepsearch.Message{Role: m.Role, Content: string(m.Content)})
	}
	opts := []deepsearch.AnswerOption{
		deepsearch.WithTokenBudget(limits.budget),
		deepsearch.WithMaxBadAttempts(limits.maxBad),
		deepsearch.WithTrackers(c.tokens, c.actions),
		deepsearch.WithMessages(history),
	}
	if lang := acceptLanguage(r.Header.Get("Accept-Language")); lang != "" {
		opts = append(opts, deepsearch.WithLanguage(lang))
	}

	s.logger.Info("chat completion",
		"id", c.id,
		"model", req.Model,
		"stream", req.Stream,
		"messages", len(req.Messages),
		"budget", limits.budget,
	)

	question := string(last.Content)
	if req.Stream {
		s.streamCompletion(w, r, c, question, opts)
		return
	}

	result, err := s.agent.Answer(r.Context(), question, opts...)
	usage := c.tokens.Usage()
	content := ""
	if err != nil {
		s.logger.Error("chat completion failed", "id", c.id, "error", err)
		content = "Error: " + err.Error()
	} else {
		content = contentOf(result)
		s.logger.Info("chat completion finished", "id", c.id, "content_length", len(content), "total_tokens", usage.TotalTokens)
	}
	writeJSON(w, http.StatusOK, completion{
		ID:                c.id,
		Object:            "chat.completion",
		Created:           c.created,
		Model:             c.model,
		SystemFingerprint: c.fingerprint(),
		Choices: []choice{{
			Message:      &outMessage{Role: "assistant", Content: content},
			FinishReason: stop(),
		}},
		Usage: &usage,
	})
}

// streamCompletion answers over server-sent events. Think text from the
// action tracker is streamed inside <think> tags while the agent works.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, c *call, question string, opts []deepsearch.AnswerOption) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w, rc: http.NewResponseController(w)}
	defer sse.close()
	_ = sse.send(c.chunk(delta{Role: "assistant", Content: "<think>"}, nil, nil))

	em := stream.NewEmitter(r.Context(), func(text string) error {
		return sse.send(c.chunk(delta{Content: text}, nil, nil))
	}, s.emitterOptions()...)

	var mu sync.Mutex
	lastThink := ""
	remove := c.actions.OnAction(func(st tracker.State) {
		mu.Lock()
		defer mu.Unlock()
		if st.Think == "" || st.Think == lastThink {
			return
		}
		lastThink = st.Think
		em.Enqueue(st.Think)
	})
	defer remove()

	result, err := s.agent.Answer(r.Context(), question, opts...)
	remove()

	finishCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	em.Flush()
	if ferr := em.Finish(finishCtx); ferr != nil {
		s.logger.Warn("think stream did not drain", "id", c.id, "error", ferr)
	}
	cancel()

	usage := c.tokens.Usage()
	if err != nil {
		s.logger.Error("chat completion failed", "id", c.id, "error", err)
		_ = sse.send(c.chunk(delta{Content: "</think>"}, nil, &usage))
		_ = sse.send(c.chunk(delta{Content: err.Error()}, stop(), &usage))
		return
	}
	_ = sse.send(c.chunk(delta{Content: "</think>\n\n"}, nil, nil))
	if werr := sse.send(c.chunk(delta{Content: contentOf(result)}, stop(), &usage)); werr != nil {
		s.logger.Warn("final chunk not delivered", "id", c.id, "error", werr)
		return
	}
	s.logger.Info("chat completion finished", "id", c.id, "total_tokens", usage.TotalTokens)
}

// call holds the identity and trackers of one chat completion request.
type call struct {
	id      string
	created int64
	model   string
	tokens  *tracker.TokenTracker
	actions *tracker.ActionTracker
}

func (c *call) fingerprint() string {
	return "fp_" + strings.TrimPrefix(c.id, "chatcmpl-")
}

func (c *call) chunk(d delta, finish *string, usage *tracker.Usage) completion {
	return completion{
		ID:                c.id,
		Object:            "chat.completion.chunk",
		Created:           c.created,
		Model:             c.model,
		SystemFingerprint: c.fingerprint(),
		Choices:           []choice{{Delta: &d, FinishReason: finish}},
		Usage:             usage,
	}
}

// sseWriter serializes frames written by the handler and the emitter.
// Once closed it drops frames, so a late emitter write never touches a
// finished response.
type sseWriter struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	closed bool
}

func (s *sseWriter) send(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", bytes.TrimSpace(buf.Bytes())); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// contentOf renders the final answer, or falls back to the rationale of a
// non-answer step.
func contentOf(r deepsearch.Result) string {
	if ans := r.Answer(); ans != nil {
		if ans.Markdown != "" {
			return ans.Markdown
		}
		return deepsearch.Render(ans)
	}
	if r.Action != nil {
		return r.Action.Rationale()
	}
	return ""
}

// acceptLanguage returns the first language tag of an Accept-Language
// header.
func acceptLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	tag = strings.TrimSpace(tag)
	if tag == "*" {
		return ""
	}
	return tag
}

func stop() *string {
	s := "stop"
	return &s
}
