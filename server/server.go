package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/stream"
)

const (
	// ModelID is the single model advertised by /v1/models.
	ModelID      = "deepsearch-v1"
	modelCreated = 1686935002
	modelOwner   = "smhanov"
)

// Researcher answers one question per call. *deepsearch.Agent satisfies it.
type Researcher interface {
	Answer(ctx context.Context, question string, opts ...deepsearch.AnswerOption) (deepsearch.Result, error)
}

// Server exposes a Researcher through an OpenAI-compatible chat
// completions API.
type Server struct {
	agent  Researcher
	secret string
	logger *slog.Logger
	delay  func(chunk string, burst bool) time.Duration
	now    func() time.Time
	mux    *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithSecret requires "Authorization: Bearer <secret>" on chat completions.
func WithSecret(secret string) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStreamDelay overrides the pacing of streamed think text.
func WithStreamDelay(fn func(chunk string, burst bool) time.Duration) Option {
	return func(s *Server) {
		s.delay = fn
	}
}

// New builds a Server around agent.
func New(agent Researcher, opts ...Option) *Server {
	s := &Server{
		agent:  agent,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)
	s.mux.HandleFunc("GET /v1/models/{id}", s.handleModel)
	s.mux.HandleFunc("POST /v1/chat/completions", s.handleCompletions)
	return s
}

// ServeHTTP applies CORS and request logging around the routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Info("request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, modelList{Object: "list", Data: []model{advertised()}})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id != ModelID {
		writeJSON(w, http.StatusNotFound, map[string]apiError{"error": {
			Message: fmt.Sprintf("Model '%s' not found", id),
			Type:    "invalid_request_error",
			Code:    "model_not_found",
		}})
		return
	}
	writeJSON(w, http.StatusOK, advertised())
}

func advertised() model {
	return model{ID: ModelID, Object: "model", Created: modelCreated, OwnedBy: modelOwner}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// statusRecorder captures the status code for logging and keeps streaming
// working through the wrapper.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) emitterOptions() []stream.EmitterOption {
	opts := []stream.EmitterOption{stream.WithLogger(s.logger)}
	if s.delay != nil {
		opts = append(opts, stream.WithDelay(s.delay))
	}
	return opts
}
