package stream

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Emitter writes queued text fragments chunk by chunk with natural pacing.
// Fragments are written strictly in Enqueue order by a single consumer
// goroutine.
type Emitter struct {
	ctx    context.Context
	write  func(string) error
	delay  func(chunk string, burst bool) time.Duration
	logger *slog.Logger

	wake chan struct{}

	mu        sync.Mutex
	queue     []*fragment
	running   bool
	cancelCur bool
	flushAll  bool
	err       error
}

type fragment struct {
	text string
	done chan struct{}
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithDelay overrides the per-chunk delay function.
func WithDelay(fn func(chunk string, burst bool) time.Duration) EmitterOption {
	return func(e *Emitter) {
		if fn != nil {
			e.delay = fn
		}
	}
}

// WithLogger sets the logger used to report write failures.
func WithLogger(l *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEmitter returns an emitter that calls write for every chunk. When ctx
// is done, remaining text is written without pacing.
func NewEmitter(ctx context.Context, write func(string) error, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		ctx:    ctx,
		write:  write,
		delay:  func(c string, b bool) time.Duration { return Delay(c, b, nil) },
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue schedules text for streaming and returns a channel that is
// closed once the fragment has been fully written.
func (e *Emitter) Enqueue(text string) <-chan struct{} {
	f := &fragment{text: text, done: make(chan struct{})}
	e.mu.Lock()
	e.queue = append(e.queue, f)
	start := !e.running
	e.running = true
	e.mu.Unlock()
	if start {
		go e.drain()
	}
	return f.done
}

// Flush cuts the fragment currently being streamed short: its remaining
// text is written as a single chunk. Queued fragments are unaffected.
func (e *Emitter) Flush() {
	e.mu.Lock()
	e.cancelCur = true
	e.signal()
	e.mu.Unlock()
}

// Finish writes everything still pending without pacing and waits until
// the queue is empty or ctx is done.
func (e *Emitter) Finish(ctx context.Context) error {
	e.mu.Lock()
	e.flushAll = true
	var last chan struct{}
	if n := len(e.queue); n > 0 {
		last = e.queue[n-1].done
	}
	e.mu.Unlock()
	e.signal()
	if last == nil {
		return nil
	}
	select {
	case <-last:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the first write error, if any.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Emitter) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Emitter) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		f := e.queue[0]
		e.cancelCur = false
		// A Flush aimed at the previous fragment must not cut the
		// first pause of this one.
		select {
		case <-e.wake:
		default:
		}
		e.mu.Unlock()

		e.stream(f.text)

		e.mu.Lock()
		e.queue = e.queue[1:]
		e.mu.Unlock()
		close(f.done)
	}
}

func (e *Emitter) stream(text string) {
	chunks := Chunks(text)
	p := pacer{delay: e.delay}
	for i, c := range chunks {
		if e.stopped() {
			e.emit(strings.Join(chunks[i:], ""))
			break
		}
		e.pause(p.next(c))
		e.emit(c)
	}
	e.emit("\n")
}

func (e *Emitter) stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelCur || e.flushAll || e.err != nil || e.ctx.Err() != nil
}

// pause sleeps for d unless the emitter is flushed or its context ends.
func (e *Emitter) pause(d time.Duration) {
	if d <= 0 || e.stopped() {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.wake:
	case <-e.ctx.Done():
	}
}

func (e *Emitter) emit(s string) {
	if s == "" {
		return
	}
	e.mu.Lock()
	failed := e.err != nil
	e.mu.Unlock()
	if failed {
		return
	}
	if err := e.write(s); err != nil {
		e.logger.Warn("stream write failed", "error", err)
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
	}
}
