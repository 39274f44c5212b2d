package tracker

import (
	"io"
	"log/slog"
	"sync"
)

// listenerSet is an ordered, removable set of callbacks. Callbacks run
// synchronously on the emitting goroutine and outside of any tracker lock,
// so a listener may query the tracker or remove itself while handling an
// event.
type listenerSet[T any] struct {
	mu      sync.Mutex
	nextID  int
	entries []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id int
	fn func(T)
}

func (l *listenerSet[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listenerEntry[T]{id: id, fn: fn})
	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listenerSet[T]) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *listenerSet[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *listenerSet[T]) emit(v T) {
	l.mu.Lock()
	snapshot := make([]listenerEntry[T], len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()
	for _, e := range snapshot {
		if !l.active(e.id) {
			continue
		}
		e.fn(v)
	}
}

// active reports whether the listener is still registered. A listener
// removed by an earlier callback in the same emit is skipped.
func (l *listenerSet[T]) active(id int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.id == id {
			return true
		}
	}
	return false
}

// Option configures a tracker.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used to report dropped usage records.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
