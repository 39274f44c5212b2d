package llm

import (
	"context"

	"github.com/smhanov/deepsearch/retry"
)

type retrying struct {
	next Generator
	opts retry.Options
}

// WithRetry wraps g so every call goes through retry.Do with opts.
func WithRetry(g Generator, opts retry.Options) Generator {
	return retrying{next: g, opts: opts}
}

func (r retrying) Generate(ctx context.Context, req Request) (Response, error) {
	return retry.Do(ctx, func(ctx context.Context) (Response, error) {
		return r.next.Generate(ctx, req)
	}, r.opts)
}
