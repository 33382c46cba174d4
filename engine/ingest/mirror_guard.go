package ingest

import (
	"context"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/relation"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/fn"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/resilience"
)

// GuardedMirror wraps a GraphMirror with retry, a circuit breaker, and a
// rate limiter. Transient write failures are retried with backoff; only an
// operation that fails all attempts counts against the breaker, and when the
// mirror backend stays down the breaker sheds calls instead of slowing
// every batch.
type GuardedMirror struct {
	inner   GraphMirror
	breaker *resilience.Breaker
	limiter *resilience.Limiter
	retry   fn.RetryOpts
}

func NewGuardedMirror(inner GraphMirror, breaker *resilience.Breaker, limiter *resilience.Limiter) *GuardedMirror {
	return &GuardedMirror{inner: inner, breaker: breaker, limiter: limiter, retry: fn.DefaultRetry}
}

func (m *GuardedMirror) SaveEquipment(ctx context.Context, eq domain.Equipment, aliases []domain.Alias) error {
	return m.guarded(ctx, func(ctx context.Context) error {
		return m.inner.SaveEquipment(ctx, eq, aliases)
	})
}

func (m *GuardedMirror) SaveEdge(ctx context.Context, tags relation.EdgeTags, e domain.Edge) error {
	return m.guarded(ctx, func(ctx context.Context) error {
		return m.inner.SaveEdge(ctx, tags, e)
	})
}

func (m *GuardedMirror) guarded(ctx context.Context, f func(context.Context) error) error {
	call := f
	if m.limiter != nil {
		inner := call
		call = func(ctx context.Context) error {
			return m.limiter.CallWait(ctx, inner)
		}
	}
	retried := func(ctx context.Context) error {
		r := fn.Retry(ctx, m.retry, func(ctx context.Context) fn.Result[struct{}] {
			if err := call(ctx); err != nil {
				return fn.Err[struct{}](err)
			}
			return fn.Ok(struct{}{})
		})
		_, err := r.Unwrap()
		return err
	}
	if m.breaker != nil {
		return m.breaker.Call(ctx, retried)
	}
	return retried(ctx)
}

var _ GraphMirror = (*GuardedMirror)(nil)
