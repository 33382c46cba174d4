package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Stage is one step of a batch pipeline. A stage transforms its input and
// hands the result to the next stage, or fails the whole run.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Pipeline chains same-typed stages into one. Stages run in order; the
// first failure stops the run and becomes the pipeline's Result. Context
// cancellation is checked between stages so a dead batch does not keep
// grinding through resolution and edge upserts.
func Pipeline[T any](stages ...Stage[T, T]) Stage[T, T] {
	return func(ctx context.Context, in T) Result[T] {
		cur := in
		for _, stage := range stages {
			if err := ctx.Err(); err != nil {
				return Err[T](err)
			}
			r := stage(ctx, cur)
			if r.IsErr() {
				return r
			}
			cur, _ = r.Unwrap()
		}
		return Ok(cur)
	}
}

var tracer = otel.Tracer("github.com/LL-LLLu/Electric-RAG-sub001/pkg/fn")

// TracedStage wraps a stage in an OpenTelemetry span carrying the given
// name. A stage failure is recorded on the span before it propagates.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := tracer.Start(ctx, name)
		defer span.End()
		r := stage(ctx, in)
		if _, err := r.Unwrap(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return r
	}
}
