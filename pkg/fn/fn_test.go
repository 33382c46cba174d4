package fn

import (
	"context"
	"errors"
	"testing"
	"time"
)

// batch is a stand-in for pipeline state: raw tags in, resolved count out.
type batch struct {
	tags     []string
	resolved int
	stages   []string
}

func TestResultOkAndErr(t *testing.T) {
	r := Ok(&batch{tags: []string{"VFD-101"}})
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should report ok")
	}
	b, err := r.Unwrap()
	if err != nil || len(b.tags) != 1 {
		t.Fatalf("Unwrap = %v, %v", b, err)
	}

	boom := errors.New("resolve failed")
	e := Err[*batch](boom)
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should report err")
	}
	if _, err := e.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("Unwrap err = %v, want %v", err, boom)
	}
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	mark := func(name string) Stage[*batch, *batch] {
		return func(_ context.Context, b *batch) Result[*batch] {
			b.stages = append(b.stages, name)
			b.resolved += len(b.tags)
			return Ok(b)
		}
	}
	p := Pipeline(mark("validate"), mark("resolve"), mark("edges"))

	b, err := p(context.Background(), &batch{tags: []string{"MCC-3", "M-101"}}).Unwrap()
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	want := []string{"validate", "resolve", "edges"}
	if len(b.stages) != len(want) {
		t.Fatalf("ran %v, want %v", b.stages, want)
	}
	for i, s := range want {
		if b.stages[i] != s {
			t.Fatalf("stage %d = %q, want %q", i, b.stages[i], s)
		}
	}
	if b.resolved != 6 {
		t.Fatalf("resolved = %d, want 6", b.resolved)
	}
}

func TestPipelineStopsOnFirstFailure(t *testing.T) {
	boom := errors.New("unknown document")
	ran := 0
	count := func(_ context.Context, b *batch) Result[*batch] {
		ran++
		return Ok(b)
	}
	fail := func(_ context.Context, b *batch) Result[*batch] {
		ran++
		return Err[*batch](boom)
	}
	p := Pipeline[*batch](count, fail, count)

	if _, err := p(context.Background(), &batch{}).Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if ran != 2 {
		t.Fatalf("ran %d stages, want 2", ran)
	}
}

func TestPipelineHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := 0
	cancelling := func(_ context.Context, b *batch) Result[*batch] {
		ran++
		cancel()
		return Ok(b)
	}
	never := func(_ context.Context, b *batch) Result[*batch] {
		ran++
		return Ok(b)
	}
	p := Pipeline[*batch](cancelling, never)

	if _, err := p(ctx, &batch{}).Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if ran != 1 {
		t.Fatalf("ran %d stages after cancel, want 1", ran)
	}
}

func TestTracedStagePassesResultThrough(t *testing.T) {
	ok := TracedStage("ingest.resolve", func(_ context.Context, b *batch) Result[*batch] {
		b.resolved = 3
		return Ok(b)
	})
	b, err := ok(context.Background(), &batch{}).Unwrap()
	if err != nil || b.resolved != 3 {
		t.Fatalf("traced ok = %v, %v", b, err)
	}

	boom := errors.New("mirror down")
	bad := TracedStage("ingest.mirror", func(_ context.Context, b *batch) Result[*batch] {
		return Err[*batch](boom)
	})
	if _, err := bad(context.Background(), &batch{}).Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("traced err = %v, want %v", err, boom)
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 4, InitialWait: time.Millisecond},
		func(context.Context) Result[int] {
			attempts++
			if attempts < 3 {
				return Err[int](errors.New("connection reset"))
			}
			return Ok(attempts)
		})
	v, err := r.Unwrap()
	if err != nil || v != 3 {
		t.Fatalf("Retry = %d, %v; want 3, nil", v, err)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	boom := errors.New("still down")
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond},
		func(context.Context) Result[int] {
			attempts++
			return Err[int](boom)
		})
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	r := Retry(ctx, RetryOpts{MaxAttempts: 5, InitialWait: time.Hour},
		func(context.Context) Result[int] {
			attempts++
			cancel()
			return Err[int](errors.New("down"))
		})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestRetryDefaultsAttempts(t *testing.T) {
	attempts := 0
	Retry(context.Background(), RetryOpts{InitialWait: time.Millisecond},
		func(context.Context) Result[int] {
			attempts++
			return Err[int](errors.New("down"))
		})
	if attempts != DefaultRetry.MaxAttempts {
		t.Fatalf("attempts = %d, want %d", attempts, DefaultRetry.MaxAttempts)
	}
}
