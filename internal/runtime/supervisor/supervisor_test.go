package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstErrorAndPanics(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	boom := errors.New("boom")
	s.Go("fails", func(context.Context) error { return boom })
	s.Go("quiet", func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Stop(ctx)
	if !errors.Is(err, boom) || !strings.HasPrefix(err.Error(), "fails:") {
		t.Fatalf("Stop error = %v", err)
	}
	if c := s.Counters(); c.Started != 2 || c.Active != 0 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestGoPanicCancelsWhenConfigured(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("panics", func(context.Context) error { panic("bad") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after panic")
	}
	if err := s.Err(); err == nil || !strings.Contains(err.Error(), "panic: bad") {
		t.Fatalf("Err = %v", err)
	}
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		panic("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "gave up") {
		t.Fatalf("Wait error = %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
}
