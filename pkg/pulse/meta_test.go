package pulse

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMetaRuntimeIsLiveUntilEnded(t *testing.T) {
	t.Parallel()
	clk := &stepClock{now: time.UnixMilli(1_000)}
	m := newMeta(3, clk.Now)

	if m.ID() != 3 || !m.Started().Equal(time.UnixMilli(1_000)) {
		t.Fatalf("unexpected id/started: %d %v", m.ID(), m.Started())
	}
	clk.add(250 * time.Millisecond)
	if got := m.Runtime(); got != 250*time.Millisecond {
		t.Fatalf("runtime = %v, want 250ms", got)
	}
	clk.add(50 * time.Millisecond)
	if !m.end() {
		t.Fatal("first end should stamp")
	}
	clk.add(time.Second)
	if got := m.Runtime(); got != 300*time.Millisecond {
		t.Fatalf("runtime after end = %v, want 300ms", got)
	}
	if m.end() {
		t.Fatal("second end should be ignored")
	}
	if !m.Ended().Equal(time.UnixMilli(1_300)) {
		t.Fatalf("ended = %v", m.Ended())
	}
}

func TestMetaWarningsAreSnapshots(t *testing.T) {
	t.Parallel()
	clk := &stepClock{now: time.UnixMilli(0)}
	m := newMeta(0, clk.Now)

	if w := m.Warnings(); w == nil || len(w) != 0 {
		t.Fatalf("expected empty non-nil warnings, got %#v", w)
	}
	m.Warn("disk slow")
	snap := m.Warnings()
	m.Warnf("retry %d", 2)
	snap[0] = "mutated"

	got := m.Warnings()
	if len(got) != 2 || got[0] != "disk slow" || got[1] != "retry 2" {
		t.Fatalf("warnings = %#v", got)
	}
	if len(snap) != 1 {
		t.Fatalf("old snapshot grew: %#v", snap)
	}

	m.end()
	m.Warn("too late")
	if len(m.Warnings()) != 2 {
		t.Fatal("warning after end should be dropped")
	}
}

func TestMetaSettleOnce(t *testing.T) {
	t.Parallel()
	clk := &stepClock{now: time.UnixMilli(0)}

	ok := newMeta(0, clk.Now)
	if !ok.settle("done", nil) {
		t.Fatal("first settle should record")
	}
	if ok.settle(nil, errors.New("late")) {
		t.Fatal("second settle should be ignored")
	}
	if ok.Result() != "done" || ok.Err() != nil || !ok.Settled() {
		t.Fatalf("result=%v err=%v", ok.Result(), ok.Err())
	}

	bad := newMeta(1, clk.Now)
	boom := errors.New("boom")
	bad.settle("ignored", boom)
	if bad.Result() != nil || !errors.Is(bad.Err(), boom) {
		t.Fatalf("result=%v err=%v", bad.Result(), bad.Err())
	}
}

func TestMetaWarnConcurrent(t *testing.T) {
	t.Parallel()
	clk := &stepClock{now: time.UnixMilli(0)}
	m := newMeta(0, clk.Now)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Warn("w")
				_ = m.Warnings()
			}
		}()
	}
	wg.Wait()
	if n := len(m.Warnings()); n != 16*50 {
		t.Fatalf("warnings = %d, want %d", n, 16*50)
	}
}

func TestNilMetaWarnIsSafe(t *testing.T) {
	t.Parallel()
	var m *Meta
	m.Warn("ignored")
}
