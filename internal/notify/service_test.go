package notify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"pulse/internal/eventbus"
	"pulse/internal/storage"
	logx "pulse/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fails int
}

func (f *fakeSender) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("telegram down")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func startService(t *testing.T, cfg Config, sender Sender, bus eventbus.Bus, store storage.Store) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, sender, logx.Nop(), bus, store)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestNotifyDeliversAndDedups(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	fs := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := startService(t, Config{RatePerSec: 100, Burst: 10, DedupWindow: time.Minute}, fs, bus, nil)
	ctx := context.Background()

	g.Expect(s.Notify(ctx, Message{Key: "err:hb", Text: "hb failed", Priority: 7})).To(Succeed())
	g.Expect(s.Notify(ctx, Message{Key: "err:hb", Text: "hb failed again"})).To(Succeed())
	g.Expect(s.Notify(ctx, Message{Key: "err:hb", Text: "hb halted", Force: true})).To(Succeed())
	g.Expect(s.Notify(ctx, Message{Text: "no key"})).To(Succeed())

	g.Eventually(fs.texts).Should(Equal([]string{"⚠️ hb failed", "hb halted", "no key"}))

	var deduped int
	g.Eventually(func() int {
		for {
			select {
			case e := <-events:
				if e.Type == EventDeduped {
					deduped++
				}
			default:
				return deduped
			}
		}
	}).Should(Equal(1))
}

func TestNotifyDedupWindowExpires(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	fs := &fakeSender{}
	s := startService(t, Config{RatePerSec: 100, Burst: 10, DedupWindow: time.Minute}, fs, nil, nil)

	now := time.Unix(1_000, 0)
	var mu sync.Mutex
	s.now = func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	advance := func(d time.Duration) { mu.Lock(); now = now.Add(d); mu.Unlock() }

	ctx := context.Background()
	g.Expect(s.Notify(ctx, Message{Key: "k", Text: "one"})).To(Succeed())
	advance(30 * time.Second)
	g.Expect(s.Notify(ctx, Message{Key: "k", Text: "two"})).To(Succeed())
	advance(31 * time.Second)
	g.Expect(s.Notify(ctx, Message{Key: "k", Text: "three"})).To(Succeed())

	g.Eventually(fs.texts).Should(Equal([]string{"one", "three"}))
}

func TestNotifyDedupPersistsInStore(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	g.Expect(err).NotTo(HaveOccurred())
	defer st.Close()

	first := &fakeSender{}
	s1 := startService(t, Config{RatePerSec: 100, Burst: 10, DedupWindow: time.Hour}, first, nil, st)
	g.Expect(s1.Notify(context.Background(), Message{Key: "k", Text: "once"})).To(Succeed())
	g.Eventually(first.texts).Should(HaveLen(1))

	// A fresh service (as after a restart) sees the window through the store.
	second := &fakeSender{}
	s2 := startService(t, Config{RatePerSec: 100, Burst: 10, DedupWindow: time.Hour}, second, nil, st)
	g.Expect(s2.Notify(context.Background(), Message{Key: "k", Text: "again"})).To(Succeed())
	g.Consistently(second.texts, 100*time.Millisecond).Should(BeEmpty())
}

func TestNotifyRetriesThenFails(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	fs := &fakeSender{fails: 5}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := startService(t, Config{RatePerSec: 100, Burst: 10, RetryMax: 1, RetryBase: time.Millisecond}, fs, bus, nil)

	g.Expect(s.Notify(context.Background(), Message{Key: "x", Text: "boom"})).To(Succeed())
	g.Eventually(events).Should(Receive(WithTransform(func(e eventbus.Event) string { return e.Type }, Equal(EventFailed))))
	g.Expect(fs.texts()).To(BeEmpty())
}

func TestNotifyRateLimits(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	fs := &fakeSender{}
	s := startService(t, Config{RatePerSec: 5, Burst: 1}, fs, nil, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		g.Expect(s.Notify(context.Background(), Message{Text: "tick"})).To(Succeed())
	}
	g.Eventually(fs.texts).WithTimeout(3 * time.Second).Should(HaveLen(3))
	// Burst 1 at 5/s: the 2nd and 3rd sends wait ~200ms each.
	g.Expect(time.Since(start)).To(BeNumerically(">=", 350*time.Millisecond))
}

func TestDisabledAndStopped(t *testing.T) {
	t.Parallel()
	var nilSvc *Service
	if err := nilSvc.Notify(context.Background(), Message{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("nil service: %v", err)
	}
	off := New(Config{}, &fakeSender{}, logx.Nop(), nil, nil)
	if err := off.Notify(context.Background(), Message{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled service: %v", err)
	}
	idle := New(Config{Enabled: true}, &fakeSender{}, logx.Nop(), nil, nil)
	if err := idle.Notify(context.Background(), Message{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("unstarted service: %v", err)
	}
	nilSvc.Stop(context.Background())
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split: %q", got)
	}
	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(long, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("split on newline: %q", got)
	}
	hard := splitText(strings.Repeat("x", 25), 10)
	if len(hard) != 3 || len([]rune(hard[2])) != 5 {
		t.Fatalf("hard split: %q", hard)
	}
}

func TestNewTelegramValidates(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegram(TelegramConfig{ChatID: 1}); err == nil {
		t.Fatal("missing token must fail")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "t"}); err == nil {
		t.Fatal("missing chat must fail")
	}
}
