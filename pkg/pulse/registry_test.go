package pulse

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/gomega"
)

// Registry tests are not parallel: StopAll reaches every live instance.

func TestStopAllStopsEveryRunningPulse(t *testing.T) {
	g := NewWithT(t)
	fc := clockwork.NewFakeClock()
	var stops atomic.Int32
	mk := func(name string) *Pulse {
		p, err := New(Config{
			Name:      name,
			OnPulse:   noop,
			Interval:  time.Second,
			Clock:     fc,
			AutoStart: true,
			OnStop:    func(*Pulse) { stops.Add(1) },
		})
		g.Expect(err).NotTo(HaveOccurred())
		return p
	}
	a, b := mk("a"), mk("b")
	idle, err := New(Config{OnPulse: noop, Interval: time.Second, Clock: fc})
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(Live()).To(BeNumerically(">=", 3))
	StopAll()

	g.Expect(a.State()).To(BeFalse())
	g.Expect(b.State()).To(BeFalse())
	g.Expect(idle.State()).To(BeFalse())
	g.Expect(stops.Load()).To(BeEquivalentTo(2))
}

func TestStopAllSurvivesPanickingHook(t *testing.T) {
	g := NewWithT(t)
	fc := clockwork.NewFakeClock()
	bad, err := New(Config{
		OnPulse:   noop,
		Interval:  time.Second,
		Clock:     fc,
		AutoStart: true,
		OnStop:    func(*Pulse) { panic("stop hook") },
	})
	g.Expect(err).NotTo(HaveOccurred())
	good, err := New(Config{OnPulse: noop, Interval: time.Second, Clock: fc, AutoStart: true})
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(StopAll).NotTo(Panic())
	g.Expect(bad.State()).To(BeFalse())
	g.Expect(good.State()).To(BeFalse())
}

func TestRegistryDoesNotKeepPulsesAlive(t *testing.T) {
	g := NewWithT(t)
	runtime.GC()
	before := Live()

	func() {
		for i := 0; i < 3; i++ {
			if _, err := New(Config{OnPulse: noop, Interval: time.Second, Clock: clockwork.NewFakeClock()}); err != nil {
				t.Fatal(err)
			}
		}
	}()

	g.Eventually(func() int {
		runtime.GC()
		return Live()
	}).WithTimeout(5 * time.Second).Should(BeNumerically("<=", before))
}

func TestFailedConstructionIsNotRegistered(t *testing.T) {
	before := Live()
	if p, err := New(Config{Interval: time.Second}); err == nil || p != nil {
		t.Fatalf("expected error, got %v %v", p, err)
	}
	if Live() > before {
		t.Fatalf("invalid config registered an instance")
	}
}
