package pulse

import (
	"runtime"
	"runtime/debug"
	"sync"
	"weak"

	logx "pulse/pkg/logx"
)

// registry tracks every constructed Pulse for StopAll without keeping any of
// them alive: entries are weak and removed once their Pulse is collected.
var registry = struct {
	mu    sync.Mutex
	items map[weak.Pointer[Pulse]]struct{}
}{items: map[weak.Pointer[Pulse]]struct{}{}}

func register(p *Pulse) {
	wp := weak.Make(p)
	registry.mu.Lock()
	registry.items[wp] = struct{}{}
	registry.mu.Unlock()
	runtime.AddCleanup(p, unregister, wp)
}

func unregister(wp weak.Pointer[Pulse]) {
	registry.mu.Lock()
	delete(registry.items, wp)
	registry.mu.Unlock()
}

func live() []*Pulse {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	out := make([]*Pulse, 0, len(registry.items))
	for wp := range registry.items {
		if p := wp.Value(); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Live returns the number of registered instances that are still reachable.
func Live() int { return len(live()) }

// StopAll stops every registered instance. A panicking OnStop hook is logged
// and does not keep the remaining instances running.
func StopAll() {
	for _, p := range live() {
		stopQuietly(p)
	}
}

func stopQuietly(p *Pulse) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("stop hook panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	p.Stop(false)
}
