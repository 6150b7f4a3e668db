package pulse

import (
	"fmt"
	"sync"
	"time"
)

// Context is what callbacks receive for a cycle: a *Meta, or a bare Seq when
// the pulse runs with NoMeta.
type Context interface {
	ID() uint64
}

// Seq is the bare cycle id handed to callbacks in NoMeta mode.
type Seq uint64

func (s Seq) ID() uint64 { return uint64(s) }

// Meta describes one execution cycle.
//
// Warnings and Runtime are computed on every call: the callback may add
// warnings, and the cycle is only stamped as ended after the callback returns.
// Once ended, a Meta no longer changes.
type Meta struct {
	id      uint64
	started time.Time
	now     NowFunc

	mu       sync.Mutex
	warnings []string
	result   any
	err      error
	settled  bool
	ended    time.Time
}

func newMeta(id uint64, now NowFunc) *Meta {
	return &Meta{id: id, started: now(), now: now}
}

func (m *Meta) ID() uint64 { return m.id }

func (m *Meta) Started() time.Time { return m.started }

// Warn records a non-fatal problem for this cycle. Warnings added after the
// cycle ended are dropped.
func (m *Meta) Warn(msg string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ended.IsZero() {
		return
	}
	m.warnings = append(m.warnings, msg)
}

func (m *Meta) Warnf(format string, args ...any) { m.Warn(fmt.Sprintf(format, args...)) }

// Warnings returns a copy of the warnings recorded so far.
func (m *Meta) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.warnings))
	copy(out, m.warnings)
	return out
}

// Runtime is ended-or-now minus started.
func (m *Meta) Runtime() time.Duration {
	m.mu.Lock()
	end := m.ended
	m.mu.Unlock()
	if end.IsZero() {
		end = m.now()
	}
	return end.Sub(m.started)
}

// Result is the OnPulse return value; nil until the callback succeeded.
func (m *Meta) Result() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// Err is the OnPulse failure; nil until the callback failed.
func (m *Meta) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Settled reports whether the callback outcome has been recorded.
func (m *Meta) Settled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled
}

// Ended is the zero time until the cycle finished its bookkeeping.
func (m *Meta) Ended() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}

// settle records exactly one of result or err. Later calls are ignored.
func (m *Meta) settle(result any, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return false
	}
	m.settled = true
	if err != nil {
		m.err = err
		return true
	}
	m.result = result
	return true
}

func (m *Meta) end() bool {
	t := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ended.IsZero() {
		return false
	}
	m.ended = t
	return true
}
