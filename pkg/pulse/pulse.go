package pulse

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	logx "pulse/pkg/logx"
)

// Pulse fires OnPulse on the grid k*Interval + Offset (Unix milliseconds) and
// never runs two cycles of the same instance at once.
//
// Hooks run without internal locks held, so callbacks may call Stop, Reset,
// State or Last. OnStart and OnStop must not call Start or Stop themselves.
type Pulse struct {
	cfg settings
	log logx.Logger

	// op serializes Start/Stop so a transition invokes its hook once.
	op sync.Mutex

	mu      sync.Mutex
	running bool
	busy    bool
	nextID  uint64
	gen     uint64 // bumped on every scheduling decision; stale timer fires compare against it
	timer   clockwork.Timer
	nextAt  time.Time
	last    any
	fatal   error
}

// New validates cfg and returns a stopped Pulse (started when cfg.AutoStart is set).
// On a validation error the returned Pulse is nil and nothing is registered.
func New(cfg Config) (*Pulse, error) {
	s, err := compile(cfg.options())
	if err != nil {
		return nil, err
	}
	return build(s), nil
}

// FromOptions is New for a loosely typed options bag.
func FromOptions(o Options) (*Pulse, error) {
	s, err := compile(o)
	if err != nil {
		return nil, err
	}
	return build(s), nil
}

func build(s settings) *Pulse {
	p := &Pulse{
		cfg: s,
		log: s.log.With(logx.String("pulse", s.name)),
	}
	register(p)
	if s.autoStart {
		p.Start(false)
	}
	return p
}

func (p *Pulse) Name() string { return p.cfg.name }

func (p *Pulse) Interval() time.Duration { return time.Duration(p.cfg.interval) * time.Millisecond }

func (p *Pulse) Offset() time.Duration { return time.Duration(p.cfg.offset) * time.Millisecond }

func (p *Pulse) NoMeta() bool { return p.cfg.noMeta }

// State reports whether the pulse is running.
func (p *Pulse) State() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Busy reports whether a cycle is in flight.
func (p *Pulse) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// NextID is the id the next cycle will get.
func (p *Pulse) NextID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextID
}

// NextAt is the time the pending timer targets, or zero if none is armed.
func (p *Pulse) NextAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextAt
}

// Last is the most recently completed cycle: its *Meta, or in NoMeta mode the
// OnPulse result (nil when that cycle failed).
func (p *Pulse) Last() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// LastMeta is Last for metadata mode; nil in NoMeta mode or before the first cycle.
func (p *Pulse) LastMeta() *Meta {
	m, _ := p.Last().(*Meta)
	return m
}

// Err is the fatal error that stopped the loop, cleared by the next Start.
func (p *Pulse) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatal
}

// Start moves Stopped to Running. It returns false if already running.
func (p *Pulse) Start(resetFirst bool) bool {
	p.op.Lock()
	defer p.op.Unlock()
	if p.State() {
		return false
	}
	if p.cfg.onStart != nil {
		p.cfg.onStart(p)
	}
	p.mu.Lock()
	if resetFirst {
		p.nextID = 0
	}
	p.running = true
	p.fatal = nil
	p.mu.Unlock()

	p.plan()
	p.log.Debug("pulse started",
		logx.Duration("interval", p.Interval()),
		logx.Duration("offset", p.Offset()),
		logx.Bool("reset", resetFirst),
	)
	return true
}

// Stop moves Running to Stopped and cancels the pending timer. A cycle
// already in flight completes but does not re-arm. It returns false if
// already stopped.
func (p *Pulse) Stop(resetAfter bool) bool {
	p.op.Lock()
	defer p.op.Unlock()
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	p.disarmLocked()
	p.running = false
	if resetAfter {
		p.nextID = 0
	}
	p.mu.Unlock()

	p.log.Debug("pulse stopped", logx.Bool("reset", resetAfter))
	if p.cfg.onStop != nil {
		p.cfg.onStop(p)
	}
	return true
}

// Reset zeroes the id counter regardless of state. Timers and a cycle in
// flight are left alone.
func (p *Pulse) Reset() bool {
	p.mu.Lock()
	p.nextID = 0
	p.mu.Unlock()
	return true
}

// Restart is Stop(reset) followed by Start(reset); it returns Start's result.
func (p *Pulse) Restart(reset bool) bool {
	p.Stop(reset)
	return p.Start(reset)
}

// delayAt is the wait from now to the next grid point k*interval + offset.
// It is recomputed from the current reading every time, so a long cycle never
// shifts the grid.
func (p *Pulse) delayAt(now time.Time) time.Duration {
	iv := p.cfg.interval
	rem := now.UnixMilli() % iv
	if rem < 0 {
		rem += iv
	}
	return time.Duration(iv-rem+p.cfg.offset) * time.Millisecond
}

func (p *Pulse) plan() {
	now := p.cfg.getNow()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.busy {
		return
	}
	p.disarmLocked()
	d := p.delayAt(now)
	gen := p.gen
	p.nextAt = now.Add(d)
	p.timer = p.cfg.clock.AfterFunc(d, func() { p.run(gen) })
	if p.log.Enabled(logx.LevelTrace) {
		p.log.Trace("pulse planned", logx.Duration("delay", d), logx.Time("at", p.nextAt))
	}
}

// disarmLocked drops the pending timer and invalidates any fire already racing. Call with p.mu held.
func (p *Pulse) disarmLocked() {
	if p.timer != nil {
		_ = p.timer.Stop()
		p.timer = nil
	}
	p.gen++
	p.nextAt = time.Time{}
}

// run is one cycle. It is the timer callback.
func (p *Pulse) run(gen uint64) {
	p.mu.Lock()
	if !p.running || p.busy || gen != p.gen {
		p.mu.Unlock()
		return
	}
	id := p.nextID
	p.nextID++
	p.busy = true
	p.timer = nil
	p.nextAt = time.Time{}
	p.mu.Unlock()

	var (
		c    Context
		meta *Meta
	)
	if p.cfg.noMeta {
		c = Seq(id)
	} else {
		meta = newMeta(id, p.cfg.getNow)
		c = meta
	}

	result, err := p.callPulse(c)
	if meta != nil {
		meta.settle(result, err)
		meta.end()
	}
	if err != nil {
		p.log.Debug("pulse callback failed", logx.Uint64("id", id), logx.Err(err))
		p.callError(c, err)
	}
	hookErr := p.callAfter(c)

	p.mu.Lock()
	if meta != nil {
		p.last = meta
	} else {
		p.last = result
	}
	p.busy = false
	if hookErr != nil {
		// Fatal: stop without the OnStop hook and do not re-arm.
		fatal := &HookError{ID: id, Err: hookErr}
		p.running = false
		p.disarmLocked()
		p.fatal = fatal
		p.mu.Unlock()
		p.raise(fatal)
		return
	}
	p.mu.Unlock()

	p.plan()
}

func (p *Pulse) callPulse(c Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return p.cfg.onPulse(p, c)
}

func (p *Pulse) callError(c Context, err error) {
	if p.cfg.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("error hook panicked", logx.Uint64("id", c.ID()), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	p.cfg.onError(p, c, err)
}

func (p *Pulse) callAfter(c Context) (err error) {
	if p.cfg.afterPulse == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return p.cfg.afterPulse(p, c)
}

// raise delivers a fatal error: always logged, then handed to OnFatal.
func (p *Pulse) raise(err error) {
	p.log.Error("pulse halted", logx.Err(err))
	if p.cfg.onFatal == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("fatal hook panicked", logx.Any("panic", r))
		}
	}()
	p.cfg.onFatal(p, err)
}
