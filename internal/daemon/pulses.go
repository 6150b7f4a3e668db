package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pulse/internal/action"
	"pulse/internal/config"
	"pulse/internal/eventbus"
	"pulse/internal/notify"
	"pulse/internal/storage"
	logx "pulse/pkg/logx"
	"pulse/pkg/pulse"
)

const persistTimeout = 2 * time.Second

// entry is one configured pulse and the bookkeeping its hooks share. Cycles
// of one pulse never overlap, so cur is only contended by Snapshot.
type entry struct {
	plan pulsePlan
	p    *pulse.Pulse
	log  logx.Logger

	mu       sync.Mutex
	cur      cycle
	failures int
	lastErr  string
}

type cycle struct {
	started time.Time
	ended   time.Time
	result  any
	err     error
}

// reconcile builds the pulses of cfg. With names == nil every pulse is
// (re)built; otherwise only the named ones are replaced or removed.
func (a *App) reconcile(cfg *config.Config, names []string) {
	want := make(map[string]config.PulseConfig, len(cfg.Pulses))
	for _, pc := range cfg.Pulses {
		want[pc.Name] = pc
	}
	if names == nil {
		names = make([]string, 0, len(want))
		for n := range want {
			names = append(names, n)
		}
		sort.Strings(names)
	}

	for _, name := range names {
		a.mu.Lock()
		old := a.pulses[name]
		delete(a.pulses, name)
		a.mu.Unlock()
		if old != nil {
			old.p.Stop(false)
			a.log.Info("pulse removed", logx.String("pulse", name))
		}

		pc, ok := want[name]
		if !ok {
			continue
		}
		e, err := a.buildPulse(pc)
		if err != nil {
			a.log.Error("pulse build failed", logx.String("pulse", name), logx.Err(err))
			continue
		}
		a.mu.Lock()
		a.pulses[name] = e
		a.mu.Unlock()
	}
}

func (a *App) buildPulse(pc config.PulseConfig) (*entry, error) {
	log := a.log.With(logx.String("pulse", pc.Name))
	plan, err := planPulse(pc, a.log)
	if err != nil {
		return nil, err
	}
	e := &entry{plan: plan, log: log}
	p, err := pulse.New(pulse.Config{
		Name:       pc.Name,
		Interval:   plan.schedule.Interval,
		Offset:     plan.schedule.Offset,
		NoMeta:     pc.NoMeta,
		AutoStart:  pc.AutoStartEnabled(),
		Clock:      a.clock,
		Logger:     log,
		OnPulse:    a.onPulse(e),
		OnError:    a.onError(e),
		AfterPulse: a.afterPulse(e),
		OnStart:    a.onStart(e),
		OnStop:     a.onStop,
		OnFatal:    a.onFatal(e),
	})
	if err != nil {
		return nil, err
	}
	e.p = p
	return e, nil
}

func (a *App) onPulse(e *entry) pulse.PulseFunc {
	return func(_ *pulse.Pulse, c pulse.Context) (any, error) {
		var w action.Warner
		if m, ok := c.(*pulse.Meta); ok {
			w = m
		}
		started := a.clock.Now()
		e.mu.Lock()
		e.cur = cycle{started: started}
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(a.runContext(), e.plan.timeout)
		defer cancel()
		res, err := e.plan.act.Run(ctx, w)

		e.mu.Lock()
		e.cur.ended = a.clock.Now()
		e.cur.result, e.cur.err = res, err
		e.mu.Unlock()
		return res, err
	}
}

// onError sees every failed cycle, including panics that bypassed onPulse's
// bookkeeping. Repeats are throttled by the notifier's dedup window.
func (a *App) onError(e *entry) pulse.ErrorFunc {
	return func(p *pulse.Pulse, c pulse.Context, err error) {
		e.mu.Lock()
		e.cur.err = err
		if e.cur.ended.IsZero() {
			e.cur.ended = a.clock.Now()
		}
		e.mu.Unlock()

		e.log.Warn("pulse cycle failed", logx.Uint64("id", c.ID()), logx.Err(err))
		a.publish(eventbus.PulseError, p.Name(), c.ID(), 0, err)
		if a.runContext().Err() != nil {
			// Shutting down: the failure is the canceled run context.
			return
		}
		a.notify(notify.Message{
			Key:      "pulse.error:" + p.Name(),
			Text:     fmt.Sprintf("pulse %s failed (cycle %d): %v", p.Name(), c.ID(), err),
			Priority: 7,
		})
	}
}

func (a *App) afterPulse(e *entry) pulse.HookFunc {
	return func(p *pulse.Pulse, c pulse.Context) error {
		rec := e.record(c)
		a.persist(rec)
		var runErr error
		if rec.Error != "" {
			runErr = errors.New(rec.Error)
		}
		a.publish(eventbus.PulseCompleted, p.Name(), rec.ID, time.Duration(rec.RuntimeMS)*time.Millisecond, runErr)

		e.mu.Lock()
		if rec.OK() {
			e.failures = 0
		} else {
			e.failures++
			e.lastErr = rec.Error
		}
		n := e.failures
		e.mu.Unlock()

		if limit := e.plan.cfg.StopAfterFailures; limit > 0 && n >= limit {
			return fmt.Errorf("%d consecutive failures, last: %s", n, rec.Error)
		}
		return nil
	}
}

// onStart clears the failure streak so a pulse restarted after a fatal stop
// gets its full allowance again.
func (a *App) onStart(e *entry) pulse.LifecycleFunc {
	return func(p *pulse.Pulse) {
		e.mu.Lock()
		e.failures = 0
		e.mu.Unlock()
		a.log.Info("pulse started", logx.String("pulse", p.Name()), logx.Duration("interval", p.Interval()), logx.Duration("offset", p.Offset()))
		a.publish(eventbus.PulseStarted, p.Name(), p.NextID(), 0, nil)
	}
}

func (a *App) onStop(p *pulse.Pulse) {
	a.log.Info("pulse stopped", logx.String("pulse", p.Name()))
	a.publish(eventbus.PulseStopped, p.Name(), p.NextID(), 0, nil)
}

func (a *App) onFatal(e *entry) pulse.FatalFunc {
	return func(p *pulse.Pulse, err error) {
		e.log.Debug("pulse fatal", logx.Int("failures", e.failuresNow()))
		a.publish(eventbus.PulseFatal, p.Name(), p.NextID(), 0, err)
		a.notify(notify.Message{
			Key:      "pulse.fatal:" + p.Name(),
			Text:     fmt.Sprintf("pulse %s halted: %v", p.Name(), err),
			Priority: 9,
			Force:    true,
		})
	}
}

func (e *entry) failuresNow() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// record turns the finished cycle into a history row. Meta mode supplies
// timing and warnings; NoMeta falls back to the onPulse bookkeeping.
func (e *entry) record(c pulse.Context) storage.RunRecord {
	e.mu.Lock()
	cur := e.cur
	e.mu.Unlock()

	rec := storage.RunRecord{Pulse: e.plan.cfg.Name, ID: c.ID(), Started: cur.started, Ended: cur.ended}
	if m, ok := c.(*pulse.Meta); ok {
		rec.Started, rec.Ended = m.Started(), m.Ended()
		rec.Warnings = m.Warnings()
		cur.result, cur.err = m.Result(), m.Err()
	}
	if !rec.Started.IsZero() && !rec.Ended.IsZero() {
		rec.RuntimeMS = rec.Ended.Sub(rec.Started).Milliseconds()
	}
	if cur.err != nil {
		rec.Error = cur.err.Error()
	}
	if cur.result != nil {
		b, err := json.Marshal(cur.result)
		if err != nil {
			rec.Warnings = append(rec.Warnings, "result not recorded: "+err.Error())
		} else {
			rec.Result = string(b)
		}
	}
	return rec
}

func (a *App) persist(rec storage.RunRecord) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.store.AppendRun(ctx, rec); err != nil {
		a.log.Warn("run not recorded", logx.String("pulse", rec.Pulse), logx.Uint64("id", rec.ID), logx.Err(err))
	}
}

func (a *App) publish(typ, name string, id uint64, runtime time.Duration, err error) {
	d := eventbus.PulseData{Pulse: name, ID: id, Runtime: runtime}
	if err != nil {
		d.Err = err.Error()
	}
	a.bus.Publish(eventbus.Event{Type: typ, Time: a.clock.Now(), Data: d})
}

func (a *App) notify(m notify.Message) {
	if !a.notif.Enabled() {
		return
	}
	if err := a.notif.Notify(context.Background(), m); err != nil && !errors.Is(err, notify.ErrStopped) {
		a.log.Warn("notify failed", logx.String("key", m.Key), logx.Err(err))
	}
}

// PulseStatus is the observable state of one configured pulse.
type PulseStatus struct {
	Name      string        `json:"name"`
	Action    string        `json:"action"`
	Interval  time.Duration `json:"interval"`
	Offset    time.Duration `json:"offset"`
	Running   bool          `json:"running"`
	Busy      bool          `json:"busy"`
	NextID    uint64        `json:"next_id"`
	NextAt    time.Time     `json:"next_at,omitzero"`
	Failures  int           `json:"failures"`
	LastError string        `json:"last_error,omitempty"`
	Fatal     string        `json:"fatal,omitempty"`
}

// Snapshot is a point-in-time view of the daemon.
type Snapshot struct {
	Pulses        []PulseStatus `json:"pulses"`
	Notify        bool          `json:"notify"`
	History       bool          `json:"history"`
	EventsDropped uint64        `json:"events_dropped"`
}

func (a *App) Snapshot() Snapshot {
	a.mu.Lock()
	entries := make([]*entry, 0, len(a.pulses))
	for _, e := range a.pulses {
		entries = append(entries, e)
	}
	a.mu.Unlock()

	out := Snapshot{
		Pulses:        make([]PulseStatus, 0, len(entries)),
		Notify:        a.notif.Enabled(),
		History:       a.store != nil,
		EventsDropped: eventbus.Dropped(a.bus),
	}
	for _, e := range entries {
		st := PulseStatus{
			Name:     e.p.Name(),
			Action:   e.plan.act.Kind(),
			Interval: e.p.Interval(),
			Offset:   e.p.Offset(),
			Running:  e.p.State(),
			Busy:     e.p.Busy(),
			NextID:   e.p.NextID(),
			NextAt:   e.p.NextAt(),
		}
		e.mu.Lock()
		st.Failures = e.failures
		st.LastError = e.lastErr
		e.mu.Unlock()
		if err := e.p.Err(); err != nil {
			st.Fatal = err.Error()
		}
		out.Pulses = append(out.Pulses, st)
	}
	sort.Slice(out.Pulses, func(i, j int) bool { return out.Pulses[i].Name < out.Pulses[j].Name })
	return out
}
