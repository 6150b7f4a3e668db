// Package daemon hosts the configured pulses: it builds them from the config
// file, records their runs, reports their failures and follows config reloads.
package daemon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pulse/internal/config"
	"pulse/internal/eventbus"
	"pulse/internal/notify"
	"pulse/internal/runtime/supervisor"
	"pulse/internal/storage"
	logx "pulse/pkg/logx"
	"pulse/pkg/pulse"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	notif *notify.Service
	sup   *supervisor.Supervisor

	clock clockwork.Clock
	sd    sdNotifier

	stopOnce sync.Once

	mu       sync.Mutex
	pulses   map[string]*entry
	watchdog *pulse.Pulse
	sdActive bool
}

type Option func(*options)

type options struct {
	clock  clockwork.Clock
	sender notify.Sender
	sd     sdNotifier
}

// WithClock drives every pulse from c instead of the real clock.
func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

// WithSender replaces the Telegram sender built from the notify section.
func WithSender(s notify.Sender) Option { return func(o *options) { o.sender = s } }

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{clock: clockwork.NewRealClock(), sd: systemdNotifier{}}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := checkPulses(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg.Logging))
	log = log.With(logx.String("comp", "daemon"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorage(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, tcfg, err := mapNotify(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	var notif *notify.Service
	if ncfg.Enabled {
		sender := o.sender
		if sender == nil {
			tg, err := notify.NewTelegram(tcfg)
			if err != nil {
				closeStore(store)
				return nil, err
			}
			sender = tg
		}
		notif = notify.New(ncfg, sender, log, bus, store)
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		notif:   notif,
		clock:   o.clock,
		sd:      o.sd,
		pulses:  map[string]*entry{},
	}, nil
}

// Done is closed when the daemon's run context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return fmt.Errorf("daemon already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return checkPulses(cfg)
	})

	a.notif.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	cfg := a.cfgm.Get()
	a.reconcile(cfg, nil)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := cfg
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: only the newest config is applied.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if cfg.Systemd.Notify {
		a.startSystemd()
	}

	a.log.Info("daemon started", logx.Int("pulses", len(cfg.Pulses)))
	return nil
}

// applyConfig reacts to a committed reload. Changed pulses are rebuilt,
// removed ones stopped; storage and notify changes need a restart.
func (a *App) applyConfig(old, next *config.Config) {
	sections, attrs, changed := config.SummarizeConfigChange(old, next)
	if len(sections) == 0 {
		a.log.Info("config applied (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogging(next.Logging))
		case "storage", "notify", "systemd":
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		case "pulses":
			a.reconcile(next, changed)
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// Stop halts every pulse, lets in-flight cycles record their runs and
// releases the store. Only the first call does anything.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.stopOnce.Do(func() { a.stop(ctx) })
	return nil
}

func (a *App) stop(ctx context.Context) {
	a.log.Info("stopping")
	a.sdNotify(sdStopping)

	// Running actions see their context canceled right away.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("pulses", 3*time.Second, func(c context.Context) error {
		pulse.StopAll()
		return a.waitIdle(c)
	})
	step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// waitIdle returns once no pulse has a cycle in flight.
func (a *App) waitIdle(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		busy := false
		a.mu.Lock()
		for _, e := range a.pulses {
			if e.p.Busy() {
				busy = true
				break
			}
		}
		a.mu.Unlock()
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("pulses still busy: %w", ctx.Err())
		case <-t.C:
		}
	}
}

func (a *App) runContext() context.Context {
	if a.sup == nil {
		return context.Background()
	}
	return a.sup.Context()
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}
