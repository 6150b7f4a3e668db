package daemon

import (
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"

	logx "pulse/pkg/logx"
	"pulse/pkg/pulse"
)

const (
	sdReady    = sddaemon.SdNotifyReady
	sdStopping = sddaemon.SdNotifyStopping
	sdWatchdog = sddaemon.SdNotifyWatchdog
)

// sdNotifier is the sd_notify surface the daemon uses.
type sdNotifier interface {
	Notify(state string) (bool, error)
	WatchdogInterval() (time.Duration, error)
}

type systemdNotifier struct{}

func (systemdNotifier) Notify(state string) (bool, error) { return sddaemon.SdNotify(false, state) }

func (systemdNotifier) WatchdogInterval() (time.Duration, error) {
	return sddaemon.SdWatchdogEnabled(false)
}

// startSystemd reports READY and, when the unit has WatchdogSec set, pings
// the watchdog from a pulse at half the watchdog interval.
func (a *App) startSystemd() {
	a.mu.Lock()
	a.sdActive = true
	a.mu.Unlock()
	a.sdNotify(sdReady)

	wd, err := a.sd.WatchdogInterval()
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if wd <= 0 {
		return
	}
	iv := (wd / 2).Truncate(time.Millisecond)
	iv = min(max(iv, pulse.MinInterval), pulse.MaxInterval)
	p, err := pulse.New(pulse.Config{
		Name:      "systemd.watchdog",
		Interval:  iv,
		NoMeta:    true,
		AutoStart: true,
		Clock:     a.clock,
		Logger:    a.log.With(logx.String("pulse", "systemd.watchdog")),
		OnPulse: func(*pulse.Pulse, pulse.Context) (any, error) {
			return a.sd.Notify(sdWatchdog)
		},
	})
	if err != nil {
		a.log.Warn("systemd watchdog disabled", logx.Err(err))
		return
	}
	a.mu.Lock()
	a.watchdog = p
	a.mu.Unlock()
	a.log.Info("systemd watchdog enabled", logx.Duration("every", iv))
}

func (a *App) sdNotify(state string) {
	a.mu.Lock()
	active := a.sdActive
	a.mu.Unlock()
	if !active {
		return
	}
	if _, err := a.sd.Notify(state); err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}
