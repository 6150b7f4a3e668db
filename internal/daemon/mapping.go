package daemon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pulse/internal/action"
	"pulse/internal/config"
	"pulse/internal/notify"
	"pulse/internal/storage"
	logx "pulse/pkg/logx"
)

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

// mapStorage returns the store config; enabled is false when history is off.
func mapStorage(cfg *config.Config) (sc storage.Config, enabled bool, err error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

func mapNotify(cfg *config.Config) (notify.Config, notify.TelegramConfig, error) {
	if cfg == nil || cfg.Notify == nil || !cfg.Notify.Enabled {
		return notify.Config{}, notify.TelegramConfig{}, nil
	}
	n := cfg.Notify
	window, err := config.ParseDurationOrDefault("notify.dedup_window", n.DedupWindow, 5*time.Minute)
	if err != nil {
		return notify.Config{}, notify.TelegramConfig{}, err
	}
	return notify.Config{
			Enabled:     true,
			RatePerSec:  n.RatePerSec,
			Burst:       n.Burst,
			RetryMax:    2,
			DedupWindow: window,
		}, notify.TelegramConfig{
			Token:    n.Token,
			ChatID:   n.ChatID,
			ThreadID: n.ThreadID,
		}, nil
}

// pulsePlan is a config entry resolved into everything needed to build it.
type pulsePlan struct {
	cfg      config.PulseConfig
	schedule config.Schedule
	timeout  time.Duration
	act      action.Action
}

func planPulse(pc config.PulseConfig, log logx.Logger) (pulsePlan, error) {
	s, err := pc.Schedule()
	if err != nil {
		return pulsePlan{}, err
	}
	timeout, err := pc.RunTimeout(s)
	if err != nil {
		return pulsePlan{}, err
	}
	act, err := action.Build(pc.Action, action.Deps{
		Logger:  log.With(logx.String("pulse", pc.Name)),
		Timeout: timeout,
	})
	if err != nil {
		return pulsePlan{}, fmt.Errorf("action: %w", err)
	}
	return pulsePlan{cfg: pc, schedule: s, timeout: timeout, act: act}, nil
}

// checkPulses builds every action without starting anything. It is the
// reload validator: a config whose pulses cannot be built is never committed.
func checkPulses(cfg *config.Config) error {
	var errs []error
	for _, pc := range cfg.Pulses {
		if _, err := planPulse(pc, logx.Nop()); err != nil {
			errs = append(errs, fmt.Errorf("pulses[%s]: %w", pc.Name, err))
		}
	}
	if _, _, err := mapStorage(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapNotify(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
