package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pulse/pkg/pulse"
)

type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Notify  *NotifyConfig  `json:"notify,omitempty"`
	Systemd SystemdConfig  `json:"systemd"`
	Pulses  []PulseConfig  `json:"pulses"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the run history store. Nil disables history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pulsed.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifyConfig controls Telegram notifications for pulse failures.
//
// All durations are Go duration strings. Defaults:
//   - rate_per_sec: 1
//   - burst: 3
//   - dedup_window: "5m"
type NotifyConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token"`
	ChatID      int64  `json:"chat_id"`
	ThreadID    int    `json:"thread_id,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	Burst       int    `json:"burst,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
}

// SystemdConfig enables sd_notify integration (READY/STOPPING and the watchdog).
type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// PulseConfig is one scheduled pulse.
type PulseConfig struct {
	Name   string `json:"name"`
	Every  string `json:"every"`
	Offset string `json:"offset,omitempty"`
	NoMeta bool   `json:"no_meta,omitempty"`

	// AutoStart is a pointer so an omitted key defaults to true.
	AutoStart *bool `json:"auto_start,omitempty"`

	// Timeout bounds one action run. Defaults to the interval.
	Timeout string `json:"timeout,omitempty"`

	// StopAfterFailures halts the pulse after N consecutive failed runs (0 = never).
	StopAfterFailures int `json:"stop_after_failures,omitempty"`

	Action ActionConfig `json:"action"`
}

// ActionConfig selects what a pulse does on every cycle.
type ActionConfig struct {
	Kind string `json:"kind"`

	// log
	Message string `json:"message,omitempty"`
	// exec
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	// http
	URL          string `json:"url,omitempty"`
	ExpectStatus int    `json:"expect_status,omitempty"`
	// systemd
	Unit string `json:"unit,omitempty"`
	// speedtest
	ServerID string `json:"server_id,omitempty"`
}

const (
	ActionLog       = "log"
	ActionExec      = "exec"
	ActionHTTP      = "http"
	ActionSystemd   = "systemd"
	ActionSpeedtest = "speedtest"
)

func (p PulseConfig) AutoStartEnabled() bool {
	return p.AutoStart == nil || *p.AutoStart
}

// Schedule resolves Every and Offset. An explicit offset cannot be combined
// with a cron schedule, whose offset comes from the expression itself.
func (p PulseConfig) Schedule() (Schedule, error) {
	s, err := ParseSchedule(p.Every)
	if err != nil {
		return Schedule{}, err
	}
	off, err := ParseDurationField("offset", p.Offset)
	if err != nil {
		return Schedule{}, err
	}
	if off > 0 {
		if s.Source == "cron" {
			return Schedule{}, fmt.Errorf("offset cannot be combined with a cron schedule")
		}
		s.Offset = off
	}
	if s.Interval < pulse.MinInterval || s.Interval > pulse.MaxInterval {
		return Schedule{}, fmt.Errorf("interval %s outside [%s, %s]", s.Interval, pulse.MinInterval, pulse.MaxInterval)
	}
	if s.Interval%time.Millisecond != 0 || s.Offset%time.Millisecond != 0 {
		return Schedule{}, fmt.Errorf("interval and offset must be whole milliseconds")
	}
	if s.Offset >= s.Interval {
		return Schedule{}, fmt.Errorf("offset %s must be smaller than the interval %s", s.Offset, s.Interval)
	}
	return s, nil
}

// RunTimeout is the per-run deadline: the configured timeout, or the interval.
func (p PulseConfig) RunTimeout(s Schedule) (time.Duration, error) {
	return ParseDurationOrDefault("timeout", p.Timeout, s.Interval)
}

// Validate checks what can be checked without building anything: unique names,
// resolvable schedules and the fields each action kind needs.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	seen := make(map[string]struct{}, len(c.Pulses))
	for i, p := range c.Pulses {
		name := strings.TrimSpace(p.Name)
		label := fmt.Sprintf("pulses[%d]", i)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s: name required", label))
		} else {
			label = fmt.Sprintf("pulses[%s]", name)
			if _, dup := seen[name]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate name", label))
			}
			seen[name] = struct{}{}
		}
		s, err := p.Schedule()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		} else if _, err := p.RunTimeout(s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
		if p.StopAfterFailures < 0 {
			errs = append(errs, fmt.Errorf("%s: stop_after_failures must be >= 0", label))
		}
		if err := p.Action.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: action: %w", label, err))
		}
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if n := c.Notify; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" || n.ChatID == 0 {
			errs = append(errs, errors.New("notify: token and chat_id required when enabled"))
		}
		if _, err := ParseDurationField("notify.dedup_window", n.DedupWindow); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a ActionConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.Kind)) {
	case ActionLog, ActionSpeedtest:
		return nil
	case ActionExec:
		if strings.TrimSpace(a.Command) == "" {
			return errors.New("exec requires command")
		}
	case ActionHTTP:
		if strings.TrimSpace(a.URL) == "" {
			return errors.New("http requires url")
		}
		if a.ExpectStatus != 0 && (a.ExpectStatus < 100 || a.ExpectStatus > 599) {
			return fmt.Errorf("expect_status %d out of range", a.ExpectStatus)
		}
	case ActionSystemd:
		if strings.TrimSpace(a.Unit) == "" {
			return errors.New("systemd requires unit")
		}
	case "":
		return errors.New("kind required")
	default:
		return fmt.Errorf("unknown kind %q", a.Kind)
	}
	return nil
}

// Pulse returns the entry with the given name.
func (c *Config) Pulse(name string) (PulseConfig, bool) {
	if c == nil {
		return PulseConfig{}, false
	}
	for _, p := range c.Pulses {
		if p.Name == name {
			return p, true
		}
	}
	return PulseConfig{}, false
}
