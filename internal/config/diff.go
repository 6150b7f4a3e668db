package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pulse/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed top-level sections,
// (2) safe structured attrs for logging (the notify token is never included),
// and (3) the names of pulses that were added, removed or modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Nil storage means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	var oN, nN NotifyConfig
	if oldCfg.Notify != nil {
		oN = *oldCfg.Notify
	}
	if newCfg.Notify != nil {
		nN = *newCfg.Notify
	}
	if !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", nN.Enabled),
			logx.Bool("notify.token_set", strings.TrimSpace(nN.Token) != ""),
			logx.Int("notify.rate_per_sec", nN.RatePerSec),
			logx.String("notify.dedup_window", strings.TrimSpace(nN.DedupWindow)),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	pulses := diffPulses(oldCfg.Pulses, newCfg.Pulses)
	if len(pulses) > 0 {
		changed = append(changed, "pulses")
		attrs = append(attrs,
			logx.Int("pulses.changed_count", len(pulses)),
			logx.Int("pulses.total", len(newCfg.Pulses)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pulses
}

func diffPulses(oldL, newL []PulseConfig) []string {
	oldM := indexPulses(oldL)
	newM := indexPulses(newL)

	set := make(map[string]struct{}, len(oldM)+len(newM))
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func indexPulses(l []PulseConfig) map[string]PulseConfig {
	m := make(map[string]PulseConfig, len(l))
	for _, p := range l {
		m[strings.TrimSpace(p.Name)] = p
	}
	return m
}
