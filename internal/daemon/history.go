package daemon

import (
	"context"
	"errors"

	"pulse/internal/config"
	"pulse/internal/storage"
	logx "pulse/pkg/logx"
)

var ErrNoHistory = errors.New("run history is disabled (no storage configured)")

// Check loads and validates the config file without starting anything.
func Check(cfgPath string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	if err := checkPulses(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// History opens the configured store and returns up to limit recent runs of
// the named pulse, newest first.
func History(ctx context.Context, cfgPath, name string, limit int) ([]storage.RunRecord, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	sc, enabled, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrNoHistory
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.RecentRuns(ctx, name, limit)
}
