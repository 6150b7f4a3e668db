// Package action implements what a configured pulse does on each cycle.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulse/internal/config"
	logx "pulse/pkg/logx"
)

// ErrUnsupported is returned by actions that cannot run on this platform.
var ErrUnsupported = errors.New("action: unsupported on this platform")

// Warner collects non-fatal problems for the current cycle. *pulse.Meta
// implements it; a nil Warner discards warnings.
type Warner interface {
	Warn(msg string)
}

// Action is one unit of work run by a pulse cycle. The returned value is
// recorded as the cycle result and must be JSON-encodable.
type Action interface {
	Kind() string
	Run(ctx context.Context, w Warner) (any, error)
}

// Deps carries what actions need from the daemon.
type Deps struct {
	Logger logx.Logger
	// Timeout is the per-run deadline the caller applies. Actions use it for
	// slowness heuristics; the deadline itself comes from ctx.
	Timeout time.Duration
}

// Build constructs the action described by cfg.
func Build(cfg config.ActionConfig, d Deps) (Action, error) {
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	switch kind := strings.ToLower(strings.TrimSpace(cfg.Kind)); kind {
	case config.ActionLog:
		return &logAction{log: d.Logger, msg: cfg.Message}, nil
	case config.ActionExec:
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, errors.New("exec: command required")
		}
		return &execAction{command: cfg.Command, args: append([]string(nil), cfg.Args...), dir: cfg.Dir}, nil
	case config.ActionHTTP:
		return newHTTPAction(cfg.URL, cfg.ExpectStatus, d.Timeout)
	case config.ActionSystemd:
		if strings.TrimSpace(cfg.Unit) == "" {
			return nil, errors.New("systemd: unit required")
		}
		return &systemdAction{unit: unitName(cfg.Unit)}, nil
	case config.ActionSpeedtest:
		return &speedtestAction{serverID: strings.TrimSpace(cfg.ServerID)}, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", cfg.Kind)
	}
}

func warn(w Warner, msg string) {
	if w != nil {
		w.Warn(msg)
	}
}

type logAction struct {
	log logx.Logger
	msg string
}

func (a *logAction) Kind() string { return config.ActionLog }

func (a *logAction) Run(ctx context.Context, _ Warner) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.log.Info(a.msg)
	return a.msg, nil
}
