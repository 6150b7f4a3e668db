package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"pulse/internal/config"
)

const (
	maxOutput = 4096
	waitDelay = 2 * time.Second
)

// ExecResult is the recorded outcome of an exec action.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
}

type execAction struct {
	command string
	args    []string
	dir     string
}

func (a *execAction) Kind() string { return config.ActionExec }

// Run executes the command. Stdout is the result output; anything written to
// stderr becomes a warning even when the command succeeds.
func (a *execAction) Run(ctx context.Context, w Warner) (any, error) {
	cmd := exec.CommandContext(ctx, a.command, a.args...)
	cmd.Dir = a.dir
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ExecResult{Output: truncate(strings.TrimSpace(stdout.String()), maxOutput)}
	if s := strings.TrimSpace(stderr.String()); s != "" {
		warn(w, "stderr: "+truncate(s, maxOutput))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("exec %s: %w", a.command, ctxErr)
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			return res, fmt.Errorf("exec %s: exit status %d", a.command, res.ExitCode)
		}
		return nil, fmt.Errorf("exec %s: %w", a.command, err)
	}
	return res, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
