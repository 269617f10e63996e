// Package execrunner runs shell commands confined to the workspace, with
// a bounded timeout and truncated output capture.
package execrunner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// Result is the outcome of a Run call.
type Result struct {
	Success    bool   `json:"success"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated"`
}

// Runner executes shell commands within resolved working directories.
type Runner struct {
	WorkspaceRoot  string
	MaxTimeout     time.Duration
	MaxOutputLines int
}

// New builds a Runner.
func New(workspaceRoot string, maxTimeout time.Duration, maxOutputLines int) *Runner {
	return &Runner{WorkspaceRoot: workspaceRoot, MaxTimeout: maxTimeout, MaxOutputLines: maxOutputLines}
}

// Run executes command in a shell, rooted at cwd (already resolved by
// pathvalidate), with timeout clamped to the runner's configured maximum.
// env overrides are applied on top of HOME/PWD overlay and the inherited
// process environment.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration, cwd string, envOverrides map[string]string) (*Result, error) {
	if timeout <= 0 || timeout > r.MaxTimeout {
		timeout = r.MaxTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd

	env := os.Environ()
	env = append(env, "HOME="+r.WorkspaceRoot, "PWD="+cwd)
	for k, v := range envOverrides {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		log.Warn().Str("command", truncateForLog(command)).Dur("timeout", timeout).Msg("command timed out")
		return &Result{
			Success:    false,
			ExitCode:   -1,
			Stdout:     "",
			Stderr:     fmt.Sprintf("command timed out after %s", timeout),
			DurationMs: duration.Milliseconds(),
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(runErr, &exitErr); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execrunner: running command: %w", runErr)
		}
	}

	maxChars := r.MaxOutputLines * 100
	outStr, outTrunc := truncateOutput(stdout.String(), maxChars)
	errStr, errTrunc := truncateOutput(stderr.String(), maxChars)

	return &Result{
		Success:    exitCode == 0,
		ExitCode:   exitCode,
		Stdout:     outStr,
		Stderr:     errStr,
		DurationMs: duration.Milliseconds(),
		Truncated:  outTrunc || errTrunc,
	}, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func truncateOutput(s string, maxChars int) (string, bool) {
	if len(s) <= maxChars {
		return s, false
	}
	return s[:maxChars] + "\n... (output truncated)", true
}

func truncateForLog(command string) string {
	const max = 200
	if len(command) <= max {
		return command
	}
	return command[:max] + "..."
}
