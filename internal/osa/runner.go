// Package osa runs AppleScript sources through the osascript interpreter
// and turns interpreter failures into classified errors.
package osa

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/leonletto/msgbridge/internal/types"
)

// DefaultTimeout bounds one interpreter run. Scripts that talk to
// Messages.app normally finish well under a second; anything slower is a
// hung dialog or a confirmation prompt nobody will answer.
const DefaultTimeout = 10 * time.Second

// Runner executes one AppleScript source and reports the interpreter's
// outcome. The returned result is populated even when err is non-nil so
// callers can log the raw stderr.
type Runner interface {
	Run(ctx context.Context, source string) (types.ScriptResult, error)
}

// ExecRunner runs sources through an osascript binary as a subprocess.
type ExecRunner struct {
	// Binary is the interpreter path. Empty means "osascript" from PATH.
	Binary string
	// Timeout bounds one run. Zero means DefaultTimeout.
	Timeout time.Duration
}

func (r *ExecRunner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return "osascript"
}

func (r *ExecRunner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// Run executes source with `osascript -e`. A run that outlives the timeout
// is killed and reported as a script timeout; a nonzero exit becomes a
// classified error derived from the interpreter's stderr.
func (r *ExecRunner) Run(ctx context.Context, source string) (types.ScriptResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.binary(), "-e", source)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := types.ScriptResult{
		Output: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if err == nil {
		res.OK = true
		return res, nil
	}

	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return res, types.NewError(types.KindScriptTimeout,
			"osascript did not finish within %s", r.timeout())
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if !errors.As(err, &exitErr) {
		// The interpreter never started (missing binary, exec failure).
		return res, types.NewError(types.KindScriptFailed, "run osascript: %v", err)
	}
	return res, Classify(res.Stderr)
}
