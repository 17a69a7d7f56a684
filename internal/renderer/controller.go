package renderer

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrProcessFailed wraps failures to launch the renderer.
	ErrProcessFailed = errors.New("renderer process failed")

	// ErrPauseFailed is returned when the renderer can't be suspended,
	// typically because it already exited.
	ErrPauseFailed = errors.New("pause failed: renderer is not running")

	// ErrResumeNotPaused is returned when resuming a renderer that isn't
	// paused.
	ErrResumeNotPaused = errors.New("resume failed: renderer is not paused")
)

// Controller owns the out-of-process renderer for a job. The concrete
// mechanism (container runtime, child process) sits behind this interface
// so the orchestration layer never touches lifecycle signals directly.
type Controller interface {
	// Spawn launches the renderer for the job and begins relaying its
	// output through the hooks.
	Spawn(ctx context.Context, jobID string, spec *Spec) error

	// Pause suspends the renderer without terminating it.
	Pause(ctx context.Context, jobID string) error

	// Resume reverses Pause.
	Resume(ctx context.Context, jobID string) error

	// Cancel terminates the renderer, escalating from a graceful stop to
	// a kill after a bounded grace period. It never reports failure.
	Cancel(ctx context.Context, jobID string) error

	// ForceKill terminates the renderer unconditionally, swallowing all
	// errors. Used only by force-delete.
	ForceKill(ctx context.Context, jobID string)
}

// Hooks receive the renderer's output. All callbacks are invoked from the
// controller's monitor goroutine, one at a time per job.
type Hooks struct {
	OnLog      func(jobID, line string)
	OnProgress func(jobID string, pct int)
	OnWarning  func(jobID, message string)
	OnExit     func(jobID string, exitCode int, stderrTail string)
}

// The renderer reports structured markers on stdout: "PROGRESS: <n>" for
// monotonically increasing completion percent and "WARNING: <msg>" for
// non-fatal issues. Everything else is a plain log line.

func parseProgress(line string) (int, bool) {
	rest, ok := strings.CutPrefix(line, "PROGRESS:")
	if !ok {
		return 0, false
	}
	pct, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

func parseWarning(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "WARNING:")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
