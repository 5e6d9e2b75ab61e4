// Package checks implements the named-command Check port: each check is
// an external command run with a hard timeout and bounded output.
package checks

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Timeout is the hard wall-clock bound on a single check run.
const Timeout = 300 * time.Second

// OutputLimit is the maximum number of captured output bytes, keeping
// failure stderr over stdout when both are present.
const OutputLimit = 2000

// Result is the outcome of running one named check. Skipped marks a check
// name the port has no command for: never run, never failed, silently
// ignored by the pipeline.
type Result struct {
	Name       string
	Passed     bool
	Skipped    bool
	Details    string
	DurationMs int64
}

// Port runs a named check and reports its result.
type Port interface {
	Run(ctx context.Context, checkName string) (Result, error)
}

// Command is a single named, executable check.
type Command struct {
	Name string
	Path string
	Args []string
	Dir  string
}

// Subprocess runs checks as external commands via os/exec, matching the
// subprocess-driver pattern used elsewhere for external tool invocation.
type Subprocess struct {
	commands map[string]Command
}

// NewSubprocess builds a Subprocess port from a name->Command registry.
func NewSubprocess(commands map[string]Command) *Subprocess {
	reg := make(map[string]Command, len(commands))
	for k, v := range commands {
		reg[k] = v
	}
	return &Subprocess{commands: reg}
}

// Run executes the named check, truncating captured output to OutputLimit
// bytes and returning passed=false with details="timeout" if the hard
// timeout elapses. An unregistered check name is reported as skipped
// rather than returning an error.
func (s *Subprocess) Run(ctx context.Context, checkName string) (Result, error) {
	start := time.Now()
	cmd, ok := s.commands[checkName]
	if !ok {
		return Result{Name: checkName, Skipped: true, Details: "unknown check"}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = &limitedWriter{buf: &stdout, limit: OutputLimit}
	c.Stderr = &limitedWriter{buf: &stderr, limit: OutputLimit}

	err := c.Run()
	duration := time.Since(start).Milliseconds()

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Name: checkName, Passed: false, Details: "timeout", DurationMs: duration}, nil
	}
	if err != nil {
		details := strings.TrimSpace(stderr.String())
		if details == "" {
			details = err.Error()
		}
		return Result{Name: checkName, Passed: false, Details: details, DurationMs: duration}, nil
	}
	return Result{Name: checkName, Passed: true, Details: strings.TrimSpace(stdout.String()), DurationMs: duration}, nil
}

// limitedWriter caps the number of bytes retained, discarding the rest
// without erroring the underlying command.
type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	n := len(p)
	if n > remaining {
		n = remaining
	}
	_, _ = io.CopyN(w.buf, bytes.NewReader(p[:n]), int64(n))
	return len(p), nil
}
