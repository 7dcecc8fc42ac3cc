// Package shell runs external tools (the runtime, its package installer and
// the binding generator) and captures their output.
//
// All subprocess creation in f2mod goes through a Runner so tests can swap
// in a fake without touching the callers.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Command describes a single subprocess invocation
type Command struct {
	Path string
	Args []string

	// Working directory, empty for the current one
	Dir string

	// Extra environment entries appended to the inherited environment
	Env []string

	// Optional live copy of the output, in addition to the captured buffers
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs and diagnostics
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}

	return c.Path + " " + strings.Join(c.Args, " ")
}

// Result holds what a finished (or failed to start) subprocess produced
type Result struct {
	// ExitCode is -1 when the process could not be started
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Succeeded reports a zero exit status
func (r *Result) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// Runner executes commands
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExitError is returned by Run when the process exited non-zero
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	}

	return msg
}

// ExitCode extracts the exit status from an error returned by Run.
// Returns -1 when err carries no exit status.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode
	}

	return -1
}

// ExecRunner runs commands on the host with os/exec
type ExecRunner struct {
	log *zap.Logger

	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewExecRunner creates a runner backed by os/exec
func NewExecRunner(log *zap.Logger) *ExecRunner {
	if log == nil {
		log = zap.NewNop()
	}

	return &ExecRunner{
		log:         log.Named("shell"),
		execCommand: exec.CommandContext,
	}
}

// Run starts the command, waits for it and returns its captured output.
// A non-nil error is returned for start failures and non-zero exits; the
// Result is populated in both cases.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	c := r.execCommand(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = teeWriter(&stdout, cmd.Stdout)
	c.Stderr = teeWriter(&stderr, cmd.Stderr)

	r.log.Debug("running command", zap.String("cmd", cmd.String()), zap.String("dir", cmd.Dir))

	err := c.Run()
	res := &Result{
		ExitCode: 0,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.log.Debug("command exited non-zero",
				zap.String("cmd", cmd.String()),
				zap.Int("code", res.ExitCode))

			return res, &ExitError{
				Command:  cmd.Path,
				ExitCode: res.ExitCode,
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}

		res.ExitCode = -1
		r.log.Debug("command failed to start", zap.String("cmd", cmd.String()), zap.Error(err))

		return res, fmt.Errorf("failed to run %s: %w", cmd.Path, err)
	}

	return res, nil
}

func teeWriter(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}

	return io.MultiWriter(buf, w)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}

	return s
}
