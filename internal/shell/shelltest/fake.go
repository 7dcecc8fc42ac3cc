// Package shelltest provides a scripted shell.Runner for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/Norgate-AV/f2mod/internal/shell"
)

// Handler decides the outcome of one command
type Handler func(cmd shell.Command) (*shell.Result, error)

// FakeRunner records every command and answers with Handler
type FakeRunner struct {
	mu      sync.Mutex
	calls   []shell.Command
	Handler Handler
}

// New creates a fake runner answering with h
func New(h Handler) *FakeRunner {
	return &FakeRunner{Handler: h}
}

func (f *FakeRunner) Run(ctx context.Context, cmd shell.Command) (*shell.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &shell.Result{ExitCode: -1}, err
	}

	if f.Handler == nil {
		return &shell.Result{}, nil
	}

	return f.Handler(cmd)
}

// Calls returns a copy of the recorded commands in order
func (f *FakeRunner) Calls() []shell.Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]shell.Command, len(f.calls))
	copy(out, f.calls)

	return out
}

// Count returns how many recorded commands contain all fragments in their
// rendered command line
func (f *FakeRunner) Count(fragments ...string) int {
	n := 0
	for _, c := range f.Calls() {
		if Matches(c, fragments...) {
			n++
		}
	}

	return n
}

// Matches reports whether the rendered command line contains every fragment
func Matches(cmd shell.Command, fragments ...string) bool {
	line := cmd.String()
	for _, frag := range fragments {
		if !strings.Contains(line, frag) {
			return false
		}
	}

	return true
}

// OK answers with exit status 0 and the given stdout lines
func OK(lines ...string) (*shell.Result, error) {
	out := ""
	if len(lines) > 0 {
		out = strings.Join(lines, "\n") + "\n"
	}

	return &shell.Result{Stdout: []byte(out)}, nil
}

// Fail answers with a non-zero exit status and optional partial stdout
func Fail(code int, partial string) (*shell.Result, error) {
	return &shell.Result{ExitCode: code, Stdout: []byte(partial)},
		&shell.ExitError{Command: "fake", ExitCode: code}
}

// NotFound answers as if the executable did not exist
func NotFound() (*shell.Result, error) {
	return &shell.Result{ExitCode: -1}, &shell.ExitError{Command: "fake", ExitCode: -1}
}
