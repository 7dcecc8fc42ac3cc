// Package probe asks the target runtime for facts about itself by running
// short introspection scripts in a subprocess.
//
// The protocol is deliberately minimal: exit status 0 and one value per
// stdout line means success; anything else means "not found". No structured
// error payload is defined.
package probe

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Norgate-AV/f2mod/internal/shell"
)

// Result is the outcome of one introspection run
type Result struct {
	Succeeded bool
	Lines     []string
}

// Line returns the i-th output line, or "" when absent
func (r Result) Line(i int) string {
	if i < 0 || i >= len(r.Lines) {
		return ""
	}

	return r.Lines[i]
}

// Prober runs introspection scripts through the runtime executable
type Prober struct {
	runtime string
	runner  shell.Runner
	log     *zap.Logger
}

// New creates a prober for the given runtime executable
func New(runtime string, runner shell.Runner, log *zap.Logger) *Prober {
	if log == nil {
		log = zap.NewNop()
	}

	return &Prober{
		runtime: runtime,
		runner:  runner,
		log:     log.Named("probe"),
	}
}

// Runtime returns the runtime executable this prober invokes
func (p *Prober) Runtime() string {
	return p.runtime
}

// Run executes script with the runtime and parses its output.
// It never fails: a start failure or non-zero exit yields Succeeded=false
// and no lines, even if the script printed something before failing.
func (p *Prober) Run(ctx context.Context, script string) Result {
	res, err := p.runner.Run(ctx, shell.Command{
		Path: p.runtime,
		Args: []string{"-c", script},
	})
	if err != nil || !res.Succeeded() {
		p.log.Debug("probe failed", zap.String("runtime", p.runtime), zap.Error(err))
		return Result{Succeeded: false}
	}

	return Result{
		Succeeded: true,
		Lines:     splitLines(string(res.Stdout)),
	}
}

// ExtensionSuffix asks the runtime for the file suffix of loadable native
// modules on this host (e.g. ".cpython-311-x86_64-linux-gnu.so").
// ok is false when the runtime cannot answer.
func (p *Prober) ExtensionSuffix(ctx context.Context) (suffix string, ok bool) {
	res := p.Run(ctx, ExtSuffixScript)
	suffix = res.Line(0)
	if !res.Succeeded || suffix == "" || suffix == "None" {
		return "", false
	}

	return suffix, true
}

func splitLines(out string) []string {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}

	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}

	return lines
}
