// Package assemble turns the configure result and the manifest modules into
// build targets and runs them on the graph executor.
//
// Every module target depends on the runtime, the numerical array library
// and the requirements it lists. A module whose gate is closed is not
// declared at all; a module whose build fails only takes down itself.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/Norgate-AV/f2mod/internal/binding"
	"github.com/Norgate-AV/f2mod/internal/compiler"
	"github.com/Norgate-AV/f2mod/internal/configure"
	"github.com/Norgate-AV/f2mod/internal/graph"
	"github.com/Norgate-AV/f2mod/internal/manifest"
	"github.com/Norgate-AV/f2mod/internal/resolve"
)

// ArrayLibrary must be found before any module can be declared
const ArrayLibrary = manifest.ArrayLibrary

// ErrNotBuildable means the runtime or the array library is missing
var ErrNotBuildable = errors.New("binding modules cannot be built")

// Builder builds one binding module
type Builder interface {
	Build(ctx context.Context, m binding.Module) (*binding.Result, error)
}

// Skip is a module left out of the plan
type Skip struct {
	Name   string
	Reason string
}

// Plan is the set of declared module targets
type Plan struct {
	Targets []manifest.Module
	Skipped []Skip
}

// NewPlan gates mods on the configure result. selected, when not empty,
// limits the plan to the named modules.
func NewPlan(result *configure.Result, mods []manifest.Module, selected []string) (*Plan, error) {
	for _, name := range []string{resolve.RuntimeName, ArrayLibrary} {
		if !result.Found(name) {
			return nil, fmt.Errorf("%w: %s not found", ErrNotBuildable, name)
		}
	}

	known := make(map[string]bool, len(mods))
	for _, m := range mods {
		known[m.Name] = true
	}

	for _, name := range selected {
		if !known[name] {
			return nil, fmt.Errorf("unknown module %q", name)
		}
	}

	plan := &Plan{}
	for _, m := range mods {
		if len(selected) > 0 && !slices.Contains(selected, m.Name) {
			continue
		}

		if !m.Enabled {
			plan.Skipped = append(plan.Skipped, Skip{Name: m.Name, Reason: "disabled"})
			continue
		}

		if missing := missingRequires(result, m); missing != "" {
			plan.Skipped = append(plan.Skipped, Skip{Name: m.Name, Reason: fmt.Sprintf("requires %s, which was not found", missing)})
			continue
		}

		plan.Targets = append(plan.Targets, m)
	}

	return plan, nil
}

func missingRequires(result *configure.Result, m manifest.Module) string {
	for _, req := range m.Requires {
		if !result.Found(req) {
			return req
		}
	}

	return ""
}

// Report is the outcome of Build
type Report struct {
	Results map[string]*binding.Result

	// Errors holds the failure of each failed module
	Errors map[string]error

	mu sync.Mutex
}

// Err joins the module failures in plan order
func (r *Report) Err(plan *Plan) error {
	var errs []error
	for _, m := range plan.Targets {
		if err, ok := r.Errors[m.Name]; ok {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Assembler runs a plan
type Assembler struct {
	builder Builder
	result  *configure.Result
	jobs    int
	log     *zap.Logger
}

// New creates an assembler
func New(builder Builder, result *configure.Result, jobs int, log *zap.Logger) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}

	return &Assembler{
		builder: builder,
		result:  result,
		jobs:    jobs,
		log:     log.Named("assemble"),
	}
}

// Graph declares the gate nodes and one node per target, with
// runtime,dep:numpy,dep:<requires> -> module:<name> edges
func (a *Assembler) Graph(plan *Plan, report *Report) (*graph.Graph, error) {
	g := graph.New()

	gate := func(name, id string) error {
		if g.Has(id) {
			return nil
		}

		return g.AddNode(id, func(ctx context.Context) error {
			rec, ok := a.result.Record(name)
			if !ok || !rec.Found {
				return fmt.Errorf("%w: %s not found", ErrNotBuildable, name)
			}

			return nil
		})
	}

	if err := gate(resolve.RuntimeName, resolve.RuntimeName); err != nil {
		return nil, err
	}

	for _, m := range plan.Targets {
		id := "module:" + m.Name
		if err := g.AddNode(id, a.buildTask(m, report)); err != nil {
			return nil, err
		}

		deps := append([]string{ArrayLibrary}, m.Requires...)
		if err := g.AddEdge(resolve.RuntimeName, id); err != nil {
			return nil, err
		}

		for _, dep := range deps {
			depID := "dep:" + dep
			if err := gate(dep, depID); err != nil {
				return nil, err
			}

			if err := g.AddEdge(resolve.RuntimeName, depID); err != nil {
				return nil, err
			}

			if err := g.AddEdge(depID, id); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

func (a *Assembler) buildTask(m manifest.Module, report *Report) graph.Task {
	mod := binding.Module{
		Name:      m.Name,
		Sources:   m.Sources,
		Signature: m.Signature,
		Options: compiler.Options{
			IncludeDirs: m.IncludeDirs,
			LibraryDirs: m.LibraryDirs,
			Libraries:   m.Libraries,
			F90Flags:    m.F90Flags,
		},
	}

	return func(ctx context.Context) error {
		res, err := a.builder.Build(ctx, mod)
		if err != nil {
			return err
		}

		report.mu.Lock()
		report.Results[m.Name] = res
		report.mu.Unlock()

		return nil
	}
}

// Build runs every target of plan. The error is non-nil when a module
// failed or the run was interrupted; the Report is always returned.
func (a *Assembler) Build(ctx context.Context, plan *Plan) (*Report, error) {
	report := &Report{
		Results: make(map[string]*binding.Result),
		Errors:  make(map[string]error),
	}

	g, err := a.Graph(plan, report)
	if err != nil {
		return report, err
	}

	for _, s := range plan.Skipped {
		a.log.Info("module not declared", zap.String("module", s.Name), zap.String("reason", s.Reason))
	}

	out, err := graph.NewExecutor(g, a.jobs, a.log).Run(ctx)
	if out != nil {
		for _, m := range plan.Targets {
			o := out.Outcomes["module:"+m.Name]
			if o.State == graph.Failed || o.State == graph.Skipped {
				report.Errors[m.Name] = o.Err
				a.log.Error("module failed", zap.String("module", m.Name), zap.Error(o.Err))
			}
		}
	}

	if err != nil {
		return report, err
	}

	return report, report.Err(plan)
}
