package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
)

// Module is a decoded module block
type Module struct {
	Name        string
	Sources     []string
	Signature   string
	IncludeDirs []string
	LibraryDirs []string
	Libraries   []string
	F90Flags    []string

	// Requires names requirements that must be found before the module builds
	Requires []string

	Enabled bool
}

type moduleBody struct {
	Sources     []string `hcl:"sources"`
	Signature   *string  `hcl:"signature,optional"`
	IncludeDirs []string `hcl:"include_dirs,optional"`
	LibraryDirs []string `hcl:"library_dirs,optional"`
	Libraries   []string `hcl:"libraries,optional"`
	F90Flags    []string `hcl:"f90flags,optional"`
	Requires    []string `hcl:"requires,optional"`
	Enabled     *bool    `hcl:"enabled,optional"`
}

// Modules decodes every module block against the configure facts
func (m *Manifest) Modules(facts Facts) ([]Module, error) {
	ctx := m.EvalContext(facts)

	var (
		out   []Module
		diags hcl.Diagnostics
	)

	for _, mb := range m.modules {
		var body moduleBody
		if d := gohcl.DecodeBody(mb.Body, ctx, &body); d.HasErrors() {
			diags = append(diags, d...)
			continue
		}

		mod, err := m.module(mb.Name, body)
		if err != nil {
			return nil, err
		}

		out = append(out, mod)
	}

	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode modules: %w", diags)
	}

	return out, nil
}

func (m *Manifest) module(name string, body moduleBody) (Module, error) {
	if len(body.Sources) == 0 {
		return Module{}, fmt.Errorf("module %q has no sources", name)
	}

	for _, req := range body.Requires {
		if _, ok := m.Requirement(req); !ok {
			return Module{}, fmt.Errorf("module %q requires undeclared requirement %q", name, req)
		}
	}

	mod := Module{
		Name:        name,
		Sources:     m.paths(body.Sources),
		IncludeDirs: m.paths(body.IncludeDirs),
		LibraryDirs: m.paths(body.LibraryDirs),
		Libraries:   body.Libraries,
		F90Flags:    body.F90Flags,
		Requires:    body.Requires,
		Enabled:     true,
	}

	if body.Signature != nil && *body.Signature != "" {
		mod.Signature = m.path(*body.Signature)
	}

	if body.Enabled != nil {
		mod.Enabled = *body.Enabled
	}

	return mod, nil
}

func (m *Manifest) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(m.Dir, p)
}

// paths resolves relative entries and drops empty ones, which appear when
// an expression such as dep.x.include refers to a missing library
func (m *Manifest) paths(ps []string) []string {
	var out []string
	for _, p := range ps {
		if p == "" {
			continue
		}

		out = append(out, m.path(p))
	}

	return out
}
