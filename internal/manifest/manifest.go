// Package manifest loads the project manifest (f2mod.hcl).
//
// Decoding happens in two phases. Load decodes the runtime and requirement
// blocks, which configure needs before anything is probed. Module bodies
// are kept raw and decoded by Modules once the configure facts exist, so
// they can refer to dep.<name>.include, feature.<name> and similar values.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/Norgate-AV/f2mod/internal/resolve"
	"github.com/Norgate-AV/f2mod/internal/semver"
)

// DefaultFileName is the manifest looked up in the project directory
const DefaultFileName = "f2mod.hcl"

// ArrayLibrary gates every binding module, so it is always tracked
const ArrayLibrary = "numpy"

// arrayLibraryMin applies when the manifest leaves the array library out
var arrayLibraryMin = semver.MustParse("1.10.0")

// Manifest is a decoded project manifest
type Manifest struct {
	// Path of the manifest file, empty for the built-in default
	Path string

	// Dir is the base for relative paths
	Dir string

	RuntimeMinVersion *semver.Triple
	Requirements      []Requirement

	modules []*moduleBlock
}

// Requirement is a declared library dependency
type Requirement struct {
	Name       string
	MinVersion *semver.Triple
	Required   bool

	// Install is the spec handed to the installer
	Install string
}

// Resolve converts the requirement for the resolver
func (r Requirement) Resolve() resolve.Requirement {
	return resolve.Requirement{
		Name:       r.Name,
		MinVersion: r.MinVersion,
		Required:   r.Required,
	}
}

// InstallSpec returns Install, or "<name>>=<min_version>", or the bare name
func (r Requirement) InstallSpec() string {
	if r.Install != "" {
		return r.Install
	}

	if r.MinVersion != nil {
		return r.Name + ">=" + r.MinVersion.String()
	}

	return r.Name
}

// Requirement returns the requirement named name
func (m *Manifest) Requirement(name string) (Requirement, bool) {
	for _, r := range m.Requirements {
		if r.Name == name {
			return r, true
		}
	}

	return Requirement{}, false
}

// ModuleNames returns the declared module names in file order
func (m *Manifest) ModuleNames() []string {
	names := make([]string, 0, len(m.modules))
	for _, mb := range m.modules {
		names = append(names, mb.Name)
	}

	return names
}

type fileRoot struct {
	Runtime      *runtimeBlock       `hcl:"runtime,block"`
	Requirements []*requirementBlock `hcl:"requirement,block"`
	Modules      []*moduleBlock      `hcl:"module,block"`
}

type runtimeBlock struct {
	MinVersion *string `hcl:"min_version,optional"`
}

type requirementBlock struct {
	Name       string  `hcl:"name,label"`
	MinVersion *string `hcl:"min_version,optional"`
	Required   *bool   `hcl:"required,optional"`
	Install    *string `hcl:"install,optional"`
}

type moduleBlock struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// Load reads and decodes the manifest at path
func Load(path string) (*Manifest, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return Parse(src, path)
}

// Parse decodes manifest source. filename is used for diagnostics and as
// the base for relative paths.
func Parse(src []byte, filename string) (*Manifest, error) {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest path: %w", err)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filename, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", filename, diags)
	}

	m := &Manifest{
		Path:    abs,
		Dir:     filepath.Dir(abs),
		modules: root.Modules,
	}

	if root.Runtime != nil && root.Runtime.MinVersion != nil {
		v, err := semver.Parse(*root.Runtime.MinVersion)
		if err != nil {
			return nil, fmt.Errorf("runtime min_version: %w", err)
		}

		m.RuntimeMinVersion = &v
	}

	seen := make(map[string]bool)
	for _, rb := range root.Requirements {
		if seen[rb.Name] {
			return nil, fmt.Errorf("duplicate requirement %q", rb.Name)
		}
		seen[rb.Name] = true

		if rb.Name == resolve.RuntimeName {
			return nil, fmt.Errorf("requirement name %q is reserved", rb.Name)
		}

		req := Requirement{Name: rb.Name}
		if rb.MinVersion != nil {
			v, err := semver.Parse(*rb.MinVersion)
			if err != nil {
				return nil, fmt.Errorf("requirement %q min_version: %w", rb.Name, err)
			}

			req.MinVersion = &v
		}

		if rb.Required != nil {
			req.Required = *rb.Required
		}

		if rb.Install != nil {
			req.Install = *rb.Install
		}

		m.Requirements = append(m.Requirements, req)
	}

	if !seen[ArrayLibrary] {
		m.Requirements = append([]Requirement{arrayLibrary()}, m.Requirements...)
	}

	modules := make(map[string]bool)
	for _, mb := range root.Modules {
		if modules[mb.Name] {
			return nil, fmt.Errorf("duplicate module %q", mb.Name)
		}
		modules[mb.Name] = true
	}

	return m, nil
}

// Default is used when a project has no manifest: the numerical array
// library is required, the other tracked libraries are optional, and no
// modules are declared.
func Default(dir string) *Manifest {
	return &Manifest{
		Dir: dir,
		Requirements: []Requirement{
			arrayLibrary(),
			{Name: "scipy"},
			{Name: "h5py"},
			{Name: "mpi4py"},
			{Name: "configobj"},
		},
	}
}

func arrayLibrary() Requirement {
	v := arrayLibraryMin
	return Requirement{Name: ArrayLibrary, MinVersion: &v, Required: true}
}
