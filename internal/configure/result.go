package configure

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Norgate-AV/f2mod/internal/manifest"
	"github.com/Norgate-AV/f2mod/internal/resolve"
)

// ResultFileName is written into the build directory after configure
const ResultFileName = "f2mod-configure.yaml"

// Result is the outcome of one configure run
type Result struct {
	RunID     string          `yaml:"run_id"`
	Timestamp time.Time       `yaml:"timestamp"`
	Runtime   *resolve.Record `yaml:"runtime"`

	// Records are the dependency records in manifest order
	Records []*resolve.Record `yaml:"dependencies"`

	Features  map[string]bool `yaml:"features"`
	Installed []string        `yaml:"installed,omitempty"`
	Warnings  []string        `yaml:"warnings,omitempty"`
}

// Record returns the dependency record named name
func (r *Result) Record(name string) (*resolve.Record, bool) {
	if name == resolve.RuntimeName && r.Runtime != nil {
		return r.Runtime, true
	}

	for _, rec := range r.Records {
		if rec.Name == name {
			return rec, true
		}
	}

	return nil, false
}

// Found reports whether the named dependency (or the runtime) was found
func (r *Result) Found(name string) bool {
	rec, ok := r.Record(name)
	return ok && rec.Found
}

// Facts exposes the result to manifest module expressions
func (r *Result) Facts(buildDir string) manifest.Facts {
	return manifest.Facts{
		Runtime:  r.Runtime,
		Deps:     r.Records,
		Features: r.Features,
		BuildDir: buildDir,
	}
}

// WriteFile stores the result as YAML
func (r *Result) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode configure result: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configure result: %w", err)
	}

	return nil
}

// ReadFile loads a result written by WriteFile
func ReadFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open configure result: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var r Result
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode configure result: %w", err)
	}

	return &r, nil
}

// Summary renders the result for humans. The output depends only on the
// records, features and warnings, never on the run id or time.
func (r *Result) Summary() string {
	var b strings.Builder

	b.WriteString("Dependencies:\n")

	records := r.Records
	if r.Runtime != nil {
		records = append([]*resolve.Record{r.Runtime}, records...)
	}

	for _, rec := range records {
		line := fmt.Sprintf("  %-10s %-8s %-8s %s", rec.Name, status(rec), rec.VersionString(), details(rec))
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteString("\n")
	}

	if len(r.Features) > 0 {
		b.WriteString("\nFeatures:\n")

		names := make([]string, 0, len(r.Features))
		for name := range r.Features {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			state := "off"
			if r.Features[name] {
				state = "on"
			}

			fmt.Fprintf(&b, "  %-14s %s\n", name, state)
		}
	}

	if len(r.Installed) > 0 {
		b.WriteString("\nInstalled:\n")
		for _, spec := range r.Installed {
			fmt.Fprintf(&b, "  %s\n", spec)
		}
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}

	return b.String()
}

func status(rec *resolve.Record) string {
	switch {
	case rec.Found:
		return "found"
	case rec.Present && !rec.VersionSatisfied:
		return "too-old"
	default:
		return "missing"
	}
}

func details(rec *resolve.Record) string {
	var parts []string

	if rec.MinVersion != nil {
		parts = append(parts, ">= "+rec.MinVersion.String())
	}

	if rec.Required {
		parts = append(parts, "required")
	}

	if rec.Found && rec.IncludePath != "" {
		parts = append(parts, rec.IncludePath)
	}

	if !rec.Found && rec.Diagnostic != "" {
		parts = append(parts, "("+rec.Diagnostic+")")
	}

	return strings.Join(parts, "  ")
}
