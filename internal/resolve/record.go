package resolve

import (
	"errors"
	"fmt"

	"github.com/Norgate-AV/f2mod/internal/semver"
)

var (
	// ErrRuntimeUnavailable means the runtime itself could not be located.
	// Nothing downstream can proceed without it.
	ErrRuntimeUnavailable = errors.New("runtime unavailable")

	// ErrDependencyMissing means a library could not be imported
	ErrDependencyMissing = errors.New("dependency missing")

	// ErrVersionTooLow means a library is importable but older than required.
	// It matches ErrDependencyMissing under errors.Is.
	ErrVersionTooLow = fmt.Errorf("%w: version too low", ErrDependencyMissing)
)

// RuntimeName is the record name used for the runtime itself
const RuntimeName = "runtime"

// Requirement is a request to resolve one library
type Requirement struct {
	Name       string
	MinVersion *semver.Triple
	Required   bool
}

// Record holds the resolved facts about one library (or the runtime)
type Record struct {
	Name string `yaml:"name"`

	// Found means importable and satisfying the version constraint
	Found bool `yaml:"found"`

	// Present means the probe succeeded, whatever the version
	Present bool `yaml:"present"`

	// VersionSatisfied is false only when Present and below MinVersion
	VersionSatisfied bool `yaml:"version_satisfied"`

	Required    bool           `yaml:"required"`
	Version     *semver.Triple `yaml:"version,omitempty"`
	RawVersion  string         `yaml:"raw_version,omitempty"`
	MinVersion  *semver.Triple `yaml:"min_version,omitempty"`
	IncludePath string         `yaml:"include_path,omitempty"`
	ExtraPaths  []string       `yaml:"extra_paths,omitempty"`
	Diagnostic  string         `yaml:"diagnostic,omitempty"`
}

// Err describes why the record is not usable, or nil when Found
func (r *Record) Err() error {
	switch {
	case r.Found:
		return nil
	case r.Name == RuntimeName:
		return fmt.Errorf("%w: %s", ErrRuntimeUnavailable, r.Diagnostic)
	case r.Present && !r.VersionSatisfied:
		return fmt.Errorf("%s: %w: %s", r.Name, ErrVersionTooLow, r.Diagnostic)
	default:
		return fmt.Errorf("%s: %w: %s", r.Name, ErrDependencyMissing, r.Diagnostic)
	}
}

// VersionString renders the discovered version or "-"
func (r *Record) VersionString() string {
	if r.Version == nil {
		return "-"
	}

	return r.Version.String()
}

// withConstraint evaluates the record's probe facts against min, returning
// a new record. The receiver is not modified.
func (r *Record) withConstraint(min *semver.Triple, required bool) *Record {
	out := *r
	out.ExtraPaths = append([]string(nil), r.ExtraPaths...)
	out.MinVersion = min
	out.Required = required
	applyConstraint(&out)

	return &out
}

func applyConstraint(r *Record) {
	r.VersionSatisfied = true
	r.Found = r.Present && r.Version != nil

	if !r.Present || r.Version == nil || r.MinVersion == nil {
		return
	}

	if !r.Version.AtLeast(*r.MinVersion) {
		r.VersionSatisfied = false
		r.Found = false
		r.Diagnostic = fmt.Sprintf("found version %s, requires >= %s", r.Version, r.MinVersion)
	} else if r.Diagnostic != "" && r.Found {
		r.Diagnostic = ""
	}
}
