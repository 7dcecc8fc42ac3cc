package binding

import (
	"github.com/Norgate-AV/f2mod/internal/compiler"
)

// State is the pipeline state of a module
type State int

const (
	// NeedsSignature means no signature file was supplied
	NeedsSignature State = iota
	// HasSignature means a signature file was supplied or generated
	HasSignature
)

func (s State) String() string {
	switch s {
	case NeedsSignature:
		return "NeedsSignature"
	case HasSignature:
		return "HasSignature"
	default:
		return "State(?)"
	}
}

// Module is one binding module to build
type Module struct {
	Name    string
	Sources []string

	// Signature is the pre-authored signature file, empty if it must be generated
	Signature string

	Options compiler.Options

	// OutputFile is <out_dir>/<Name><suffix>, filled in by the generator
	OutputFile string
}

// State returns the state the pipeline starts from for m
func (m *Module) State() State {
	if m.Signature != "" {
		return HasSignature
	}

	return NeedsSignature
}

// Inputs are the files whose change makes the output stale
func (m *Module) Inputs() []string {
	inputs := make([]string, 0, len(m.Sources)+1)
	inputs = append(inputs, m.Sources...)
	if m.Signature != "" {
		inputs = append(inputs, m.Signature)
	}

	return inputs
}
