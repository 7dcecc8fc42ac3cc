package binding

import (
	"errors"
	"fmt"
)

var (
	// ErrGenerationFailed is matched by failures of the signature stage
	ErrGenerationFailed = errors.New("signature generation failed")

	// ErrCompileFailed is matched by failures of the compile stage
	ErrCompileFailed = errors.New("module compile failed")
)

// Stage names a step of the module pipeline
type Stage string

const (
	StageGenerate Stage = "generate"
	StageCompile  Stage = "compile"
)

// StageError reports which module failed and at which stage
type StageError struct {
	Module string
	Stage  Stage
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("module %s: %s stage: %s: %v", e.Module, e.Stage, e.sentinel(), e.Err)
}

// Unwrap exposes both the stage sentinel and the underlying cause
func (e *StageError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

func (e *StageError) sentinel() error {
	if e.Stage == StageGenerate {
		return ErrGenerationFailed
	}

	return ErrCompileFailed
}
