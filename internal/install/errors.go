package install

import (
	"errors"
	"fmt"
)

// ErrInstallFailed is matched by every failed install attempt
var ErrInstallFailed = errors.New("install failed")

// Stage is a state of the install state machine
type Stage string

const (
	StageCheckInstaller Stage = "check-installer"
	StageBootstrap      Stage = "bootstrap"
	StageInstall        Stage = "install"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// Error reports the stage at which installing Spec failed
type Error struct {
	Spec  string
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s at %s stage: %v", e.Spec, ErrInstallFailed, e.Stage, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrInstallFailed, e.Err}
}
