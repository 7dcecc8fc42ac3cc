package cmd

import (
	"errors"
	"fmt"
)

// Exit codes
const (
	ExitSuccess   = 0
	ExitBuild     = 1
	ExitConfigure = 2
)

// ExitError carries the process exit code for a failed command
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func configureError(err error) error {
	return &ExitError{Code: ExitConfigure, Message: "configure failed", Err: err}
}

func buildError(err error) error {
	return &ExitError{Code: ExitBuild, Message: "build failed", Err: err}
}

// ExitCode returns the exit code for err, ExitBuild when err carries none
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	return ExitBuild
}
