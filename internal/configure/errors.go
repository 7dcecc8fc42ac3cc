package configure

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Norgate-AV/f2mod/internal/resolve"
)

// Missing describes one required dependency that could not be satisfied
type Missing struct {
	Name       string
	Constraint string
	Reason     string

	// Err is the record error, joined with the install error if one was tried
	Err error
}

// FatalError aborts configuration. It names every required dependency that
// is missing and the constraint it failed.
type FatalError struct {
	Missing []Missing
}

func (e *FatalError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		s := m.Name
		if m.Constraint != "" {
			s += " (" + m.Constraint + ")"
		}

		if m.Reason != "" {
			s += ": " + m.Reason
		}

		parts = append(parts, s)
	}

	return fmt.Sprintf("configuration failed: required dependency not satisfied: %s", strings.Join(parts, "; "))
}

func (e *FatalError) Unwrap() []error {
	errs := make([]error, 0, len(e.Missing))
	for _, m := range e.Missing {
		errs = append(errs, m.Err)
	}

	return errs
}

// Names returns the names of the missing dependencies
func (e *FatalError) Names() []string {
	names := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		names = append(names, m.Name)
	}

	return names
}

func missingFrom(rec *resolve.Record, installErr error) Missing {
	m := Missing{
		Name:   rec.Name,
		Reason: rec.Diagnostic,
		Err:    rec.Err(),
	}

	if rec.MinVersion != nil {
		m.Constraint = ">= " + rec.MinVersion.String()
	}

	if installErr != nil {
		m.Err = errors.Join(m.Err, installErr)
		if m.Reason != "" {
			m.Reason += "; "
		}
		m.Reason += installErr.Error()
	}

	return m
}
