// Package compiler builds the binding generator (numpy.f2py) command lines.
package compiler

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultGeneratorModule is the module run by the runtime when no explicit
// generator command is configured
const DefaultGeneratorModule = "numpy.f2py"

// SignatureExt is the extension of generated signature files
const SignatureExt = ".pyf"

// Options are the per-module compile options
type Options struct {
	IncludeDirs []string
	LibraryDirs []string
	Libraries   []string
	F90Flags    []string
}

// Args renders the options as generator arguments
func (o Options) Args() []string {
	var args []string

	for _, dir := range o.IncludeDirs {
		if dir != "" {
			args = append(args, "-I"+dir)
		}
	}

	for _, dir := range o.LibraryDirs {
		if dir != "" {
			args = append(args, "-L"+dir)
		}
	}

	for _, lib := range o.Libraries {
		if lib != "" {
			args = append(args, "-l"+lib)
		}
	}

	if len(o.F90Flags) > 0 {
		args = append(args, "--f90flags="+strings.Join(o.F90Flags, " "))
	}

	return args
}

// GeneratorCommand splits a configured generator command line into the
// executable and its leading arguments. An empty line selects
// "<runtime> -m numpy.f2py".
func GeneratorCommand(line, runtime string) ([]string, error) {
	fields := strings.Fields(line)
	if len(fields) > 0 {
		return fields, nil
	}

	if runtime == "" {
		return nil, fmt.Errorf("no generator configured and no runtime to run %s with", DefaultGeneratorModule)
	}

	return []string{runtime, "-m", DefaultGeneratorModule}, nil
}

// SignatureName returns the file name of the signature generated for module
func SignatureName(module string) string {
	return module + SignatureExt
}

func absAll(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for %s: %w", p, err)
		}

		out = append(out, abs)
	}

	return out, nil
}
