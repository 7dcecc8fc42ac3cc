package compiler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Norgate-AV/f2mod/internal/shell"
)

// CommandBuilder handles building and running generator commands
type CommandBuilder struct {
	generator []string
	runner    shell.Runner
	log       *zap.Logger
}

// NewCommandBuilder creates a new command builder.
// generator is the command prefix, e.g. ["python3", "-m", "numpy.f2py"].
func NewCommandBuilder(generator []string, runner shell.Runner, log *zap.Logger) *CommandBuilder {
	if log == nil {
		log = zap.NewNop()
	}

	return &CommandBuilder{
		generator: generator,
		runner:    runner,
		log:       log.Named("compiler"),
	}
}

// Generator returns the configured command prefix
func (cb *CommandBuilder) Generator() []string {
	return cb.generator
}

// BuildGenerateArgs builds the arguments that emit <module>.pyf from sources,
// overwriting any stale signature
func (cb *CommandBuilder) BuildGenerateArgs(module string, sources []string) ([]string, error) {
	if len(cb.generator) == 0 {
		return nil, fmt.Errorf("no generator command configured")
	}

	if module == "" {
		return nil, fmt.Errorf("module name is required")
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("module %s has no sources", module)
	}

	abs, err := absAll(sources)
	if err != nil {
		return nil, err
	}

	var cmdArgs []string
	cmdArgs = append(cmdArgs, cb.generator[1:]...)
	cmdArgs = append(cmdArgs, "-m", module, "-h", SignatureName(module), "--overwrite-signature")
	cmdArgs = append(cmdArgs, abs...)

	return cmdArgs, nil
}

// BuildCompileArgs builds the arguments that compile sources against the
// signature file into the loadable module
func (cb *CommandBuilder) BuildCompileArgs(signature string, sources []string, opts Options) ([]string, error) {
	if len(cb.generator) == 0 {
		return nil, fmt.Errorf("no generator command configured")
	}

	if signature == "" {
		return nil, fmt.Errorf("signature file is required")
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources to compile")
	}

	files, err := absAll(append([]string{signature}, sources...))
	if err != nil {
		return nil, err
	}

	var cmdArgs []string
	cmdArgs = append(cmdArgs, cb.generator[1:]...)
	cmdArgs = append(cmdArgs, "-c")
	cmdArgs = append(cmdArgs, files...)
	cmdArgs = append(cmdArgs, opts.Args()...)

	return cmdArgs, nil
}

// ExecuteCommand runs the generator with cmdArgs in dir
func (cb *CommandBuilder) ExecuteCommand(ctx context.Context, dir string, cmdArgs []string) error {
	if len(cb.generator) == 0 {
		return fmt.Errorf("no generator command configured")
	}

	cmd := shell.Command{
		Path: cb.generator[0],
		Args: cmdArgs,
		Dir:  dir,
	}

	res, err := cb.runner.Run(ctx, cmd)
	if err != nil {
		if code := shell.ExitCode(err); code >= 0 && res != nil {
			cb.log.Warn("generator failed",
				zap.Int("code", code),
				zap.String("stderr", strings.TrimSpace(string(res.Stderr))))
		}

		return err
	}

	return nil
}

// LogBuildInfo logs verbose build information
func (cb *CommandBuilder) LogBuildInfo(module string, sources []string, opts Options, cmdArgs []string) {
	cb.log.Debug("building module",
		zap.String("module", module),
		zap.Strings("sources", sources),
		zap.Strings("include_dirs", opts.IncludeDirs),
		zap.Strings("libraries", opts.Libraries),
		zap.String("command", cb.commandLine(cmdArgs)))
}

func (cb *CommandBuilder) commandLine(cmdArgs []string) string {
	if len(cb.generator) == 0 {
		return strings.Join(cmdArgs, " ")
	}

	return shell.Command{Path: cb.generator[0], Args: cmdArgs}.String()
}
