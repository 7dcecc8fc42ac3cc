package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Norgate-AV/f2mod/internal/assemble"
	"github.com/Norgate-AV/f2mod/internal/binding"
	"github.com/Norgate-AV/f2mod/internal/cache"
	"github.com/Norgate-AV/f2mod/internal/compiler"
	"github.com/Norgate-AV/f2mod/internal/config"
	"github.com/Norgate-AV/f2mod/internal/configure"
	"github.com/Norgate-AV/f2mod/internal/install"
	"github.com/Norgate-AV/f2mod/internal/logging"
	"github.com/Norgate-AV/f2mod/internal/manifest"
	"github.com/Norgate-AV/f2mod/internal/probe"
	"github.com/Norgate-AV/f2mod/internal/resolve"
	"github.com/Norgate-AV/f2mod/internal/shell"
)

// newRunner creates the runner for external commands, replaced in tests
var newRunner = func(log *zap.Logger) shell.Runner {
	return shell.NewExecRunner(log)
}

// app holds what every command needs once configuration is loaded
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	runner shell.Runner
	out    io.Writer
	cache  *cache.Cache
}

func newApp(cmd *cobra.Command, dir string) (*app, error) {
	cfg, err := config.NewLoader().Load(cmd, dir)
	if err != nil {
		return nil, configureError(err)
	}

	log, err := logging.New(logging.Level(cfg.Verbose), cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, configureError(err)
	}

	c, err := cache.New(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	return &app{
		cfg:    cfg,
		log:    log,
		runner: newRunner(log),
		out:    cmd.OutOrStdout(),
		cache:  c,
	}, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.log.Warn("failed to close cache", zap.Error(err))
	}

	_ = a.log.Sync()
}

func (a *app) manifest() (*manifest.Manifest, error) {
	if _, err := os.Stat(a.cfg.Manifest); errors.Is(err, os.ErrNotExist) {
		a.log.Info("no manifest found, tracking the default libraries", zap.String("path", a.cfg.Manifest))
		return manifest.Default(a.cfg.ProjectDir), nil
	}

	return manifest.Load(a.cfg.Manifest)
}

func (a *app) resultFile() string {
	return filepath.Join(a.cfg.BuildDir, configure.ResultFileName)
}

// session is a configured project, ready to build
type session struct {
	manifest *manifest.Manifest
	prober   *probe.Prober
	result   *configure.Result
}

// configure resolves the runtime and every requirement. The result is
// returned with a fatal error so callers can still print the summary.
func (a *app) configure(ctx context.Context) (*session, error) {
	m, err := a.manifest()
	if err != nil {
		return nil, configureError(err)
	}

	prober := probe.New(a.cfg.Runtime, a.runner, a.log)

	resolver := resolve.New(prober,
		resolve.WithRuntimeMinVersion(m.RuntimeMinVersion),
		resolve.WithLogger(a.log),
	)

	options := []configure.Option{configure.WithLogger(a.log)}
	if !a.cfg.NoInstall {
		inst := install.New(install.Config{
			Runtime:        a.cfg.Runtime,
			Installer:      a.cfg.Installer,
			BootstrapURL:   a.cfg.BootstrapURL,
			DownloadTools:  a.cfg.DownloadTools,
			NetworkTimeout: a.cfg.NetworkTimeout,
			RetryAfter:     a.cfg.InstallRetryAfter,
			WorkDir:        a.cfg.BuildDir,
		}, a.runner, install.WithLedger(a.cache), install.WithLogger(a.log))

		options = append(options, configure.WithInstaller(inst))
	}

	c := configure.New(resolver, m, configure.Options{
		Features:   a.cfg.FeatureToggles(configure.DefaultFeatures()),
		Enable:     a.cfg.Enable,
		Disable:    a.cfg.Disable,
		NoInstall:  a.cfg.NoInstall,
		Jobs:       a.cfg.Jobs,
		ResultFile: a.resultFile(),
	}, options...)

	result, err := c.Run(ctx)
	s := &session{manifest: m, prober: prober, result: result}
	if err != nil {
		return s, configureError(err)
	}

	return s, nil
}

// modules evaluates the manifest module blocks against the configure result
func (a *app) modules(s *session) ([]manifest.Module, error) {
	mods, err := s.manifest.Modules(s.result.Facts(a.cfg.BuildDir))
	if err != nil {
		return nil, configureError(err)
	}

	return mods, nil
}

func (a *app) assembler(s *session) (*assemble.Assembler, error) {
	gen, err := compiler.GeneratorCommand(a.cfg.Generator, a.cfg.Runtime)
	if err != nil {
		return nil, configureError(err)
	}

	opts := []binding.Option{binding.WithLogger(a.log)}
	if !a.cfg.NoCache {
		opts = append(opts, binding.WithCache(a.cache))
	}

	builder := compiler.NewCommandBuilder(gen, a.runner, a.log)
	generator := binding.NewGenerator(builder, s.prober, a.cfg.BuildDir, a.cfg.OutDir, opts...)

	return assemble.New(generator, s.result, a.cfg.Jobs, a.log), nil
}

// build runs the selected modules, all declared ones when selected is empty
func (a *app) build(ctx context.Context, s *session, selected []string) (*assemble.Plan, *assemble.Report, error) {
	mods, err := a.modules(s)
	if err != nil {
		return nil, nil, err
	}

	plan, err := assemble.NewPlan(s.result, mods, selected)
	if err != nil {
		return nil, nil, buildError(err)
	}

	asm, err := a.assembler(s)
	if err != nil {
		return plan, nil, err
	}

	report, err := asm.Build(ctx, plan)
	if err != nil {
		return plan, report, buildError(err)
	}

	return plan, report, nil
}

func (a *app) printReport(plan *assemble.Plan, report *assemble.Report) {
	if plan == nil || report == nil {
		return
	}

	for _, m := range plan.Targets {
		if res, ok := report.Results[m.Name]; ok {
			fmt.Fprintf(a.out, "  %-10s %-10s %s\n", m.Name, res.Outcome, res.Output)
			continue
		}

		fmt.Fprintf(a.out, "  %-10s %-10s %v\n", m.Name, "failed", report.Errors[m.Name])
	}

	for _, s := range plan.Skipped {
		fmt.Fprintf(a.out, "  %-10s %-10s %s\n", s.Name, "skipped", s.Reason)
	}
}
