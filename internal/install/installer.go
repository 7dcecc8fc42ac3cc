// Package install is the best-effort fallback that installs a missing
// library through the runtime's package installer.
//
// Each attempt walks an explicit state machine:
//
//	CheckInstaller -> (Bootstrap ->) Install -> Done | Failed
//
// The installer is first looked up as "<runtime> -m pip", then as a bare
// "pip" on PATH. Only when both fail is the bootstrap script downloaded and
// run. Outcomes are memoized per spec within a run and recorded in a ledger
// across runs.
package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Norgate-AV/f2mod/internal/cache"
	"github.com/Norgate-AV/f2mod/internal/codes"
	"github.com/Norgate-AV/f2mod/internal/probe"
	"github.com/Norgate-AV/f2mod/internal/shell"
)

const (
	DefaultInstaller    = "pip"
	DefaultBootstrapURL = "https://bootstrap.pypa.io/get-pip.py"
	BootstrapScriptName = "get-pip.py"
)

// Ledger persists install outcomes across runs. *cache.Cache implements it.
type Ledger interface {
	RecordInstall(rec cache.InstallRecord) error
	LastInstall(spec string) (*cache.InstallRecord, error)
}

// Config holds installer settings
type Config struct {
	Runtime       string
	Installer     string
	BootstrapURL  string
	DownloadTools []string

	// NetworkTimeout bounds the bootstrap download and the bootstrap run
	NetworkTimeout time.Duration

	// RetryAfter is how long a recorded failure suppresses new attempts
	RetryAfter time.Duration

	// WorkDir receives the downloaded bootstrap script
	WorkDir string
}

// Installer runs fallback installs
type Installer struct {
	cfg    Config
	runner shell.Runner
	ledger Ledger
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	outcomes map[string]error
	group    singleflight.Group

	installerMu   sync.Mutex
	installerDone bool
	installerCmd  []string
	installerErr  *Error
}

// Option configures an Installer
type Option func(*Installer)

// WithLedger records outcomes across runs
func WithLedger(l Ledger) Option {
	return func(i *Installer) { i.ledger = l }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(i *Installer) { i.log = log }
}

// New creates an installer
func New(cfg Config, runner shell.Runner, opts ...Option) *Installer {
	if cfg.Installer == "" {
		cfg.Installer = DefaultInstaller
	}

	if cfg.BootstrapURL == "" {
		cfg.BootstrapURL = DefaultBootstrapURL
	}

	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}

	i := &Installer{
		cfg:      cfg,
		runner:   runner,
		log:      zap.NewNop(),
		now:      time.Now,
		outcomes: make(map[string]error),
	}

	for _, opt := range opts {
		opt(i)
	}

	i.log = i.log.Named("install")

	return i
}

// EnsureInstalled installs spec (e.g. "numpy>=1.10.0") into the user scheme.
// A failure wraps ErrInstallFailed and names the stage it happened in.
// Repeated calls for the same spec return the first outcome.
func (i *Installer) EnsureInstalled(ctx context.Context, spec string) error {
	i.mu.Lock()
	if err, ok := i.outcomes[spec]; ok {
		i.mu.Unlock()
		return err
	}
	i.mu.Unlock()

	v, _, _ := i.group.Do(spec, func() (any, error) {
		err := i.attempt(ctx, spec)

		i.mu.Lock()
		i.outcomes[spec] = err
		i.mu.Unlock()

		return err, nil
	})

	if v == nil {
		return nil
	}

	return v.(error)
}

// attempt runs the state machine once
func (i *Installer) attempt(ctx context.Context, spec string) error {
	log := i.log.With(zap.String("spec", spec))

	if err := i.recentFailure(spec); err != nil {
		log.Warn("skipping install, a recent attempt failed", zap.Error(err))
		return err
	}

	var (
		installer []string
		failure   *Error
	)

	stage := StageCheckInstaller
	for {
		log.Debug("install stage", zap.String("stage", string(stage)))

		switch stage {
		case StageCheckInstaller, StageBootstrap:
			// lookup and bootstrap are shared by all specs in the run
			cmd, err := i.installerCommand(ctx)
			if err != nil {
				failure = &Error{Spec: spec, Stage: err.Stage, Err: err.Err}
				stage = StageFailed

				continue
			}

			installer = cmd
			stage = StageInstall

		case StageInstall:
			if err := i.install(ctx, installer, spec); err != nil {
				failure = &Error{Spec: spec, Stage: StageInstall, Err: err}
				stage = StageFailed

				continue
			}

			stage = StageDone

		case StageDone:
			log.Info("installed", zap.Strings("installer", installer))
			i.record(cache.InstallRecord{
				Spec:      spec,
				Installer: installer,
				Stage:     string(StageDone),
				Success:   true,
			})

			return nil

		case StageFailed:
			log.Error("install failed", zap.String("stage", string(failure.Stage)), zap.Error(failure.Err))
			i.record(cache.InstallRecord{
				Spec:      spec,
				Installer: installer,
				Stage:     string(failure.Stage),
				Success:   false,
				Message:   failure.Err.Error(),
			})

			return failure
		}
	}
}

// installerCommand finds a working installer, bootstrapping it if needed.
// The answer, good or bad, is shared by every spec in the run.
func (i *Installer) installerCommand(ctx context.Context) ([]string, *Error) {
	i.installerMu.Lock()
	defer i.installerMu.Unlock()

	if i.installerDone {
		return i.installerCmd, i.installerErr
	}

	cmd, err := i.findInstaller(ctx)
	if err == nil {
		i.installerDone = true
		i.installerCmd = cmd

		return cmd, nil
	}

	i.log.Warn("package installer not available, bootstrapping", zap.Error(err))

	if err := i.bootstrap(ctx); err != nil {
		i.installerDone = true
		i.installerErr = &Error{Stage: StageBootstrap, Err: err}

		return nil, i.installerErr
	}

	cmd, err = i.findInstaller(ctx)
	if err != nil {
		i.installerDone = true
		i.installerErr = &Error{Stage: StageBootstrap, Err: fmt.Errorf("installer still unavailable after bootstrap: %w", err)}

		return nil, i.installerErr
	}

	i.installerDone = true
	i.installerCmd = cmd

	return cmd, nil
}

// findInstaller tries "<runtime> -m <installer> list", then "<installer> list"
func (i *Installer) findInstaller(ctx context.Context) ([]string, error) {
	var candidates [][]string
	if i.cfg.Runtime != "" {
		candidates = append(candidates, []string{i.cfg.Runtime, "-m", i.cfg.Installer})
	}
	candidates = append(candidates, []string{i.cfg.Installer})

	var errs []error
	for _, cand := range candidates {
		args := append(append([]string{}, cand[1:]...), "list")
		_, err := i.runner.Run(ctx, shell.Command{Path: cand[0], Args: args})
		if err == nil {
			return cand, nil
		}

		errs = append(errs, err)
	}

	return nil, errors.Join(errs...)
}

// bootstrap downloads the bootstrap script and runs it under NetworkTimeout
func (i *Installer) bootstrap(ctx context.Context) error {
	if i.cfg.Runtime == "" {
		return errors.New("no runtime to bootstrap the installer with")
	}

	if i.cfg.NetworkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.NetworkTimeout)
		defer cancel()
	}

	if err := os.MkdirAll(i.cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create bootstrap directory: %w", err)
	}

	dest := filepath.Join(i.cfg.WorkDir, BootstrapScriptName)
	if err := i.download(ctx, i.cfg.BootstrapURL, dest); err != nil {
		return err
	}

	_, err := i.runner.Run(ctx, shell.Command{
		Path: i.cfg.Runtime,
		Args: []string{dest, "--user"},
	})
	if err != nil {
		return fmt.Errorf("failed to run bootstrap script: %w", err)
	}

	return nil
}

// download fetches url into dest with the runtime first, then each download tool
func (i *Installer) download(ctx context.Context, url, dest string) error {
	attempts := []shell.Command{{
		Path: i.cfg.Runtime,
		Args: []string{"-c", probe.DownloadScript, url, dest},
	}}

	for _, tool := range i.cfg.DownloadTools {
		cmd, ok := downloadCommand(tool, url, dest)
		if !ok {
			i.log.Warn("unsupported download tool", zap.String("tool", tool))
			continue
		}

		attempts = append(attempts, cmd)
	}

	var errs []error
	for _, cmd := range attempts {
		_, err := i.runner.Run(ctx, cmd)
		if err == nil {
			i.log.Debug("downloaded bootstrap script", zap.String("with", cmd.Path), zap.String("dest", dest))
			return nil
		}

		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}

	return fmt.Errorf("failed to download %s: %w", url, errors.Join(errs...))
}

func downloadCommand(tool, url, dest string) (shell.Command, bool) {
	switch filepath.Base(tool) {
	case "curl":
		return shell.Command{Path: tool, Args: []string{"-fsSL", "-o", dest, url}}, true
	case "wget":
		return shell.Command{Path: tool, Args: []string{"-q", "-O", dest, url}}, true
	default:
		return shell.Command{}, false
	}
}

// install runs "<installer> install --user <spec>"
func (i *Installer) install(ctx context.Context, installer []string, spec string) error {
	args := append(append([]string{}, installer[1:]...), "install", "--user", spec)

	res, err := i.runner.Run(ctx, shell.Command{Path: installer[0], Args: args})
	if err != nil {
		code := shell.ExitCode(err)
		return fmt.Errorf("%s (exit code %d): %w", codes.GetErrorMessage(code), code, err)
	}

	if res != nil && !codes.IsSuccess(res.ExitCode) {
		return fmt.Errorf("%s (exit code %d)", codes.GetErrorMessage(res.ExitCode), res.ExitCode)
	}

	return nil
}

// recentFailure returns an error when the ledger holds a failure younger
// than RetryAfter
func (i *Installer) recentFailure(spec string) error {
	if i.ledger == nil || i.cfg.RetryAfter <= 0 {
		return nil
	}

	last, err := i.ledger.LastInstall(spec)
	if err != nil {
		i.log.Warn("failed to read install ledger", zap.Error(err))
		return nil
	}

	if last == nil || last.Success {
		return nil
	}

	age := i.now().Sub(last.Timestamp)
	if age >= i.cfg.RetryAfter {
		return nil
	}

	return &Error{
		Spec:  spec,
		Stage: Stage(last.Stage),
		Err:   fmt.Errorf("previous attempt failed %s ago: %s", age.Round(time.Second), last.Message),
	}
}

func (i *Installer) record(rec cache.InstallRecord) {
	if i.ledger == nil {
		return
	}

	rec.Timestamp = i.now()
	if err := i.ledger.RecordInstall(rec); err != nil {
		i.log.Warn("failed to record install", zap.String("spec", rec.Spec), zap.Error(err))
	}
}
