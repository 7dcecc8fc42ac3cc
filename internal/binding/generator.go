// Package binding drives the two-stage pipeline that turns Fortran sources
// into a runtime-loadable extension module: generate a signature file when
// none is supplied, then compile sources against it.
package binding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/Norgate-AV/f2mod/internal/cache"
	"github.com/Norgate-AV/f2mod/internal/compiler"
)

// SuffixProber queries the platform extension suffix
type SuffixProber interface {
	ExtensionSuffix(ctx context.Context) (string, bool)
}

// Outcome describes what Build did for a module
type Outcome string

const (
	Built    Outcome = "built"
	Restored Outcome = "restored"
	UpToDate Outcome = "up-to-date"
)

// Result is the outcome of a successful Build
type Result struct {
	Module  string
	Output  string
	Outcome Outcome

	// Generated is set when the signature stage ran
	Generated bool
}

// Generator builds binding modules
type Generator struct {
	builder  *compiler.CommandBuilder
	suffixer SuffixProber
	cache    *cache.Cache
	buildDir string
	outDir   string
	log      *zap.Logger

	mu         sync.Mutex
	suffix     string
	suffixErr  error
	suffixDone bool
}

// Option configures a Generator
type Option func(*Generator)

// WithCache enables the content-hash check and artifact restore
func WithCache(c *cache.Cache) Option {
	return func(g *Generator) { g.cache = c }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(g *Generator) { g.log = log }
}

// NewGenerator creates a generator writing work files below buildDir and
// publishing modules into outDir
func NewGenerator(builder *compiler.CommandBuilder, suffixer SuffixProber, buildDir, outDir string, opts ...Option) *Generator {
	g := &Generator{
		builder:  builder,
		suffixer: suffixer,
		buildDir: buildDir,
		outDir:   outDir,
		log:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.log = g.log.Named("binding")

	return g
}

// Suffix returns the platform extension suffix. The runtime is asked once;
// later calls return the cached answer.
func (g *Generator) Suffix(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.suffixDone {
		return g.suffix, g.suffixErr
	}

	suffix, ok := g.suffixer.ExtensionSuffix(ctx)
	if !ok {
		if ctx.Err() != nil {
			// not a real answer, ask again next time
			return "", ctx.Err()
		}

		g.suffixErr = errors.New("failed to query extension suffix from runtime")
	}

	g.suffix = suffix
	g.suffixDone = true

	return g.suffix, g.suffixErr
}

// WorkDir returns the isolated working directory of a module
func (g *Generator) WorkDir(name string) string {
	return filepath.Join(g.buildDir, name+".dir")
}

// OutputFile returns <out_dir>/<name><suffix>
func (g *Generator) OutputFile(ctx context.Context, name string) (string, error) {
	suffix, err := g.Suffix(ctx)
	if err != nil {
		return "", err
	}

	return filepath.Join(g.outDir, name+suffix), nil
}

// Build brings m's output up to date. A failure only concerns m and is
// returned as a *StageError.
func (g *Generator) Build(ctx context.Context, m Module) (*Result, error) {
	log := g.log.With(zap.String("module", m.Name))

	suffix, err := g.Suffix(ctx)
	if err != nil {
		return nil, &StageError{Module: m.Name, Stage: StageCompile, Err: err}
	}

	outputName := m.Name + suffix
	m.OutputFile = filepath.Join(g.outDir, outputName)

	hash, err := cache.HashInputs(m.Inputs(), g.hashOptions(m), suffix)
	if err != nil {
		return nil, &StageError{Module: m.Name, Stage: m.firstStage(), Err: err}
	}

	decision, entry := g.check(m, hash)
	switch decision {
	case decisionUpToDate:
		log.Debug("module is up to date", zap.String("output", m.OutputFile))
		return &Result{Module: m.Name, Output: m.OutputFile, Outcome: UpToDate}, nil

	case decisionRestore:
		err := g.cache.Restore(entry, g.outDir)
		if err == nil {
			log.Info("restored module from cache", zap.String("output", m.OutputFile))
			return &Result{Module: m.Name, Output: m.OutputFile, Outcome: Restored}, nil
		}

		log.Warn("failed to restore from cache, rebuilding", zap.Error(err))
	}

	res, buildErr := g.run(ctx, m, outputName)
	g.record(m, hash, suffix, outputName, buildErr == nil)

	if buildErr != nil {
		return nil, buildErr
	}

	log.Info("built module", zap.String("output", m.OutputFile), zap.Bool("generated_signature", res.Generated))

	return res, nil
}

// run executes the pipeline states for m in its work dir
func (g *Generator) run(ctx context.Context, m Module, outputName string) (*Result, error) {
	workDir := g.WorkDir(m.Name)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, &StageError{Module: m.Name, Stage: m.firstStage(), Err: fmt.Errorf("failed to create work directory: %w", err)}
	}

	res := &Result{Module: m.Name, Output: m.OutputFile, Outcome: Built}

	signature := m.Signature
	for state := m.State(); ; {
		switch state {
		case NeedsSignature:
			args, err := g.builder.BuildGenerateArgs(m.Name, m.Sources)
			if err == nil {
				err = g.builder.ExecuteCommand(ctx, workDir, args)
			}

			if err != nil {
				return nil, &StageError{Module: m.Name, Stage: StageGenerate, Err: err}
			}

			signature = filepath.Join(workDir, compiler.SignatureName(m.Name))
			if _, err := os.Stat(signature); err != nil {
				return nil, &StageError{Module: m.Name, Stage: StageGenerate, Err: fmt.Errorf("signature file not produced: %w", err)}
			}

			res.Generated = true
			state = HasSignature

		case HasSignature:
			args, err := g.builder.BuildCompileArgs(signature, m.Sources, m.Options)
			if err == nil {
				g.builder.LogBuildInfo(m.Name, m.Sources, m.Options, args)
				err = g.builder.ExecuteCommand(ctx, workDir, args)
			}

			if err != nil {
				return nil, &StageError{Module: m.Name, Stage: StageCompile, Err: err}
			}

			if err := cache.CopyArtifacts(workDir, g.outDir, []string{outputName}); err != nil {
				return nil, &StageError{Module: m.Name, Stage: StageCompile, Err: fmt.Errorf("failed to publish module: %w", err)}
			}

			return res, nil
		}
	}
}

// record stores the build outcome in the cache, if one is configured
func (g *Generator) record(m Module, hash, suffix, outputName string, success bool) {
	if g.cache == nil {
		return
	}

	entry := cache.Entry{
		Hash:    hash,
		Module:  m.Name,
		Inputs:  m.Inputs(),
		Suffix:  suffix,
		Success: success,
	}

	if success {
		entry.Outputs = []string{outputName}
	}

	if err := g.cache.Store(entry, g.outDir); err != nil {
		g.log.Warn("failed to store cache entry", zap.String("module", m.Name), zap.Error(err))
	}
}

func (g *Generator) hashOptions(m Module) []string {
	opts := append([]string{}, g.builder.Generator()...)
	opts = append(opts, m.Options.Args()...)
	if m.Signature == "" {
		// a generated signature and a supplied one must not share an entry
		opts = append(opts, "generated-signature")
	}

	return opts
}

func (m *Module) firstStage() Stage {
	if m.State() == NeedsSignature {
		return StageGenerate
	}

	return StageCompile
}
