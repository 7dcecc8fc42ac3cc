// Package configure resolves the runtime and every declared requirement,
// falls back to installing missing required ones, and derives the feature
// flags that decide which binding modules are declared.
//
// Resolution is expressed as a static graph: the runtime node first, then
// one node per requirement, run in parallel on the graph executor.
package configure

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Norgate-AV/f2mod/internal/graph"
	"github.com/Norgate-AV/f2mod/internal/manifest"
	"github.com/Norgate-AV/f2mod/internal/resolve"
)

const (
	// FeatureMPI is on when the distributed-communication binding is found
	FeatureMPI = "mpi"

	// FeatureNFFT toggles the optional Fourier-transform support
	FeatureNFFT = "nfft"

	// HavePrefix prefixes the per-requirement feature flags
	HavePrefix = "have_"

	mpiLibrary = "mpi4py"
)

// Resolver resolves dependency records
type Resolver interface {
	Runtime(ctx context.Context) (*resolve.Record, error)
	Resolve(ctx context.Context, req resolve.Requirement) (*resolve.Record, error)
	Reprobe(ctx context.Context, req resolve.Requirement) (*resolve.Record, error)
}

// Installer installs a missing library
type Installer interface {
	EnsureInstalled(ctx context.Context, spec string) error
}

// Options controls a configure run
type Options struct {
	// Features are configured toggles with their default state
	Features map[string]bool

	// Enable and Disable come from the command line; Disable wins
	Enable  []string
	Disable []string

	// NoInstall turns the fallback installer off
	NoInstall bool

	Jobs int

	// ResultFile receives the YAML result when set
	ResultFile string
}

// DefaultFeatures are the toggles known without configuration
func DefaultFeatures() map[string]bool {
	return map[string]bool{FeatureNFFT: false}
}

// Configurator runs configure
type Configurator struct {
	resolver  Resolver
	installer Installer
	manifest  *manifest.Manifest
	opts      Options
	log       *zap.Logger

	now   func() time.Time
	newID func() (uuid.UUID, error)
}

// Option configures a Configurator
type Option func(*Configurator)

// WithInstaller enables the fallback installer for required dependencies
func WithInstaller(i Installer) Option {
	return func(c *Configurator) { c.installer = i }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(c *Configurator) { c.log = log }
}

// New creates a configurator for m
func New(r Resolver, m *manifest.Manifest, opts Options, options ...Option) *Configurator {
	c := &Configurator{
		resolver: r,
		manifest: m,
		opts:     opts,
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewV7,
	}

	for _, opt := range options {
		opt(c)
	}

	c.log = c.log.Named("configure")

	return c
}

// depState is written by exactly one graph node
type depState struct {
	req        manifest.Requirement
	rec        *resolve.Record
	installed  bool
	installErr error
}

// Run resolves everything. A missing runtime or a missing required
// dependency yields a *FatalError; the Result is returned in every case
// where the runtime was probed, so callers can still report it.
func (c *Configurator) Run(ctx context.Context) (*Result, error) {
	id, err := c.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	result := &Result{
		RunID:     id.String(),
		Timestamp: c.now().UTC(),
	}

	log := c.log.With(zap.String("run_id", result.RunID))
	log.Info("configure started", zap.Int("requirements", len(c.manifest.Requirements)))

	var (
		mu     sync.Mutex
		states = make(map[string]*depState, len(c.manifest.Requirements))
	)

	g := graph.New()
	if err := g.AddNode(resolve.RuntimeName, func(ctx context.Context) error {
		rec, err := c.resolver.Runtime(ctx)

		mu.Lock()
		result.Runtime = rec
		mu.Unlock()

		return err
	}); err != nil {
		return nil, err
	}

	for _, req := range c.manifest.Requirements {
		st := &depState{req: req}
		states[req.Name] = st

		nodeID := "dep:" + req.Name
		if err := g.AddNode(nodeID, func(ctx context.Context) error {
			return c.resolveDependency(ctx, st)
		}); err != nil {
			return nil, err
		}

		if err := g.AddEdge(resolve.RuntimeName, nodeID); err != nil {
			return nil, err
		}
	}

	report, err := graph.NewExecutor(g, c.opts.Jobs, c.log).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("configure interrupted: %w", err)
	}

	if out := report.Outcomes[resolve.RuntimeName]; out.State != graph.Done {
		rec := result.Runtime
		if rec == nil {
			rec = &resolve.Record{Name: resolve.RuntimeName, Required: true, Diagnostic: "runtime was not probed"}
		}

		result.Runtime = rec
		log.Error("runtime unavailable", zap.Error(out.Err))

		return result, c.finish(result, &FatalError{Missing: []Missing{missingFrom(rec, nil)}})
	}

	var fatal []Missing
	for _, req := range c.manifest.Requirements {
		st := states[req.Name]
		if out := report.Outcomes["dep:"+req.Name]; out.State == graph.Failed {
			// resolveDependency only fails on a lost runtime or a cancelled run
			return nil, fmt.Errorf("failed to resolve %s: %w", req.Name, out.Err)
		}

		result.Records = append(result.Records, st.rec)

		if st.installed {
			result.Installed = append(result.Installed, req.InstallSpec())
		}

		if st.rec.Found {
			continue
		}

		if req.Required {
			fatal = append(fatal, missingFrom(st.rec, st.installErr))
			continue
		}

		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"optional dependency %s not available (%s), feature %s disabled",
			req.Name, st.rec.Diagnostic, HavePrefix+req.Name))
	}

	result.Features = c.features(result)

	if len(fatal) > 0 {
		fe := &FatalError{Missing: fatal}
		log.Error("configure failed", zap.Strings("missing", fe.Names()))

		return result, c.finish(result, fe)
	}

	log.Info("configure finished", zap.Int("warnings", len(result.Warnings)))

	return result, c.finish(result, nil)
}

// resolveDependency resolves one requirement and, if it is required and
// missing, runs the fallback installer and re-probes
func (c *Configurator) resolveDependency(ctx context.Context, st *depState) error {
	req := st.req.Resolve()

	rec, err := c.resolver.Resolve(ctx, req)
	if err != nil {
		return err
	}

	st.rec = rec
	if rec.Found || !req.Required || c.installer == nil || c.opts.NoInstall {
		return nil
	}

	spec := st.req.InstallSpec()
	c.log.Warn("required dependency missing, trying fallback install",
		zap.String("name", req.Name),
		zap.String("spec", spec),
		zap.String("reason", rec.Diagnostic))

	if err := c.installer.EnsureInstalled(ctx, spec); err != nil {
		st.installErr = err
		return nil
	}

	fresh, err := c.resolver.Reprobe(ctx, req)
	if err != nil {
		return err
	}

	st.rec = fresh
	st.installed = fresh.Found
	if !fresh.Found {
		st.installErr = fmt.Errorf("installed %s but it is still not usable", spec)
	}

	return nil
}

// features derives the feature flags. Detection sets have_<name> and mpi,
// configured toggles keep their value unless enabled on the command line,
// and a disable always wins.
func (c *Configurator) features(result *Result) map[string]bool {
	features := make(map[string]bool)
	for name, on := range DefaultFeatures() {
		features[name] = on
	}

	for name, on := range c.opts.Features {
		features[name] = on
	}

	detected := make(map[string]bool)
	for _, rec := range result.Records {
		name := HavePrefix + rec.Name
		features[name] = rec.Found
		detected[name] = true
	}

	features[FeatureMPI] = result.Found(mpiLibrary)
	detected[FeatureMPI] = true

	for _, name := range c.opts.Enable {
		if detected[name] {
			if !features[name] {
				result.Warnings = append(result.Warnings, fmt.Sprintf("cannot enable %s: its dependency was not found", name))
			}

			continue
		}

		features[name] = true
	}

	for _, name := range c.opts.Disable {
		features[name] = false
	}

	return features
}

func (c *Configurator) finish(result *Result, fatal *FatalError) error {
	sort.Strings(result.Installed)

	var err error
	if fatal != nil {
		err = fatal
	}

	if c.opts.ResultFile != "" {
		if werr := result.WriteFile(c.opts.ResultFile); werr != nil {
			c.log.Warn("failed to write configure result", zap.Error(werr))
			err = errors.Join(err, werr)
		}
	}

	return err
}
