// Package resolve turns runtime introspection into dependency records.
//
// The runtime record is resolved first and is a hard prerequisite for every
// library probe. Records are memoized per name for the lifetime of a
// Resolver, so one configure run spawns at most one probe per library even
// when libraries are resolved concurrently.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Norgate-AV/f2mod/internal/probe"
	"github.com/Norgate-AV/f2mod/internal/semver"
)

// Prober is the part of probe.Prober the resolver needs
type Prober interface {
	Run(ctx context.Context, script string) probe.Result
}

// Resolver resolves and memoizes dependency records
type Resolver struct {
	prober     Prober
	catalog    Catalog
	runtimeMin *semver.Triple
	log        *zap.Logger

	mu      sync.RWMutex
	records map[string]*Record
	group   singleflight.Group
}

// Option configures a Resolver
type Option func(*Resolver)

// WithCatalog replaces the default library catalog
func WithCatalog(c Catalog) Option {
	return func(r *Resolver) {
		r.catalog = c
	}
}

// WithRuntimeMinVersion makes an older runtime count as unavailable
func WithRuntimeMinVersion(min *semver.Triple) Option {
	return func(r *Resolver) {
		r.runtimeMin = min
	}
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) {
		r.log = log.Named("resolve")
	}
}

// New creates a resolver on top of a prober
func New(p Prober, opts ...Option) *Resolver {
	r := &Resolver{
		prober:  p,
		catalog: DefaultCatalog(),
		log:     zap.NewNop(),
		records: make(map[string]*Record),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Runtime resolves the runtime itself. The error wraps ErrRuntimeUnavailable
// whenever the returned record is not Found.
func (r *Resolver) Runtime(ctx context.Context) (*Record, error) {
	rec := r.memo(RuntimeName, func() *Record {
		return r.probeRuntime(ctx)
	})

	if !rec.Found {
		return rec, rec.Err()
	}

	return rec, nil
}

// Resolve resolves req. It returns an error only when the runtime is
// unavailable; a missing or too-old library is reported through the
// record (see Record.Err).
//
// The first call for a name probes; later calls reuse the probe facts and
// re-evaluate them against their own constraint.
func (r *Resolver) Resolve(ctx context.Context, req Requirement) (*Record, error) {
	if _, err := r.Runtime(ctx); err != nil {
		return nil, fmt.Errorf("cannot resolve %s: %w", req.Name, err)
	}

	rec := r.memo(req.Name, func() *Record {
		return r.probeLibrary(ctx, req)
	})

	if !sameConstraint(rec, req) {
		return rec.withConstraint(req.MinVersion, req.Required), nil
	}

	return rec, nil
}

// Reprobe probes req again, bypassing the memo. The memoized record is
// replaced only when it was not Found and the new one is, which is the one
// transition a successful install is allowed to cause.
func (r *Resolver) Reprobe(ctx context.Context, req Requirement) (*Record, error) {
	if _, err := r.Runtime(ctx); err != nil {
		return nil, fmt.Errorf("cannot resolve %s: %w", req.Name, err)
	}

	fresh := r.probeLibrary(ctx, req)

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.records[req.Name]; ok && old.Found {
		return old, nil
	}

	if fresh.Found {
		r.records[req.Name] = fresh
	}

	return fresh, nil
}

// Lookup returns the memoized record for name
func (r *Resolver) Lookup(name string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]

	return rec, ok
}

// Records returns all memoized records sorted by name, runtime first
func (r *Resolver) Records() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if (out[i].Name == RuntimeName) != (out[j].Name == RuntimeName) {
			return out[i].Name == RuntimeName
		}

		return out[i].Name < out[j].Name
	})

	return out
}

// memo returns the record stored under key, computing it with fn at most
// once. Concurrent callers for the same key share one computation.
func (r *Resolver) memo(key string, fn func() *Record) *Record {
	if rec, ok := r.Lookup(key); ok {
		return rec
	}

	v, _, _ := r.group.Do(key, func() (any, error) {
		if rec, ok := r.Lookup(key); ok {
			return rec, nil
		}

		rec := fn()

		r.mu.Lock()
		if existing, ok := r.records[key]; ok {
			rec = existing
		} else {
			r.records[key] = rec
		}
		r.mu.Unlock()

		return rec, nil
	})

	return v.(*Record)
}

func (r *Resolver) probeRuntime(ctx context.Context) *Record {
	rec := &Record{Name: RuntimeName, Required: true, MinVersion: r.runtimeMin, VersionSatisfied: true}

	res := r.prober.Run(ctx, probe.RuntimeScript)
	if !res.Succeeded {
		rec.Diagnostic = "runtime could not be executed or introspected"
		r.log.Error("runtime not found")
		return rec
	}

	rec.Present = true
	fillFacts(rec, res)
	applyConstraint(rec)

	r.log.Info("runtime resolved",
		zap.String("version", rec.VersionString()),
		zap.String("include", rec.IncludePath),
		zap.Bool("found", rec.Found))

	return rec
}

func (r *Resolver) probeLibrary(ctx context.Context, req Requirement) *Record {
	lib := r.catalog.Lookup(req.Name)
	rec := &Record{Name: req.Name, Required: req.Required, MinVersion: req.MinVersion}

	res := r.prober.Run(ctx, probe.ImportScript(lib.Import, lib.VersionExpr, lib.pathExprs()...))
	if !res.Succeeded {
		rec.VersionSatisfied = true
		rec.Diagnostic = fmt.Sprintf("could not import %s", lib.Import)
		r.log.Info("library not found", zap.String("name", req.Name))
		return rec
	}

	rec.Present = true
	fillFacts(rec, res)
	if lib.IncludeExpr == "" && rec.IncludePath != "" {
		// no include expression: every path line is an extra path
		rec.ExtraPaths = append([]string{rec.IncludePath}, rec.ExtraPaths...)
		rec.IncludePath = ""
	}
	applyConstraint(rec)

	r.log.Info("library resolved",
		zap.String("name", req.Name),
		zap.String("version", rec.VersionString()),
		zap.Bool("found", rec.Found),
		zap.String("diagnostic", rec.Diagnostic))

	return rec
}

// fillFacts copies version and path lines from a successful probe
func fillFacts(rec *Record, res probe.Result) {
	rec.RawVersion = res.Line(0)

	v, err := semver.Parse(rec.RawVersion)
	if err != nil {
		// an upstream tool changed its output format; treat as missing
		rec.Diagnostic = fmt.Sprintf("unrecognized version output %q", rec.RawVersion)
	} else {
		rec.Version = &v
	}

	rec.IncludePath = res.Line(1)
	for _, p := range res.Lines[min(2, len(res.Lines)):] {
		if p != "" {
			rec.ExtraPaths = append(rec.ExtraPaths, p)
		}
	}
}

func sameConstraint(rec *Record, req Requirement) bool {
	if rec.Required != req.Required {
		return false
	}

	switch {
	case rec.MinVersion == nil && req.MinVersion == nil:
		return true
	case rec.MinVersion == nil || req.MinVersion == nil:
		return false
	default:
		return *rec.MinVersion == *req.MinVersion
	}
}
