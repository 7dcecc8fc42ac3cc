package configure

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Norgate-AV/f2mod/internal/install"
	"github.com/Norgate-AV/f2mod/internal/manifest"
	"github.com/Norgate-AV/f2mod/internal/probe"
	"github.com/Norgate-AV/f2mod/internal/resolve"
	"github.com/Norgate-AV/f2mod/internal/semver"
	"github.com/Norgate-AV/f2mod/internal/shell"
	"github.com/Norgate-AV/f2mod/internal/shell/shelltest"
)

// env answers runtime, import and installer commands. Libraries listed in
// afterInstall become importable once "pip install" ran for them.
type env struct {
	runtime      []string
	libs         map[string][]string
	afterInstall map[string][]string
	pipWorks     bool

	mu        sync.Mutex
	installed map[string]bool
}

func (e *env) handle(cmd shell.Command) (*shell.Result, error) {
	line := cmd.String()

	switch {
	case len(cmd.Args) > 0 && cmd.Args[len(cmd.Args)-1] == probe.RuntimeScript:
		if e.runtime == nil {
			return shelltest.NotFound()
		}
		return shelltest.OK(e.runtime...)

	case strings.HasSuffix(line, " list"):
		if e.pipWorks {
			return shelltest.OK()
		}
		return shelltest.Fail(1, "")

	case strings.Contains(line, "install --user"):
		if !e.pipWorks {
			return shelltest.Fail(1, "")
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		for name := range e.afterInstall {
			if strings.Contains(line, " "+name) {
				if e.installed == nil {
					e.installed = make(map[string]bool)
				}
				e.installed[name] = true
			}
		}
		return shelltest.OK()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, lines := range e.libs {
		if strings.Contains(line, "import "+name+" as m") {
			return shelltest.OK(lines...)
		}
	}

	for name, lines := range e.afterInstall {
		if e.installed[name] && strings.Contains(line, "import "+name+" as m") {
			return shelltest.OK(lines...)
		}
	}

	// downloads, bootstrap runs and unknown imports fail
	return shelltest.Fail(1, "")
}

func triple(s string) *semver.Triple {
	v := semver.MustParse(s)
	return &v
}

func standardManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Dir: "/proj",
		Requirements: []manifest.Requirement{
			{Name: "numpy", MinVersion: triple("1.10.0"), Required: true},
			{Name: "scipy", MinVersion: triple("1.0.0")},
			{Name: "h5py"},
			{Name: "mpi4py"},
			{Name: "configobj"},
		},
	}
}

func standardEnv() *env {
	return &env{
		runtime: []string{"3.11.4", "/usr/include/python3.11", "/usr/lib"},
		libs: map[string][]string{
			"numpy":     {"1.26.4", "/np/include"},
			"scipy":     {"0.9.5"},
			"h5py":      {"3.10.0", "/site/h5py"},
			"configobj": {"5.0.8"},
		},
	}
}

func newConfigurator(t *testing.T, e *env, m *manifest.Manifest, opts Options, withInstaller bool) (*Configurator, *shelltest.FakeRunner) {
	t.Helper()

	runner := shelltest.New(e.handle)
	log := zaptest.NewLogger(t)
	r := resolve.New(probe.New("python3", runner, log), resolve.WithLogger(log))

	options := []Option{WithLogger(log)}
	if withInstaller {
		inst := install.New(install.Config{
			Runtime:        "python3",
			DownloadTools:  []string{"curl"},
			NetworkTimeout: time.Second,
			WorkDir:        t.TempDir(),
		}, runner, install.WithLogger(log))
		options = append(options, WithInstaller(inst))
	}

	c := New(r, m, opts, options...)
	c.now = func() time.Time { return time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC) }
	c.newID = func() (uuid.UUID, error) { return uuid.MustParse("0192a3b4-c5d6-7e8f-9a0b-1c2d3e4f5a6b"), nil }

	return c, runner
}

func TestConfigurator_Run_Summary(t *testing.T) {
	c, _ := newConfigurator(t, standardEnv(), standardManifest(), Options{
		Features: map[string]bool{FeatureNFFT: false},
		Enable:   []string{FeatureNFFT},
		Disable:  []string{"have_configobj"},
	}, false)

	result, err := c.Run(context.Background())
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "summary", []byte(result.Summary()))
}

func TestConfigurator_Run_Features(t *testing.T) {
	e := standardEnv()
	e.libs["mpi4py"] = []string{"3.1.5", "/site/mpi4py/include"}

	tests := []struct {
		name         string
		opts         Options
		want         map[string]bool
		wantWarnings []string
	}{
		{
			name: "detection only",
			want: map[string]bool{
				"have_numpy": true, "have_scipy": false, "have_h5py": true,
				"have_mpi4py": true, "have_configobj": true,
				FeatureMPI: true, FeatureNFFT: false,
			},
		},
		{
			name: "disable wins over detection",
			opts: Options{Disable: []string{FeatureMPI}},
			want: map[string]bool{
				"have_numpy": true, "have_scipy": false, "have_h5py": true,
				"have_mpi4py": true, "have_configobj": true,
				FeatureMPI: false, FeatureNFFT: false,
			},
		},
		{
			name: "enable cannot force a missing dependency",
			opts: Options{Enable: []string{"have_scipy", FeatureNFFT}},
			want: map[string]bool{
				"have_numpy": true, "have_scipy": false, "have_h5py": true,
				"have_mpi4py": true, "have_configobj": true,
				FeatureMPI: true, FeatureNFFT: true,
			},
			wantWarnings: []string{"cannot enable have_scipy: its dependency was not found"},
		},
		{
			name: "configured toggle",
			opts: Options{Features: map[string]bool{"openmp": true}, Disable: []string{FeatureNFFT}},
			want: map[string]bool{
				"have_numpy": true, "have_scipy": false, "have_h5py": true,
				"have_mpi4py": true, "have_configobj": true,
				FeatureMPI: true, FeatureNFFT: false, "openmp": true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newConfigurator(t, e, standardManifest(), tt.opts, false)

			result, err := c.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Features)

			for _, w := range tt.wantWarnings {
				assert.Contains(t, result.Warnings, w)
			}
		})
	}
}

func TestConfigurator_Run_RuntimeMissing(t *testing.T) {
	e := standardEnv()
	e.runtime = nil

	c, runner := newConfigurator(t, e, standardManifest(), Options{}, true)

	result, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resolve.ErrRuntimeUnavailable)

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, []string{resolve.RuntimeName}, fatal.Names())

	require.NotNil(t, result)
	assert.False(t, result.Runtime.Found)
	assert.Empty(t, result.Records)

	// nothing but the runtime probe ran
	assert.Len(t, runner.Calls(), 1)
}

// Required "A" absent and the installer bootstrap fails: configure aborts
// naming A. Optional "B" absent: only a warning and a disabled feature.
func TestConfigurator_Run_RequiredMissingOptionalMissing(t *testing.T) {
	e := &env{runtime: []string{"3.11.4", "/usr/include/python3.11", "/usr/lib"}}
	m := &manifest.Manifest{
		Requirements: []manifest.Requirement{
			{Name: "A", MinVersion: triple("1.0"), Required: true},
			{Name: "B"},
		},
	}

	c, runner := newConfigurator(t, e, m, Options{}, true)

	result, err := c.Run(context.Background())
	require.Error(t, err)

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, []string{"A"}, fatal.Names())
	assert.Equal(t, ">= 1.0.0", fatal.Missing[0].Constraint)
	assert.Contains(t, err.Error(), "A (>= 1.0.0)")
	assert.NotContains(t, err.Error(), "B")

	assert.ErrorIs(t, err, resolve.ErrDependencyMissing)
	assert.ErrorIs(t, err, install.ErrInstallFailed)

	require.NotNil(t, result)
	assert.False(t, result.Features["have_B"])
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "optional dependency B not available")

	// the bootstrap was tried for A only
	assert.Equal(t, 1, runner.Count("urlretrieve"))
	assert.Equal(t, 1, runner.Count("curl -fsSL"))
	assert.Zero(t, runner.Count("install --user"))
}

func TestConfigurator_Run_FallbackInstallSucceeds(t *testing.T) {
	e := standardEnv()
	delete(e.libs, "numpy")
	e.pipWorks = true
	e.afterInstall = map[string][]string{"numpy": {"1.26.4", "/home/u/.local/numpy/include"}}

	c, runner := newConfigurator(t, e, standardManifest(), Options{}, true)

	result, err := c.Run(context.Background())
	require.NoError(t, err)

	numpy, ok := result.Record("numpy")
	require.True(t, ok)
	assert.True(t, numpy.Found)
	assert.Equal(t, "/home/u/.local/numpy/include", numpy.IncludePath)
	assert.Equal(t, []string{"numpy>=1.10.0"}, result.Installed)
	assert.True(t, result.Features["have_numpy"])

	// optional missing libraries are never installed
	assert.Equal(t, 1, runner.Count("install --user"))
}

func TestConfigurator_Run_NoInstall(t *testing.T) {
	e := standardEnv()
	delete(e.libs, "numpy")
	e.pipWorks = true

	c, runner := newConfigurator(t, e, standardManifest(), Options{NoInstall: true}, true)

	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "numpy (>= 1.10.0): could not import numpy")
	assert.Zero(t, runner.Count("pip"))
}

func TestConfigurator_Run_VersionTooLowRequired(t *testing.T) {
	e := standardEnv()
	e.libs["numpy"] = []string{"1.9.3", "/np/include"}

	c, _ := newConfigurator(t, e, standardManifest(), Options{}, false)

	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resolve.ErrVersionTooLow)
	assert.ErrorIs(t, err, resolve.ErrDependencyMissing)
	assert.Contains(t, err.Error(), "found version 1.9.3, requires >= 1.10.0")
}

func TestConfigurator_Run_WritesResultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build", ResultFileName)

	c, _ := newConfigurator(t, standardEnv(), standardManifest(), Options{ResultFile: path}, false)

	result, err := c.Run(context.Background())
	require.NoError(t, err)

	loaded, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "0192a3b4-c5d6-7e8f-9a0b-1c2d3e4f5a6b", loaded.RunID)
	assert.True(t, result.Timestamp.Equal(loaded.Timestamp))
	assert.Equal(t, result.Features, loaded.Features)
	assert.Equal(t, result.Summary(), loaded.Summary())
}

func TestConfigurator_Run_ProbesOncePerLibrary(t *testing.T) {
	c, runner := newConfigurator(t, standardEnv(), standardManifest(), Options{Jobs: 4}, false)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	for _, name := range []string{"numpy", "scipy", "h5py", "mpi4py", "configobj"} {
		assert.Equal(t, 1, runner.Count("import "+name+" as m"), name)
	}
	assert.Equal(t, 6, len(runner.Calls()))
}

func TestFatalError(t *testing.T) {
	err := &FatalError{Missing: []Missing{
		{Name: "numpy", Constraint: ">= 1.10.0", Reason: "could not import numpy", Err: resolve.ErrDependencyMissing},
		{Name: "h5py", Err: resolve.ErrDependencyMissing},
	}}

	assert.Equal(t,
		"configuration failed: required dependency not satisfied: numpy (>= 1.10.0): could not import numpy; h5py",
		err.Error())
	assert.ErrorIs(t, err, resolve.ErrDependencyMissing)
	assert.Equal(t, []string{"numpy", "h5py"}, err.Names())
}
