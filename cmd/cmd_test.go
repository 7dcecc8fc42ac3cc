package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Norgate-AV/f2mod/internal/compiler"
	"github.com/Norgate-AV/f2mod/internal/configure"
	"github.com/Norgate-AV/f2mod/internal/probe"
	"github.com/Norgate-AV/f2mod/internal/shell"
	"github.com/Norgate-AV/f2mod/internal/shell/shelltest"
)

const testSuffix = ".cpython-311-x86_64-linux-gnu.so"

const testManifest = `
requirement "numpy" {
  min_version = "1.10.0"
  required    = true
}

requirement "mpi4py" {}

module "CTQMC" {
  sources   = ["src/ctqmc.f90"]
  libraries = ["lapack"]
}

module "PARALLEL" {
  sources  = ["src/par.f90"]
  requires = ["mpi4py"]
}
`

// host answers the runtime probes and imitates numpy.f2py
func host(numpy bool) shelltest.Handler {
	return func(cmd shell.Command) (*shell.Result, error) {
		if slices.Contains(cmd.Args, compiler.DefaultGeneratorModule) {
			return f2py(cmd)
		}

		script := ""
		if len(cmd.Args) > 0 {
			script = cmd.Args[len(cmd.Args)-1]
		}

		switch {
		case script == probe.RuntimeScript:
			return shelltest.OK("3.11.4", "/usr/include/python3.11", "/usr/lib")
		case script == probe.ExtSuffixScript:
			return shelltest.OK(testSuffix)
		case numpy && strings.Contains(script, "import numpy as m"):
			return shelltest.OK("1.26.4", "/np/include")
		}

		return shelltest.Fail(1, "")
	}
}

func f2py(cmd shell.Command) (*shell.Result, error) {
	if i := slices.Index(cmd.Args, "-h"); i >= 0 {
		if err := os.WriteFile(filepath.Join(cmd.Dir, cmd.Args[i+1]), []byte("python module\n"), 0o644); err != nil {
			return nil, err
		}

		return shelltest.OK()
	}

	if i := slices.Index(cmd.Args, "-c"); i >= 0 {
		name := strings.TrimSuffix(filepath.Base(cmd.Args[i+1]), compiler.SignatureExt)
		if err := os.WriteFile(filepath.Join(cmd.Dir, name+testSuffix), []byte("ELF"), 0o755); err != nil {
			return nil, err
		}

		return shelltest.OK()
	}

	return shelltest.Fail(2, "")
}

func newProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f2mod.hcl"), []byte(testManifest), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))

	past := time.Now().Add(-time.Hour)
	for _, name := range []string{"ctqmc.f90", "par.f90"} {
		path := filepath.Join(dir, "src", name)
		require.NoError(t, os.WriteFile(path, []byte("subroutine run()\nend subroutine\n"), 0o644))
		require.NoError(t, os.Chtimes(path, past, past))
	}

	return dir
}

func execute(t *testing.T, handler shelltest.Handler, args ...string) (string, *shelltest.FakeRunner, error) {
	t.Helper()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	runner := shelltest.New(handler)

	original := newRunner
	newRunner = func(*zap.Logger) shell.Runner { return runner }
	t.Cleanup(func() { newRunner = original })

	var out, errOut bytes.Buffer

	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return out.String(), runner, err
}

func TestConfigureCommand(t *testing.T) {
	project := newProject(t)

	out, _, err := execute(t, host(true), "configure", project, "--no-install")
	require.NoError(t, err)

	assert.Contains(t, out, "numpy      found    1.26.4")
	assert.Contains(t, out, "mpi4py     missing")
	assert.Contains(t, out, "optional dependency mpi4py not available")

	result, err := configure.ReadFile(filepath.Join(project, "build", configure.ResultFileName))
	require.NoError(t, err)
	assert.True(t, result.Found("numpy"))
	assert.False(t, result.Features["have_mpi4py"])

	shown, runner, err := execute(t, host(true), "configure", project, "--show")
	require.NoError(t, err)
	assert.Equal(t, out, shown)
	assert.Empty(t, runner.Calls())
}

func TestConfigureCommand_RequiredMissing(t *testing.T) {
	project := newProject(t)

	out, _, err := execute(t, host(false), "configure", project, "--no-install")
	require.Error(t, err)

	assert.Equal(t, ExitConfigure, ExitCode(err))
	assert.Contains(t, err.Error(), "numpy")
	assert.Contains(t, out, "numpy      missing")
}

func TestConfigureCommand_ShowWithoutResult(t *testing.T) {
	_, _, err := execute(t, host(true), "configure", newProject(t), "--show")
	require.Error(t, err)

	assert.Equal(t, ExitConfigure, ExitCode(err))
	assert.Contains(t, err.Error(), "run configure first")
}

func TestBuildCommand(t *testing.T) {
	project := newProject(t)
	lib := filepath.Join(project, "lib")

	out, runner, err := execute(t, host(true), "build", project, "--no-install", "-o", lib)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(lib, "CTQMC"+testSuffix))
	assert.Contains(t, out, "CTQMC      built")
	assert.Contains(t, out, "PARALLEL   skipped    requires mpi4py, which was not found")
	assert.Equal(t, 1, runner.Count("numpy.f2py", "-h", "CTQMC.pyf"))
	assert.Equal(t, 1, runner.Count("numpy.f2py", "-c", "-llapack"))

	out, runner, err = execute(t, host(true), "build", project, "--no-install", "-o", lib)
	require.NoError(t, err)

	assert.Contains(t, out, "CTQMC      up-to-date")
	assert.Zero(t, runner.Count("numpy.f2py"))
}

func TestBuildCommand_ManifestWithoutArrayLibrary(t *testing.T) {
	project := newProject(t)
	src := "module \"CTQMC\" {\n  sources = [\"src/ctqmc.f90\"]\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(project, "f2mod.hcl"), []byte(src), 0o644))

	lib := filepath.Join(project, "lib")

	out, runner, err := execute(t, host(true), "build", project, "--no-install", "-o", lib)
	require.NoError(t, err)

	assert.Contains(t, out, "CTQMC      built")
	assert.FileExists(t, filepath.Join(lib, "CTQMC"+testSuffix))
	assert.Positive(t, runner.Count("import numpy as m"))
}

func TestBuildCommand_UnknownModule(t *testing.T) {
	project := newProject(t)

	_, _, err := execute(t, host(true), "build", project, "NOPE", "--no-install")
	require.Error(t, err)

	assert.Equal(t, ExitBuild, ExitCode(err))
	assert.Contains(t, err.Error(), `unknown module "NOPE"`)
}

func TestBuildCommand_CompileFailure(t *testing.T) {
	project := newProject(t)

	failing := func(cmd shell.Command) (*shell.Result, error) {
		if slices.Contains(cmd.Args, "-c") && slices.Contains(cmd.Args, compiler.DefaultGeneratorModule) {
			return shelltest.Fail(1, "error: undefined reference")
		}

		return host(true)(cmd)
	}

	out, _, err := execute(t, failing, "build", project, "--no-install")
	require.Error(t, err)

	assert.Equal(t, ExitBuild, ExitCode(err))
	assert.Contains(t, out, "CTQMC      failed")
}

func TestCacheCommands(t *testing.T) {
	project := newProject(t)

	_, _, err := execute(t, host(true), "build", project, "--no-install", "-o", filepath.Join(project, "lib"))
	require.NoError(t, err)

	out, _, err := execute(t, host(true), "cache", "stats", project)
	require.NoError(t, err)
	assert.Contains(t, out, "modules:   1")

	out, _, err = execute(t, host(true), "cache", "clear", project)
	require.NoError(t, err)
	assert.Contains(t, out, "Cache cleared")

	out, _, err = execute(t, host(true), "cache", "stats", project)
	require.NoError(t, err)
	assert.Contains(t, out, "modules:   0")
}

func TestSplitArgs(t *testing.T) {
	project := t.TempDir()

	tests := []struct {
		name    string
		args    []string
		dir     string
		modules []string
	}{
		{name: "none", args: nil, dir: ".", modules: nil},
		{name: "dir only", args: []string{project}, dir: project, modules: []string{}},
		{name: "dir and modules", args: []string{project, "CTQMC", "MAXENT"}, dir: project, modules: []string{"CTQMC", "MAXENT"}},
		{name: "modules only", args: []string{"CTQMC,MAXENT"}, dir: ".", modules: []string{"CTQMC", "MAXENT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, modules := splitArgs(tt.args)
			assert.Equal(t, tt.dir, dir)
			assert.Equal(t, tt.modules, modules)
		})
	}
}
