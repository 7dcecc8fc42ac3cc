package binding

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Norgate-AV/f2mod/internal/cache"
	"github.com/Norgate-AV/f2mod/internal/compiler"
	"github.com/Norgate-AV/f2mod/internal/shell"
	"github.com/Norgate-AV/f2mod/internal/shell/shelltest"
)

const testSuffix = ".cpython-311-x86_64-linux-gnu.so"

type fakeSuffix struct {
	suffix string
	ok     bool
	calls  atomic.Int32
}

func (f *fakeSuffix) ExtensionSuffix(ctx context.Context) (string, bool) {
	f.calls.Add(1)
	return f.suffix, f.ok
}

// f2pyHandler imitates numpy.f2py: "-h <sig>" writes the signature into the
// work dir, "-c <sig> ..." writes <module><suffix> next to it
func f2pyHandler(suffix string) shelltest.Handler {
	return func(cmd shell.Command) (*shell.Result, error) {
		if i := slices.Index(cmd.Args, "-h"); i >= 0 {
			if err := os.WriteFile(filepath.Join(cmd.Dir, cmd.Args[i+1]), []byte("python module\n"), 0o644); err != nil {
				return nil, err
			}

			return shelltest.OK()
		}

		if i := slices.Index(cmd.Args, "-c"); i >= 0 {
			name := strings.TrimSuffix(filepath.Base(cmd.Args[i+1]), compiler.SignatureExt)
			if err := os.WriteFile(filepath.Join(cmd.Dir, name+suffix), []byte("ELF"), 0o755); err != nil {
				return nil, err
			}

			return shelltest.OK()
		}

		return shelltest.Fail(2, "")
	}
}

type fixture struct {
	runner   *shelltest.FakeRunner
	suffixer *fakeSuffix
	cache    *cache.Cache
	gen      *Generator
	srcDir   string
	outDir   string
	buildDir string
}

func newFixture(t *testing.T, handler shelltest.Handler, withCache bool) *fixture {
	t.Helper()

	f := &fixture{
		runner:   shelltest.New(handler),
		suffixer: &fakeSuffix{suffix: testSuffix, ok: true},
		srcDir:   t.TempDir(),
		outDir:   t.TempDir(),
		buildDir: t.TempDir(),
	}

	log := zaptest.NewLogger(t)
	builder := compiler.NewCommandBuilder([]string{"python3", "-m", "numpy.f2py"}, f.runner, log)

	opts := []Option{WithLogger(log)}
	if withCache {
		c, err := cache.New(filepath.Join(t.TempDir(), "cache"))
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })

		f.cache = c
		opts = append(opts, WithCache(c))
	}

	f.gen = NewGenerator(builder, f.suffixer, f.buildDir, f.outDir, opts...)

	return f
}

// source writes a Fortran file dated one hour in the past
func (f *fixture) source(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(f.srcDir, name)
	require.NoError(t, os.WriteFile(path, []byte("subroutine run()\nend subroutine\n"), 0o644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	return path
}

func TestGenerator_Build_GeneratesThenCompiles(t *testing.T) {
	f := newFixture(t, f2pyHandler(testSuffix), true)
	src := f.source(t, "CTQMC.F90")

	res, err := f.gen.Build(context.Background(), Module{Name: "CTQMC", Sources: []string{src}})
	require.NoError(t, err)

	assert.Equal(t, Built, res.Outcome)
	assert.True(t, res.Generated)
	assert.Equal(t, filepath.Join(f.outDir, "CTQMC"+testSuffix), res.Output)
	assert.FileExists(t, res.Output)

	calls := f.runner.Calls()
	require.Len(t, calls, 2)
	assert.True(t, shelltest.Matches(calls[0], "-m CTQMC", "-h CTQMC.pyf", "--overwrite-signature", src))
	assert.True(t, shelltest.Matches(calls[1], "-c", filepath.Join(f.buildDir, "CTQMC.dir", "CTQMC.pyf"), src))

	for _, c := range calls {
		assert.Equal(t, filepath.Join(f.buildDir, "CTQMC.dir"), c.Dir)
	}
}

func TestGenerator_Build_SuppliedSignatureCompilesOnly(t *testing.T) {
	f := newFixture(t, f2pyHandler(testSuffix), false)
	src := f.source(t, "maxent_routines.f90")
	sig := f.source(t, "MAXENT.pyf")

	res, err := f.gen.Build(context.Background(), Module{
		Name:      "MAXENT",
		Sources:   []string{src},
		Signature: sig,
		Options:   compiler.Options{Libraries: []string{"lapack"}},
	})
	require.NoError(t, err)

	assert.False(t, res.Generated)
	assert.FileExists(t, filepath.Join(f.outDir, "MAXENT"+testSuffix))

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	assert.True(t, shelltest.Matches(calls[0], "-c "+sig, src, "-llapack"))
	assert.Zero(t, f.runner.Count("-h"))
}

func TestGenerator_Suffix_QueriedOnce(t *testing.T) {
	f := newFixture(t, f2pyHandler(testSuffix), false)

	for _, name := range []string{"CTQMC", "MAXENT"} {
		src := f.source(t, name+".f90")
		_, err := f.gen.Build(context.Background(), Module{Name: name, Sources: []string{src}})
		require.NoError(t, err)
	}

	out, err := f.gen.OutputFile(context.Background(), "CTQMC")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.outDir, "CTQMC"+testSuffix), out)

	assert.Equal(t, int32(1), f.suffixer.calls.Load())
}

func TestGenerator_Suffix_Failure(t *testing.T) {
	f := newFixture(t, f2pyHandler(testSuffix), false)
	f.suffixer.ok = false
	src := f.source(t, "CTQMC.F90")

	_, err := f.gen.Build(context.Background(), Module{Name: "CTQMC", Sources: []string{src}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompileFailed)
	assert.Zero(t, len(f.runner.Calls()))

	_, err = f.gen.Suffix(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(1), f.suffixer.calls.Load())
}

func TestGenerator_Build_Incremental(t *testing.T) {
	f := newFixture(t, f2pyHandler(testSuffix), true)
	src := f.source(t, "CTQMC.F90")
	mod := Module{Name: "CTQMC", Sources: []string{src}}
	ctx := context.Background()

	_, err := f.gen.Build(ctx, mod)
	require.NoError(t, err)
	require.Len(t, f.runner.Calls(), 2)

	t.Run("unchanged inputs are skipped", func(t *testing.T) {
		res, err := f.gen.Build(ctx, mod)
		require.NoError(t, err)
		assert.Equal(t, UpToDate, res.Outcome)
		assert.Len(t, f.runner.Calls(), 2)
	})

	t.Run("deleted output is restored from cache", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(f.outDir, "CTQMC"+testSuffix)))

		res, err := f.gen.Build(ctx, mod)
		require.NoError(t, err)
		assert.Equal(t, Restored, res.Outcome)
		assert.FileExists(t, res.Output)
		assert.Len(t, f.runner.Calls(), 2)
	})

	t.Run("changed options rebuild", func(t *testing.T) {
		changed := mod
		changed.Options = compiler.Options{F90Flags: []string{"-O3"}}

		res, err := f.gen.Build(ctx, changed)
		require.NoError(t, err)
		assert.Equal(t, Built, res.Outcome)
		assert.Len(t, f.runner.Calls(), 4)

		// back to the original options
		_, err = f.gen.Build(ctx, mod)
		require.NoError(t, err)
		assert.Len(t, f.runner.Calls(), 6)
	})

	t.Run("newer source rebuilds", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(src, future, future))

		res, err := f.gen.Build(ctx, mod)
		require.NoError(t, err)
		assert.Equal(t, Built, res.Outcome)
		assert.Len(t, f.runner.Calls(), 8)
	})
}

func TestGenerator_Build_LibraryOrderRebuilds(t *testing.T) {
	f := newFixture(t, f2pyHandler(testSuffix), true)
	src := f.source(t, "CTQMC.F90")
	mod := Module{
		Name:    "CTQMC",
		Sources: []string{src},
		Options: compiler.Options{Libraries: []string{"lapack", "blas"}},
	}
	ctx := context.Background()

	_, err := f.gen.Build(ctx, mod)
	require.NoError(t, err)
	require.Len(t, f.runner.Calls(), 2)

	reordered := mod
	reordered.Options = compiler.Options{Libraries: []string{"blas", "lapack"}}

	res, err := f.gen.Build(ctx, reordered)
	require.NoError(t, err)
	assert.Equal(t, Built, res.Outcome)
	assert.Len(t, f.runner.Calls(), 4)
	assert.Equal(t, 1, f.runner.Count("-c", "-lblas -llapack"))
}

func TestGenerator_Build_NoCacheUsesTimestamps(t *testing.T) {
	f := newFixture(t, f2pyHandler(testSuffix), false)
	src := f.source(t, "CTQMC.F90")
	mod := Module{Name: "CTQMC", Sources: []string{src}}

	_, err := f.gen.Build(context.Background(), mod)
	require.NoError(t, err)

	res, err := f.gen.Build(context.Background(), mod)
	require.NoError(t, err)
	assert.Equal(t, UpToDate, res.Outcome)

	require.NoError(t, os.Remove(res.Output))

	res, err = f.gen.Build(context.Background(), mod)
	require.NoError(t, err)
	assert.Equal(t, Built, res.Outcome)
	assert.Len(t, f.runner.Calls(), 4)
}

func TestGenerator_Build_StageErrors(t *testing.T) {
	tests := []struct {
		name      string
		handler   shelltest.Handler
		wantStage Stage
		wantErr   error
		notErr    error
		wantCalls int
	}{
		{
			name: "generation fails",
			handler: func(cmd shell.Command) (*shell.Result, error) {
				return shelltest.Fail(1, "")
			},
			wantStage: StageGenerate,
			wantErr:   ErrGenerationFailed,
			notErr:    ErrCompileFailed,
			wantCalls: 1,
		},
		{
			name: "generation produces no signature",
			handler: func(cmd shell.Command) (*shell.Result, error) {
				return shelltest.OK()
			},
			wantStage: StageGenerate,
			wantErr:   ErrGenerationFailed,
			notErr:    ErrCompileFailed,
			wantCalls: 1,
		},
		{
			name: "compile fails",
			handler: func(cmd shell.Command) (*shell.Result, error) {
				if slices.Contains(cmd.Args, "-c") {
					return shelltest.Fail(1, "")
				}

				return f2pyHandler(testSuffix)(cmd)
			},
			wantStage: StageCompile,
			wantErr:   ErrCompileFailed,
			notErr:    ErrGenerationFailed,
			wantCalls: 2,
		},
		{
			name: "compile produces no module",
			handler: func(cmd shell.Command) (*shell.Result, error) {
				if slices.Contains(cmd.Args, "-c") {
					return shelltest.OK()
				}

				return f2pyHandler(testSuffix)(cmd)
			},
			wantStage: StageCompile,
			wantErr:   ErrCompileFailed,
			notErr:    ErrGenerationFailed,
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.handler, true)
			src := f.source(t, "CTQMC.F90")

			res, err := f.gen.Build(context.Background(), Module{Name: "CTQMC", Sources: []string{src}})
			require.Error(t, err)
			assert.Nil(t, res)

			var stageErr *StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, "CTQMC", stageErr.Module)
			assert.Equal(t, tt.wantStage, stageErr.Stage)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NotErrorIs(t, err, tt.notErr)
			assert.Contains(t, err.Error(), "CTQMC")
			assert.Len(t, f.runner.Calls(), tt.wantCalls)

			entry, err := f.cache.Get("CTQMC")
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.False(t, entry.Success)
		})
	}
}

func TestModule_State(t *testing.T) {
	assert.Equal(t, NeedsSignature, (&Module{Name: "CTQMC"}).State())
	assert.Equal(t, HasSignature, (&Module{Name: "CTQMC", Signature: "CTQMC.pyf"}).State())
	assert.Equal(t, "NeedsSignature", NeedsSignature.String())
	assert.Equal(t, "HasSignature", HasSignature.String())
}

func TestStageError_Error(t *testing.T) {
	err := &StageError{Module: "MAXENT", Stage: StageCompile, Err: errors.New("exit status 1")}
	assert.Equal(t, "module MAXENT: compile stage: module compile failed: exit status 1", err.Error())
}
