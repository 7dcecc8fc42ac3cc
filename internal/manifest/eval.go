package manifest

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/Norgate-AV/f2mod/internal/resolve"
	"github.com/Norgate-AV/f2mod/internal/semver"
)

// Facts are the configure results visible to module expressions
type Facts struct {
	Runtime  *resolve.Record
	Deps     []*resolve.Record
	Features map[string]bool
	BuildDir string
}

// EvalContext builds the variables and functions for module decoding:
//
//	runtime.{version,include,found}
//	dep.<name>.{found,version,version_decimal,include,paths}
//	feature.<name>
//	build_dir
//	version_ge(a, b), version_cmp(a, b)
//
// Every declared requirement has a dep entry, found or not.
func (m *Manifest) EvalContext(f Facts) *hcl.EvalContext {
	deps := make(map[string]cty.Value)
	for _, req := range m.Requirements {
		deps[req.Name] = recordValue(&resolve.Record{Name: req.Name})
	}

	for _, rec := range f.Deps {
		if rec != nil && rec.Name != resolve.RuntimeName {
			deps[rec.Name] = recordValue(rec)
		}
	}

	runtime := &resolve.Record{Name: resolve.RuntimeName}
	if f.Runtime != nil {
		runtime = f.Runtime
	}

	features := make(map[string]cty.Value, len(f.Features))
	for name, on := range f.Features {
		features[name] = cty.BoolVal(on)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"runtime": cty.ObjectVal(map[string]cty.Value{
				"version": cty.StringVal(versionString(runtime)),
				"include": cty.StringVal(runtime.IncludePath),
				"found":   cty.BoolVal(runtime.Found),
			}),
			"dep":       objectOrEmpty(deps),
			"feature":   objectOrEmpty(features),
			"build_dir": cty.StringVal(f.BuildDir),
		},
		Functions: Functions(),
	}
}

// Functions returns the manifest functions
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"version_ge":  VersionGeFunc,
		"version_cmp": VersionCmpFunc,
	}
}

// VersionGeFunc reports whether version a is at least b. An empty a, as
// for a library that was not found, is never at least anything.
var VersionGeFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "a", Type: cty.String},
		{Name: "b", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		if args[0].AsString() == "" {
			return cty.False, nil
		}

		a, b, err := parsePair(args)
		if err != nil {
			return cty.UnknownVal(cty.Bool), err
		}

		return cty.BoolVal(a.AtLeast(b)), nil
	},
})

// VersionCmpFunc returns -1, 0 or 1 comparing version a to b
var VersionCmpFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "a", Type: cty.String},
		{Name: "b", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		a, b, err := parsePair(args)
		if err != nil {
			return cty.UnknownVal(cty.Number), err
		}

		return cty.NumberIntVal(int64(semver.Compare(a, b))), nil
	},
})

func parsePair(args []cty.Value) (semver.Triple, semver.Triple, error) {
	a, err := semver.Parse(args[0].AsString())
	if err != nil {
		return semver.Triple{}, semver.Triple{}, function.NewArgError(0, err)
	}

	b, err := semver.Parse(args[1].AsString())
	if err != nil {
		return semver.Triple{}, semver.Triple{}, function.NewArgError(1, err)
	}

	return a, b, nil
}

func recordValue(rec *resolve.Record) cty.Value {
	var decimal int64
	if rec.Version != nil {
		decimal = int64(rec.Version.Decimal())
	}

	paths := cty.ListValEmpty(cty.String)
	if len(rec.ExtraPaths) > 0 {
		vals := make([]cty.Value, len(rec.ExtraPaths))
		for i, p := range rec.ExtraPaths {
			vals[i] = cty.StringVal(p)
		}

		paths = cty.ListVal(vals)
	}

	return cty.ObjectVal(map[string]cty.Value{
		"found":           cty.BoolVal(rec.Found),
		"version":         cty.StringVal(versionString(rec)),
		"version_decimal": cty.NumberIntVal(decimal),
		"include":         cty.StringVal(rec.IncludePath),
		"paths":           paths,
	})
}

func objectOrEmpty(vals map[string]cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.EmptyObjectVal
	}

	return cty.ObjectVal(vals)
}

func versionString(rec *resolve.Record) string {
	if rec.Version == nil {
		return ""
	}

	return rec.Version.String()
}
