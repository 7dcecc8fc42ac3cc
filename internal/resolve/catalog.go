package resolve

// Library describes how to introspect one importable library
type Library struct {
	Name string

	// Import is the module path handed to the runtime's import statement
	Import string

	// VersionExpr evaluates to the version string, with the module bound to m
	VersionExpr string

	// IncludeExpr optionally evaluates to the C-level include directory
	IncludeExpr string

	// ExtraPathExprs evaluate to further paths recorded on the Record
	ExtraPathExprs []string
}

// Catalog indexes known libraries by name
type Catalog map[string]Library

// DefaultCatalog covers the array, scientific-algorithms, structured-file-IO,
// distributed-communication and structured-configuration libraries the
// binding modules are built against.
func DefaultCatalog() Catalog {
	return Catalog{
		"numpy": {
			Name:        "numpy",
			Import:      "numpy",
			VersionExpr: "m.__version__",
			IncludeExpr: "m.get_include()",
		},
		"scipy": {
			Name:        "scipy",
			Import:      "scipy",
			VersionExpr: "m.__version__",
		},
		"h5py": {
			Name:           "h5py",
			Import:         "h5py",
			VersionExpr:    "m.__version__",
			ExtraPathExprs: []string{"m.__path__[0]"},
		},
		"mpi4py": {
			Name:        "mpi4py",
			Import:      "mpi4py",
			VersionExpr: "m.__version__",
			IncludeExpr: "m.get_include()",
		},
		"configobj": {
			Name:        "configobj",
			Import:      "configobj",
			VersionExpr: "m.__version__",
		},
	}
}

// Lookup returns the catalog entry for name, or a generic entry that
// imports name and reads __version__.
func (c Catalog) Lookup(name string) Library {
	if lib, ok := c[name]; ok {
		return lib
	}

	return Library{
		Name:        name,
		Import:      name,
		VersionExpr: "m.__version__",
	}
}

func (l Library) pathExprs() []string {
	var exprs []string
	if l.IncludeExpr != "" {
		exprs = append(exprs, l.IncludeExpr)
	}

	return append(exprs, l.ExtraPathExprs...)
}
