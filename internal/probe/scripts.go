package probe

import (
	"fmt"
	"strings"
)

// RuntimeScript prints the interpreter version, its C include directory and
// its library directory.
const RuntimeScript = `import sys
try:
    import sysconfig
    v = sys.version_info
    out = ["%d.%d.%d" % (v[0], v[1], v[2]), sysconfig.get_paths()["include"], sysconfig.get_config_var("LIBDIR") or ""]
except Exception:
    sys.exit(1)
print("\n".join(out))
`

// ExtSuffixScript prints the suffix used for loadable extension modules
const ExtSuffixScript = `import sys
try:
    import sysconfig
    s = sysconfig.get_config_var("EXT_SUFFIX") or sysconfig.get_config_var("SO")
except Exception:
    sys.exit(1)
print(s)
`

// DownloadScript fetches argv[1] into argv[2] using the runtime's own
// networking.
const DownloadScript = `import sys
try:
    from urllib.request import urlretrieve
    urlretrieve(sys.argv[1], sys.argv[2])
except Exception:
    sys.exit(1)
`

// ImportScript builds a script that imports module and prints the value of
// versionExpr followed by each of pathExprs, one per line. Expressions are
// evaluated with the imported module bound to the name "m".
func ImportScript(module, versionExpr string, pathExprs ...string) string {
	exprs := append([]string{versionExpr}, pathExprs...)
	for i, e := range exprs {
		exprs[i] = "str(" + e + ")"
	}

	var b strings.Builder
	b.WriteString("import sys\n")
	b.WriteString("try:\n")
	fmt.Fprintf(&b, "    import %s as m\n", module)
	fmt.Fprintf(&b, "    out = [%s]\n", strings.Join(exprs, ", "))
	b.WriteString("except Exception:\n")
	b.WriteString("    sys.exit(1)\n")
	b.WriteString("print(\"\\n\".join(out))\n")

	return b.String()
}
