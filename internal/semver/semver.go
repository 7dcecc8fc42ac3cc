// Package semver parses the dotted version strings reported by runtime
// introspection into comparable triples.
//
// Only the numeric prefix of each component is significant. Pre-release and
// local suffixes ("rc1", "dev0", "+git") are dropped rather than ordered, so
// "1.2.3rc1" and "1.2.3" compare equal.
package semver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedVersion is returned when a string has no numeric leading component
var ErrMalformedVersion = errors.New("malformed version")

// Triple is a canonical major.minor.patch version
type Triple struct {
	Major int `json:"major" yaml:"major"`
	Minor int `json:"minor" yaml:"minor"`
	Patch int `json:"patch" yaml:"patch"`
}

// Ordering is the result of Compare
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "LESS"
	case Equal:
		return "EQUAL"
	case Greater:
		return "GREATER"
	}

	return fmt.Sprintf("Ordering(%d)", int(o))
}

// Decimal encodes the triple as major*10000 + minor*100 + patch.
// Ordering of the encoding matches (major, minor, patch) ordering while minor
// and patch stay below 100.
func (t Triple) Decimal() int {
	return t.Major*10000 + t.Minor*100 + t.Patch
}

func (t Triple) String() string {
	return fmt.Sprintf("%d.%d.%d", t.Major, t.Minor, t.Patch)
}

// AtLeast reports whether t >= min
func (t Triple) AtLeast(min Triple) bool {
	return Compare(t, min) != Less
}

// Parse extracts a Triple from a version string such as "1.17.0",
// "1.10" or "2.0.0rc1". Missing trailing components are zero.
func Parse(s string) (Triple, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "v")

	parts := strings.SplitN(s, ".", 4)

	var nums [3]int
	for i := 0; i < len(parts) && i < 3; i++ {
		digits := leadingDigits(parts[i])
		if digits == "" {
			if i == 0 {
				return Triple{}, fmt.Errorf("%w: %q", ErrMalformedVersion, s)
			}

			break
		}

		n, err := strconv.Atoi(digits)
		if err != nil {
			return Triple{}, fmt.Errorf("%w: %q: %v", ErrMalformedVersion, s, err)
		}

		nums[i] = n

		// a suffix on this component ends the numeric prefix
		if len(digits) != len(parts[i]) {
			break
		}
	}

	return Triple{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse is like Parse but panics on error.
// Use only for constants and tests.
func MustParse(s string) Triple {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return t
}

// Compare orders a and b by their decimal encoding
func Compare(a, b Triple) Ordering {
	da, db := a.Decimal(), b.Decimal()

	switch {
	case da < db:
		return Less
	case da > db:
		return Greater
	default:
		return Equal
	}
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}

	return s[:end]
}
