package utils

import (
	"strings"
)

// ParseNames splits comma or space separated name lists into a slice,
// dropping empty entries and duplicates while keeping first-seen order
func ParseNames(values ...string) []string {
	names := make([]string, 0)
	seen := make(map[string]bool)

	for _, v := range values {
		for _, name := range strings.FieldsFunc(v, isSeparator) {
			if seen[name] {
				continue
			}

			seen[name] = true
			names = append(names, name)
		}
	}

	return names
}

func isSeparator(r rune) bool {
	return r == ',' || r == ' ' || r == '\t'
}
