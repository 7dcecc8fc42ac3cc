package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// HashInputs creates a unique hash for a module build.
// The hash is based on:
// - Content of every input file, in the given order
// - Build options, in the given order since link order is significant
// - Extension suffix
func HashInputs(inputs []string, options []string, suffix string) (string, error) {
	h := sha256.New()

	for _, input := range inputs {
		f, err := os.Open(input)
		if err != nil {
			return "", fmt.Errorf("failed to open input file: %w", err)
		}

		// file boundary, so moving bytes between files changes the hash
		h.Write([]byte(input))
		h.Write([]byte{0x00})

		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("failed to hash input file: %w", err)
		}

		h.Write([]byte{0x00})
	}

	h.Write([]byte(strings.Join(options, "|")))
	h.Write([]byte{0x00})

	h.Write([]byte(suffix))

	return hex.EncodeToString(h.Sum(nil)), nil
}
