package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyArtifacts copies the named build outputs from sourceDir into destDir
func CopyArtifacts(sourceDir, destDir string, outputs []string) error {
	return transfer(sourceDir, destDir, outputs, "copy")
}

// RestoreArtifacts puts cached outputs back into the output directory
func RestoreArtifacts(cacheDir, destDir string, outputs []string) error {
	return transfer(cacheDir, destDir, outputs, "restore")
}

func transfer(from, to string, names []string, verb string) error {
	if err := os.MkdirAll(to, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", to, err)
	}

	for _, name := range names {
		if err := copyFile(filepath.Join(from, name), filepath.Join(to, name)); err != nil {
			return fmt.Errorf("failed to %s %s: %w", verb, name, err)
		}
	}

	return nil
}

// copyFile writes dst through a temporary sibling so a reader never sees a
// partial module, and keeps the mode of src
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, copyErr := io.Copy(tmp, in)
	closeErr := tmp.Close()

	switch {
	case copyErr != nil:
		return copyErr
	case closeErr != nil:
		return closeErr
	}

	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dst)
}
