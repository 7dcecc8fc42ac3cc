package config

import (
	"os"
	"path/filepath"
)

// Extensions viper reads config files with
var Extensions = []string{"yml", "yaml", "json", "toml"}

// LocalName is the base name of a project config file
const LocalName = ".f2mod"

// FindLocalConfig finds local config file by walking up directories
func FindLocalConfig(dir string) string {
	for {
		if path := findIn(dir, LocalName); path != "" {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}

// FindGlobalConfig returns the config file in <UserConfigDir>/f2mod
func FindGlobalConfig(configDir string) string {
	if configDir == "" {
		return ""
	}

	return findIn(filepath.Join(configDir, "f2mod"), "config")
}

func findIn(dir, base string) string {
	for _, ext := range Extensions {
		path := filepath.Join(dir, base+"."+ext)

		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
