package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Norgate-AV/f2mod/internal/install"
)

// flagKeys maps command flags to configuration keys
var flagKeys = map[string]string{
	"runtime":    "runtime",
	"jobs":       "jobs",
	"build-dir":  "build_dir",
	"out-dir":    "out_dir",
	"manifest":   "manifest",
	"no-cache":   "no_cache",
	"no-install": "no_install",
	"enable":     "enable",
	"disable":    "disable",
	"verbose":    "verbose",
	"log-format": "log_format",
}

// Loader handles configuration loading from various sources
type Loader struct {
	v *viper.Viper

	// userConfigDir locates the global config, os.UserConfigDir by default
	userConfigDir func() (string, error)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v:             viper.New(),
		userConfigDir: os.UserConfigDir,
	}
}

// Load layers defaults, the global config, the nearest local config and
// the flags of cmd, then loads the project configuration for projectDir
func (l *Loader) Load(cmd *cobra.Command, projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	l.setupViperDefaults()

	if err := l.loadGlobalConfig(); err != nil {
		return nil, err
	}

	if err := l.loadLocalConfig(abs); err != nil {
		return nil, err
	}

	if err := l.bindCommandFlags(cmd); err != nil {
		return nil, err
	}

	return Load(l.v, abs)
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	l.v.SetDefault("runtime", DefaultRuntime)
	l.v.SetDefault("installer", DefaultInstaller)
	l.v.SetDefault("bootstrap_url", install.DefaultBootstrapURL)
	l.v.SetDefault("download_tools", DefaultDownloadTools)
	l.v.SetDefault("network_timeout", DefaultNetworkTimeout)
	l.v.SetDefault("install_retry_after", DefaultInstallRetryAfter)
	l.v.SetDefault("build_dir", DefaultBuildDir)
	l.v.SetDefault("out_dir", DefaultOutDir)
	l.v.SetDefault("jobs", 0)
	l.v.SetDefault("verbose", DefaultVerbose)
	l.v.SetDefault("log_format", DefaultLogFormat)
}

// loadGlobalConfig loads <UserConfigDir>/f2mod/config.*
func (l *Loader) loadGlobalConfig() error {
	dir, err := l.userConfigDir()
	if err != nil {
		// No home or XDG directory, so there is no global config
		return nil //nolint:nilerr
	}

	return l.merge(FindGlobalConfig(dir))
}

// loadLocalConfig loads the nearest .f2mod.* walking up from dir
func (l *Loader) loadLocalConfig(dir string) error {
	return l.merge(FindLocalConfig(dir))
}

func (l *Loader) merge(path string) error {
	if path == "" {
		return nil
	}

	l.v.SetConfigFile(path)
	if err := l.v.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return nil
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}

		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	return nil
}
