package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/viper"

	"github.com/Norgate-AV/f2mod/internal/install"
	"github.com/Norgate-AV/f2mod/internal/logging"
	"github.com/Norgate-AV/f2mod/internal/manifest"
)

// Default configuration values
const (
	DefaultRuntime           = "python3"
	DefaultInstaller         = install.DefaultInstaller
	DefaultBuildDir          = "build"
	DefaultOutDir            = "."
	DefaultNetworkTimeout    = 2 * time.Minute
	DefaultInstallRetryAfter = time.Hour
	DefaultLogFormat         = logging.FormatConsole
	DefaultVerbose           = false
)

// DefaultDownloadTools are tried in order after the runtime download
var DefaultDownloadTools = []string{"curl", "wget"}

// Holds the configuration options for f2mod
type Config struct {
	// Project directory holding the manifest
	ProjectDir string

	// Interpreter used for probing, installing and generating
	Runtime string

	// Package installer, run as "<runtime> -m <installer>" when possible
	Installer string

	// Generator command line, empty selects "<runtime> -m numpy.f2py"
	Generator string

	BootstrapURL  string
	DownloadTools []string

	NetworkTimeout    time.Duration
	InstallRetryAfter time.Duration

	BuildDir string
	OutDir   string

	// Cache directory, defaults to <build_dir>/.f2mod-cache
	CacheDir string

	// Manifest path, defaults to <project>/f2mod.hcl
	Manifest string

	// Worker count, 0 means one per CPU
	Jobs int

	// Feature toggles switched on by configuration
	Features []string

	Enable  []string
	Disable []string

	NoCache   bool
	NoInstall bool
	Verbose   bool
	LogFormat string
}

// Load reads the configuration from v and validates it
func Load(v *viper.Viper, projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:        projectDir,
		Runtime:           v.GetString("runtime"),
		Installer:         v.GetString("installer"),
		Generator:         v.GetString("generator"),
		BootstrapURL:      v.GetString("bootstrap_url"),
		DownloadTools:     stringSlice(v, "download_tools"),
		NetworkTimeout:    v.GetDuration("network_timeout"),
		InstallRetryAfter: v.GetDuration("install_retry_after"),
		BuildDir:          v.GetString("build_dir"),
		OutDir:            v.GetString("out_dir"),
		CacheDir:          v.GetString("cache_dir"),
		Manifest:          v.GetString("manifest"),
		Jobs:              v.GetInt("jobs"),
		Features:          stringSlice(v, "features"),
		Enable:            stringSlice(v, "enable"),
		Disable:           stringSlice(v, "disable"),
		NoCache:           v.GetBool("no_cache"),
		NoInstall:         v.GetBool("no_install"),
		Verbose:           v.GetBool("verbose"),
		LogFormat:         v.GetString("log_format"),
	}

	// Apply defaults if not set
	if cfg.Runtime == "" {
		cfg.Runtime = DefaultRuntime
	}

	if cfg.Installer == "" {
		cfg.Installer = DefaultInstaller
	}

	if cfg.BuildDir == "" {
		cfg.BuildDir = DefaultBuildDir
	}

	if cfg.OutDir == "" {
		cfg.OutDir = DefaultOutDir
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate resolves paths against the project directory and rejects
// invalid values
func (c *Config) Validate() error {
	if c.ProjectDir == "" {
		c.ProjectDir = "."
	}

	abs, err := filepath.Abs(c.ProjectDir)
	if err != nil {
		return fmt.Errorf("invalid project directory: %w", err)
	}

	c.ProjectDir = abs

	if c.Jobs < 0 {
		return fmt.Errorf("invalid jobs: %d", c.Jobs)
	}

	if c.NetworkTimeout < 0 {
		return fmt.Errorf("invalid network timeout: %s", c.NetworkTimeout)
	}

	if c.InstallRetryAfter < 0 {
		return fmt.Errorf("invalid install retry window: %s", c.InstallRetryAfter)
	}

	if c.LogFormat != logging.FormatConsole && c.LogFormat != logging.FormatJSON {
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}

	for _, name := range c.Enable {
		if slices.Contains(c.Disable, name) {
			return fmt.Errorf("feature %s is both enabled and disabled", name)
		}
	}

	c.BuildDir = c.resolve(c.BuildDir)
	c.OutDir = c.resolve(c.OutDir)

	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.BuildDir, ".f2mod-cache")
	}

	c.CacheDir = c.resolve(c.CacheDir)

	if c.Manifest == "" {
		c.Manifest = manifest.DefaultFileName
	}

	c.Manifest = c.resolve(c.Manifest)

	return nil
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	return filepath.Join(c.ProjectDir, path)
}

// FeatureToggles returns the configured toggles over the built-in ones
func (c *Config) FeatureToggles(defaults map[string]bool) map[string]bool {
	toggles := make(map[string]bool, len(defaults)+len(c.Features))
	for name, on := range defaults {
		toggles[name] = on
	}

	for _, name := range c.Features {
		toggles[name] = true
	}

	return toggles
}

func stringSlice(v *viper.Viper, key string) []string {
	out := v.GetStringSlice(key)
	if len(out) == 0 {
		return nil
	}

	return out
}
