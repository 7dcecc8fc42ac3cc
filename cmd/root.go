package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/f2mod/internal/config"
	"github.com/Norgate-AV/f2mod/internal/version"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "f2mod",
		Short: "Fortran binding module builder",
		Long: `Configure and build runtime-loadable binding modules from Fortran sources.

f2mod locates the interpreter and the libraries a project needs, installs
missing required libraries with the package installer, and drives the
binding generator to produce one loadable module per declared target.`,
		SilenceUsage: true,
		Version:      fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime),
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", config.DefaultVerbose, "Verbose output")
	flags.IntP("jobs", "j", 0, "Number of parallel jobs (0 means one per CPU)")
	flags.StringP("build-dir", "B", "", "Build directory (default \"build\")")
	flags.StringP("out-dir", "o", "", "Directory receiving the built modules")
	flags.StringP("manifest", "m", "", "Project manifest (default \"f2mod.hcl\")")
	flags.String("runtime", "", "Interpreter to configure and build with (default \"python3\")")
	flags.Bool("no-cache", false, "Disable build cache")
	flags.Bool("no-install", false, "Do not install missing required libraries")
	flags.StringSlice("enable", nil, "Feature toggles to switch on")
	flags.StringSlice("disable", nil, "Feature toggles to switch off")
	flags.String("log-format", "", "Log format: console or json")

	rootCmd.AddCommand(
		newConfigureCmd(),
		newBuildCmd(),
		newWatchCmd(),
		newCacheCmd(),
	)

	return rootCmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(ExitCode(err))
	}
}
