package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the build cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:          "stats [dir]",
		Short:        "Show build cache statistics",
		Args:         cobra.MaximumNArgs(1),
		RunE:         runCacheStats,
		SilenceUsage: true,
	}, &cobra.Command{
		Use:          "clear [dir]",
		Short:        "Remove every cached build and install record",
		Args:         cobra.MaximumNArgs(1),
		RunE:         runCacheClear,
		SilenceUsage: true,
	})

	return cmd
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, projectDir(args))
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.cache.Stats()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Cache: %s\n", a.cache.Root())
	fmt.Fprintf(a.out, "  modules:   %d\n", stats.Entries)
	fmt.Fprintf(a.out, "  installs:  %d\n", stats.Installs)
	fmt.Fprintf(a.out, "  artifacts: %d bytes\n", stats.ArtifactBytes)

	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, projectDir(args))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cache.Clear(); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Cache cleared")

	return nil
}
