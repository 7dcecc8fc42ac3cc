package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/f2mod/internal/utils"
)

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build [dir] [module...]",
		Short: "Configure, then build binding modules",
		Long: `Configure the project, then generate and compile every declared binding
module, or only the named ones. Unchanged modules are not rebuilt.`,
		RunE:         runBuild,
		SilenceUsage: true,
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	dir, modules := splitArgs(args)

	a, err := newApp(cmd, dir)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.configure(cmd.Context())
	if err != nil {
		return err
	}

	plan, report, err := a.build(cmd.Context(), s, modules)
	a.printReport(plan, report)

	return err
}

// splitArgs takes the first argument as the project directory when it
// names one, the rest are module names
func splitArgs(args []string) (string, []string) {
	if len(args) == 0 {
		return ".", nil
	}

	if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
		return args[0], utils.ParseNames(args[1:]...)
	}

	return ".", utils.ParseNames(args...)
}
