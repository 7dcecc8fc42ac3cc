package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/f2mod/internal/configure"
)

func newConfigureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure [dir]",
		Short: "Resolve the runtime and the required libraries",
		Long: `Locate the interpreter, probe every tracked library, install missing
required libraries and write the configure result into the build directory.`,
		Args:         cobra.MaximumNArgs(1),
		RunE:         runConfigure,
		SilenceUsage: true,
	}

	cmd.Flags().Bool("show", false, "Print the last configure result without probing")

	return cmd
}

func runConfigure(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, projectDir(args))
	if err != nil {
		return err
	}
	defer a.Close()

	if show, _ := cmd.Flags().GetBool("show"); show {
		result, err := configure.ReadFile(a.resultFile())
		if err != nil {
			return configureError(fmt.Errorf("no configure result, run configure first: %w", err))
		}

		fmt.Fprint(a.out, result.Summary())

		return nil
	}

	s, err := a.configure(cmd.Context())
	if s != nil && s.result != nil {
		fmt.Fprint(a.out, s.result.Summary())
	}

	var fatal *configure.FatalError
	if errors.As(err, &fatal) {
		fmt.Fprintf(cmd.ErrOrStderr(), "missing required dependencies: %v\n", fatal.Names())
	}

	return err
}

func projectDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}

	return "."
}
