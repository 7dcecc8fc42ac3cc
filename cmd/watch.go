package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Norgate-AV/f2mod/internal/manifest"
	"github.com/Norgate-AV/f2mod/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "watch [dir] [module...]",
		Short:        "Build, then rebuild modules whose sources change",
		RunE:         runWatch,
		SilenceUsage: true,
	}

	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a rebuild")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir, modules := splitArgs(args)

	a, err := newApp(cmd, dir)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := a.configure(ctx)
	if err != nil {
		return err
	}

	plan, report, err := a.build(ctx, s, modules)
	a.printReport(plan, report)

	if plan == nil {
		return err
	}

	if err != nil {
		a.log.Warn("initial build failed, watching for changes", zap.Error(err))
	}

	debounce, _ := cmd.Flags().GetDuration("debounce")

	w, err := watch.New(watchSources(plan.Targets), debounce, a.log)
	if err != nil {
		return err
	}
	defer w.Close()

	a.log.Info("watching for changes", zap.Int("modules", len(plan.Targets)))

	return w.Run(ctx, func(ctx context.Context, changed []string) error {
		plan, report, err := a.build(ctx, s, changed)
		a.printReport(plan, report)

		return err
	})
}

func watchSources(mods []manifest.Module) map[string][]string {
	sources := make(map[string][]string, len(mods))
	for _, m := range mods {
		paths := append([]string(nil), m.Sources...)
		if m.Signature != "" {
			paths = append(paths, m.Signature)
		}

		sources[m.Name] = paths
	}

	return sources
}
