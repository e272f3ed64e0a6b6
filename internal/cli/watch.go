package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"findoutlie/internal/watch"
)

func (a *app) watchCommand() *cobra.Command {
	var flags detectFlags
	var debounce string
	cmd := &cobra.Command{
		Use:   "watch DATA_DIR",
		Short: "Re-run detection whenever images under DATA_DIR change",
		Long: `watch runs detect once, then watches DATA_DIR and re-runs it each time
matching images are created or modified. Unchanged images are replayed from
the cache. It stops on interrupt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("debounce") {
				a.cfg.Watch.Debounce = debounce
			}
			d, closeStore, err := a.detection(cmd, &flags, args[0])
			if err != nil {
				return err
			}
			defer closeStore()
			interval, err := a.cfg.DebounceInterval()
			if err != nil {
				return configErrorf("%v", err)
			}

			ctx := cmd.Context()
			a.detect(ctx, d)
			if ctx.Err() != nil {
				return nil
			}

			w := watch.New(d.DataDir, d.Finder().Match, interval, a.logger)
			for _, dir := range []string{d.cacheDir(), d.cleanDir()} {
				if dir != "" {
					w.Ignore = append(w.Ignore, dir)
				}
			}
			return w.Run(ctx, func(ctx context.Context, changed []string) {
				fmt.Fprintf(a.stdout, "--- %d image(s) changed\n", len(changed))
				a.detect(ctx, d)
			})
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&debounce, "debounce", "", "Quiet period before changes are processed (default from config)")
	return cmd
}

// detect runs one detection inside watch. Failures are logged; the watch
// keeps going.
func (a *app) detect(ctx context.Context, d *Detection) {
	res, err := d.Run(ctx)
	a.result = res
	if err == nil {
		return
	}
	if ExitCode(err) == ExitAnalysisFailure {
		a.logger.Warn("detection failed", zap.String("run_id", res.RunID), zap.Error(err))
		return
	}
	if ctx.Err() == nil {
		a.logger.Error("detection aborted", zap.String("run_id", res.RunID), zap.Error(err))
	}
}
