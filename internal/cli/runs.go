package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"findoutlie/internal/report"
	"findoutlie/internal/store"
)

func (a *app) runsCommand() *cobra.Command {
	var limit int
	var db string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded detection runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.historyStore(cmd, db)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTATUS\tEXIT\tMETRIC\tDATA DIR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.RunID, r.StartTime.Local().Format(time.DateTime), r.Status, r.ExitCode, r.Metric, r.DataDir)
			}
			return tw.Flush()
		},
	}
	cmd.PersistentFlags().StringVar(&db, "db", "", "Run history database path (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (0 lists all)")

	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run with its per-image outliers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.historyStore(cmd, db)
			if err != nil {
				return err
			}
			defer st.Close()
			return a.showRun(cmd, st, args[0])
		},
	}
	cmd.AddCommand(show)
	return cmd
}

// historyStore opens the run history named by --db or the configuration.
func (a *app) historyStore(cmd *cobra.Command, db string) (*store.Store, error) {
	path := a.cfg.Store.Path
	if cmd.Flags().Changed("db") {
		path = db
	}
	if path == "" {
		return nil, configErrorf("no run history database configured")
	}
	return openStore(path)
}

func (a *app) showRun(cmd *cobra.Command, st *store.Store, runID string) error {
	ctx := cmd.Context()
	run, err := st.LoadRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return invalidInvocationf("unknown run %q", runID)
	}
	if err != nil {
		return err
	}
	files, err := st.LoadOutliers(ctx, runID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "run:\t%s\n", run.RunID)
	fmt.Fprintf(tw, "data dir:\t%s\n", run.DataDir)
	fmt.Fprintf(tw, "status:\t%s (exit %d)\n", run.Status, run.ExitCode)
	fmt.Fprintf(tw, "metric:\t%s (iqr proportion %g)\n", run.Metric, run.IQRProportion)
	fmt.Fprintf(tw, "mode:\t%s\n", run.Mode)
	fmt.Fprintf(tw, "started:\t%s\n", run.StartTime.Local().Format(time.RFC3339))
	if run.EndTime != nil {
		fmt.Fprintf(tw, "finished:\t%s\n", run.EndTime.Local().Format(time.RFC3339))
	}
	if run.PreviousRunID != nil {
		fmt.Fprintf(tw, "previous:\t%s\n", *run.PreviousRunID)
	}
	if run.ReportHash != "" {
		fmt.Fprintf(tw, "report:\tsha256:%s\n", run.ReportHash)
	}
	f, err := st.LoadFailure(ctx, runID)
	switch {
	case err == nil:
		fmt.Fprintf(tw, "failure:\t%s %s: %s\n", f.FailureClass, f.ErrorCode, f.ErrorMessage)
	case errors.Is(err, store.ErrNotFound):
	default:
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, o := range files {
		switch report.Status(o.Status) {
		case report.StatusFailed:
			fmt.Fprintf(a.stdout, "%s: FAILED: %s\n", o.Path, o.Error)
		case report.StatusSkipped:
			fmt.Fprintf(a.stdout, "%s: SKIPPED\n", o.Path)
		default:
			fmt.Fprintf(a.stdout, "%s: %s\n", o.Path, report.FormatIndices(o.Outliers))
		}
	}
	return nil
}
