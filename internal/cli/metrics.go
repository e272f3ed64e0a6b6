package cli

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"findoutlie/internal/detect"
	"findoutlie/internal/metrics"
	"findoutlie/internal/nifti"
	"findoutlie/internal/report"
)

func (a *app) metricsCommand() *cobra.Command {
	var metric string
	var proportion float64
	cmd := &cobra.Command{
		Use:   "metrics FILE",
		Short: "Print the per-volume metric of one image",
		Long: `metrics prints one line per metric value, the DVARS distribution mean of
the image, and the volumes flagged by the IQR detector.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("metric") {
				a.cfg.Detect.Metric = metric
			}
			if cmd.Flags().Changed("iqr-proportion") {
				a.cfg.Detect.IQRProportion = proportion
			}
			kind, err := metrics.ParseKind(a.cfg.Detect.Metric)
			if err != nil {
				return configErrorf("%v", err)
			}
			det, err := detect.NewIQRDetector(a.cfg.Detect.IQRProportion)
			if err != nil {
				return configErrorf("%v", err)
			}

			img, err := nifti.Read(args[0])
			if err != nil {
				return failuref("%v", err)
			}
			values, err := metrics.Compute(kind, img)
			if err != nil {
				return failuref("%s: %v", args[0], err)
			}
			outliers, err := detect.VolumeOutliers(kind, values, det)
			if err != nil {
				return failuref("%s: %v", args[0], err)
			}

			w := bufio.NewWriter(a.stdout)
			fmt.Fprintf(w, "# %s: %d volume(s), metric %s\n", args[0], img.NumVolumes(), kind)
			for i, v := range values {
				fmt.Fprintf(w, "%d\t%.6f\n", i, v)
			}
			if dm, err := metrics.DistributionMean(img); err == nil {
				fmt.Fprintf(w, "dvars distribution mean: %.6f\n", dm)
			} else {
				a.logger.Debug("dvars distribution mean unavailable", zap.Error(err))
			}
			fmt.Fprintf(w, "outliers: %s\n", report.FormatIndices(outliers))
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&metric, "metric", "", "Metric: mean|dvars (default from config)")
	cmd.Flags().Float64Var(&proportion, "iqr-proportion", 0, "IQR multiple for the outlier fences")
	return cmd
}
