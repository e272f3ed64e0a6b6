package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"findoutlie/internal/config"
	"findoutlie/internal/store"
)

// detectFlags holds the detect and watch flags. Only flags that were set on
// the command line override the configuration.
type detectFlags struct {
	pattern     string
	metric      string
	proportion  float64
	validate    bool
	hashList    string
	mode        string
	cacheDir    string
	concurrency int
	report      string
	cleanDir    string
	db          string
	noDB        bool
}

func (f *detectFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.pattern, "pattern", "", "Image glob relative to the data directory (default from config)")
	fs.StringVar(&f.metric, "metric", "", "Outlier metric: mean|dvars")
	fs.Float64Var(&f.proportion, "iqr-proportion", 0, "IQR multiple for the outlier fences")
	fs.BoolVar(&f.validate, "validate", false, "Check the hash list before detection")
	fs.StringVar(&f.hashList, "hash-list", "", "Hash list path, relative to the data directory unless absolute")
	fs.StringVar(&f.mode, "mode", "", "Cache mode: clean|incremental")
	fs.StringVar(&f.cacheDir, "cache-dir", "", "Result cache directory, relative to the data directory unless absolute")
	fs.IntVar(&f.concurrency, "concurrency", 0, "Number of images analysed in parallel")
	fs.StringVar(&f.report, "report", "", "Write the JSON report to this path")
	fs.StringVar(&f.cleanDir, "clean-dir", "", "Write images with outlier volumes removed under this directory")
	fs.StringVar(&f.db, "db", "", "Run history database path")
	fs.BoolVar(&f.noDB, "no-db", false, "Do not record run history")
}

// apply copies the changed flags into cfg.
func (f *detectFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("pattern") {
		cfg.Detect.Pattern = f.pattern
	}
	if fs.Changed("metric") {
		cfg.Detect.Metric = f.metric
	}
	if fs.Changed("iqr-proportion") {
		cfg.Detect.IQRProportion = f.proportion
	}
	if fs.Changed("validate") {
		cfg.Validation.Enabled = f.validate
	}
	if fs.Changed("hash-list") {
		cfg.Validation.HashList = f.hashList
		if !fs.Changed("validate") {
			cfg.Validation.Enabled = true
		}
	}
	if fs.Changed("mode") {
		cfg.Cache.Mode = f.mode
	}
	if fs.Changed("cache-dir") {
		cfg.Cache.Dir = f.cacheDir
	}
	if fs.Changed("concurrency") {
		cfg.Detect.Concurrency = f.concurrency
	}
	if fs.Changed("report") {
		cfg.Detect.Report = f.report
	}
	if fs.Changed("clean-dir") {
		cfg.Detect.CleanDir = f.cleanDir
	}
	if fs.Changed("db") {
		cfg.Store.Path = f.db
	}
	if fs.Changed("no-db") {
		cfg.Store.Disabled = f.noDB
	}
}

func (a *app) detectCommand() *cobra.Command {
	var flags detectFlags
	cmd := &cobra.Command{
		Use:   "detect DATA_DIR",
		Short: "Find outlier volumes in every image of a data directory",
		Long: `detect discovers the images under DATA_DIR, optionally validates the
directory against its hash list, and prints the outlier volume indices of each
image. Unchanged images are replayed from the result cache in incremental mode.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, closeStore, err := a.detection(cmd, &flags, args[0])
			if err != nil {
				return err
			}
			defer closeStore()
			res, err := d.Run(cmd.Context())
			a.result = res
			return err
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

// detection resolves the data directory and settings shared by detect and
// watch. The returned func closes the run history store.
func (a *app) detection(cmd *cobra.Command, flags *detectFlags, dataDir string) (*Detection, func(), error) {
	abs, err := dataDirArg(dataDir)
	if err != nil {
		return nil, nil, err
	}
	flags.apply(cmd.Flags(), a.cfg)
	if err := a.cfg.Validate(); err != nil {
		a.recordConfigFailure(cmd.Context(), abs, err)
		return nil, nil, configErrorf("invalid configuration: %v", err)
	}

	d := &Detection{
		DataDir: abs,
		Config:  a.cfg,
		Logger:  a.logger,
		Out:     a.stdout,
	}
	closeStore := func() {}
	if !a.cfg.Store.Disabled {
		st, err := openStore(a.cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		d.Store = st
		a.logger.Debug("run history opened", zap.String("db", st.Path()))
		closeStore = func() {
			if err := st.Close(); err != nil {
				a.logger.Warn("failed to close run history", zap.String("db", st.Path()), zap.Error(err))
			}
		}
	}
	return d, closeStore, nil
}

// dataDirArg returns the absolute, existing data directory named by arg.
func dataDirArg(arg string) (string, error) {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", invalidInvocationf("data directory %q: %v", arg, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", invalidInvocationf("data directory %q: %v", arg, err)
	}
	if !info.IsDir() {
		return "", invalidInvocationf("data directory %q is not a directory", arg)
	}
	return abs, nil
}

// recordConfigFailure stores a failed run for an unusable configuration.
// It is best effort: the configuration may itself name an unusable database.
func (a *app) recordConfigFailure(ctx context.Context, dataDir string, cause error) {
	if a.cfg.Store.Disabled || strings.TrimSpace(a.cfg.Store.Path) == "" {
		return
	}
	st, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		a.logger.Debug("run history unavailable", zap.Error(err))
		return
	}
	defer st.Close()

	mode, err := store.ParseMode(a.cfg.Cache.Mode)
	if err != nil {
		mode = store.ModeIncremental
	}
	now := time.Now().UTC()
	run := store.Run{
		RunID:         store.NewRunID(),
		DataDir:       dataDir,
		Metric:        a.cfg.Detect.Metric,
		IQRProportion: a.cfg.Detect.IQRProportion,
		Mode:          mode,
		StartTime:     now,
		EndTime:       &now,
		Status:        store.RunFailed,
		ExitCode:      ExitConfigError,
	}
	if err := st.SaveRun(ctx, run); err != nil {
		a.logger.Warn("failed to record run", zap.Error(err))
		return
	}
	a.result.RunID = run.RunID
	failure := &store.ConfigFailureError{Code: "InvalidConfig", Message: cause.Error(), Cause: cause}
	if err := st.RecordFailure(ctx, run.RunID, failure); err != nil {
		a.logger.Warn("failed to record failure", zap.Error(err))
	}
}

func openStore(path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, configErrorf("run history %s: %v", path, err)
	}
	return st, nil
}
