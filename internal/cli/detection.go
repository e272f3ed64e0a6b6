package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"findoutlie/internal/config"
	"findoutlie/internal/core"
	"findoutlie/internal/dag"
	"findoutlie/internal/metrics"
	"findoutlie/internal/report"
	"findoutlie/internal/store"
)

// Detection is one configured outlier detection over a data directory.
// Config must be valid (config.Config.Validate).
type Detection struct {
	DataDir string
	Config  *config.Config
	Logger  *zap.Logger
	Out     io.Writer

	// Store records run history. Nil disables it.
	Store *store.Store
}

func (d *Detection) cacheDir() string {
	return config.ResolvePath(d.DataDir, d.Config.Cache.Dir)
}

func (d *Detection) cleanDir() string {
	return config.ResolvePath(d.DataDir, d.Config.Detect.CleanDir)
}

// Finder returns the image finder for this detection. Cache and clean
// directories inside the data directory are never treated as input.
func (d *Detection) Finder() *core.Finder {
	f := core.NewFinder(d.DataDir, d.Config.Detect.Pattern)
	for _, dir := range []string{d.cacheDir(), d.cleanDir()} {
		if rel, ok := relInside(d.DataDir, dir); ok {
			f.Exclude = append(f.Exclude, rel)
		}
	}
	return f
}

// relInside returns dir relative to root, slash separated, when dir lies
// strictly inside root.
func relInside(root, dir string) (string, bool) {
	if dir == "" {
		return "", false
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (d *Detection) cache() (core.Cache, error) {
	mode, err := store.ParseMode(d.Config.Cache.Mode)
	if err != nil {
		return nil, err
	}
	if mode == store.ModeClean {
		return core.NopCache{}, nil
	}
	return core.NewFileCache(d.cacheDir()), nil
}

// Run discovers images, runs the analysis graph, prints the report and
// records the run. The returned error carries the exit code (see ExitCode).
func (d *Detection) Run(ctx context.Context) (res CLIResult, runErr error) {
	res.ExitCode = ExitInternalError
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := d.Config
	metric := metrics.Kind(cfg.Detect.Metric)

	run := store.Run{
		RunID:         store.NewRunID(),
		DataDir:       d.DataDir,
		Metric:        string(metric),
		IQRProportion: cfg.Detect.IQRProportion,
		Mode:          store.Mode(cfg.Cache.Mode),
		StartTime:     time.Now().UTC(),
		Status:        store.RunRunning,
	}
	res.RunID = run.RunID
	logger = logger.With(zap.String("run_id", run.RunID))

	if d.Store != nil {
		prev, err := d.Store.LatestRun(ctx, d.DataDir)
		switch {
		case err == nil:
			id := prev.RunID
			run.PreviousRunID = &id
		case errors.Is(err, store.ErrNotFound):
		default:
			return res, fmt.Errorf("look up previous run: %w", err)
		}
		if err := d.Store.SaveRun(ctx, run); err != nil {
			return res, fmt.Errorf("record run: %w", err)
		}
	}

	// finish stores the terminal state. History is best effort once the
	// analysis has produced a result.
	finish := func(exitCode int, rep *report.Report, cause error) {
		if d.Store == nil {
			return
		}
		// The run must be closed even when ctx was cancelled.
		sctx := context.WithoutCancel(ctx)
		var reportHash string
		if rep != nil {
			if h, err := rep.Hash(); err == nil {
				reportHash = h
			}
			if err := d.Store.SaveOutliers(sctx, run.RunID, *rep); err != nil {
				logger.Warn("failed to record outliers", zap.Error(err))
			}
		}
		if cause != nil {
			if err := d.Store.RecordFailure(sctx, run.RunID, cause); err != nil {
				logger.Warn("failed to record failure", zap.Error(err))
			}
		}
		status := store.RunSucceeded
		if exitCode != ExitSuccess {
			status = store.RunFailed
		}
		if err := d.Store.FinishRun(sctx, run.RunID, status, exitCode, reportHash, time.Now()); err != nil {
			logger.Warn("failed to finish run", zap.Error(err))
		}
	}

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("panic: %v", r)
			res.ExitCode = ExitInternalError
			finish(ExitInternalError, nil, &store.SystemFailureError{Code: "Panic", Message: runErr.Error(), Cause: runErr})
		}
	}()

	systemFailure := func(code string, err error) (CLIResult, error) {
		finish(ExitInternalError, nil, &store.SystemFailureError{Code: code, Message: err.Error(), Cause: err})
		return res, err
	}

	images, err := d.Finder().Find()
	if err != nil {
		return systemFailure("Discovery", err)
	}
	logger.Info("images discovered", zap.String("data_dir", d.DataDir), zap.Int("images", len(images)))

	graph, err := BuildGraph(GraphOptions{
		Images:        images,
		Metric:        metric,
		IQRProportion: cfg.Detect.IQRProportion,
		Validate:      cfg.Validation.Enabled,
		HashList:      cfg.Validation.HashList,
	})
	if err != nil {
		return systemFailure("Graph", err)
	}

	var rep report.Report
	var runner *core.Runner
	var gr *dag.GraphResult
	if graph == nil {
		rep = report.Report{DataDir: d.DataDir, Metric: string(metric), IQRProportion: cfg.Detect.IQRProportion}
		rep.Canonicalize()
	} else {
		cache, err := d.cache()
		if err != nil {
			return systemFailure("Cache", err)
		}
		runner = core.NewRunner(d.DataDir, cache, logger)
		runner.Concurrency = cfg.Detect.Concurrency

		exec, err := dag.NewExecutor(graph, runner)
		if err != nil {
			return systemFailure("Executor", err)
		}
		rec := report.NewRecorder()
		exec.Observer = dag.Observers{rec, dag.LogObserver{Logger: logger}}

		if cfg.Detect.Concurrency > 1 {
			gr, err = exec.RunParallel(ctx, cfg.Detect.Concurrency)
		} else {
			gr, err = exec.RunSerial(ctx)
		}
		if err != nil {
			code := "EngineError"
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				code = "Cancelled"
			}
			return systemFailure(code, err)
		}
		run.GraphHash = string(gr.GraphHash)
		if d.Store != nil {
			if err := d.Store.SaveRun(ctx, run); err != nil {
				logger.Warn("failed to record graph hash", zap.Error(err))
			}
		}
		rep = rec.Report(string(gr.GraphHash), d.DataDir, string(metric), cfg.Detect.IQRProportion)
	}

	var cleanFailures []string
	if dir := d.cleanDir(); dir != "" && gr != nil {
		names := make([]string, 0, len(gr.Results))
		for name := range gr.Results {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r := gr.Results[name]
			if r.Job.Kind != core.JobDetect || r.Failed() {
				continue
			}
			out, err := runner.Clean(r, dir)
			if err != nil {
				logger.Warn("failed to write cleaned image", zap.String("path", r.Job.Path), zap.Error(err))
				cleanFailures = append(cleanFailures, fmt.Sprintf("%s: %v", r.Job.Path, err))
				continue
			}
			logger.Debug("cleaned image written", zap.String("path", out), zap.Int("removed", len(r.Outliers)))
		}
	}

	if cfg.Detect.Report != "" {
		if err := report.WriteJSON(cfg.Detect.Report, rep); err != nil {
			return systemFailure("ReportWrite", err)
		}
	}
	out := d.Out
	if out == nil {
		out = io.Discard
	}
	if err := report.WriteText(out, rep); err != nil {
		return systemFailure("ReportWrite", err)
	}
	res.Report = &rep

	exitCode, cause := classify(rep, cleanFailures)
	finish(exitCode, &rep, cause)
	res.ExitCode = exitCode
	if cause != nil {
		return res, failuref("%v", cause)
	}
	logger.Info("detection finished", zap.Int("images", len(rep.Files)))
	return res, nil
}

// classify maps a finished report to its exit code and recorded failure.
func classify(rep report.Report, cleanFailures []string) (int, error) {
	if v := rep.Validation; v != nil && v.Status == report.StatusFailed {
		return ExitAnalysisFailure, &store.ValidationFailureError{Code: "HashMismatch", Message: v.Error}
	}
	if failed := rep.FailedFiles(); len(failed) > 0 {
		return ExitAnalysisFailure, &store.AnalysisFailureError{
			NodeID:  failed[0],
			Code:    "ImageFailed",
			Message: fmt.Sprintf("%d image(s) could not be analysed", len(failed)),
		}
	}
	if len(cleanFailures) > 0 {
		return ExitAnalysisFailure, &store.AnalysisFailureError{
			Code:    "CleanFailed",
			Message: strings.Join(cleanFailures, "; "),
		}
	}
	return ExitSuccess, nil
}
