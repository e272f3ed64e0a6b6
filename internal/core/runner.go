package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"findoutlie/internal/datavalid"
	"findoutlie/internal/detect"
	"findoutlie/internal/metrics"
	"findoutlie/internal/nifti"
)

// Result is the outcome of a job, computed or replayed from the cache.
type Result struct {
	Job  Job
	Hash JobHash

	// Volumes, Values and Outliers are set for successful detect jobs.
	Volumes  int
	Values   []float64
	Outliers []int

	// Validation is set for successful validate jobs.
	Validation *datavalid.Summary

	FromCache bool

	// Err is the analysis failure of this job. It is not an infrastructure
	// error: other jobs keep running.
	Err error
}

// Failed reports whether the job itself failed.
func (r *Result) Failed() bool { return r != nil && r.Err != nil }

// Runner executes jobs against a data directory.
//
// The execution flow for detect jobs:
//  1. Hash the job (settings + image bytes)
//  2. Check the cache; on a hit return the stored result
//  3. Load the image, compute the metric, run the detector
//  4. Cache successful results
//
// Failed analyses are not cached: a fixed file must be re-examined.
type Runner struct {
	// DataDir is the root that job paths are relative to.
	DataDir string

	Cache  Cache
	Hasher *JobHasher

	// Concurrency bounds parallel hashing inside validate jobs.
	Concurrency int

	Logger *zap.Logger

	// missHashes holds hashes of cache misses for the Run that follows.
	missHashes sync.Map // Job -> keptHash
}

// keptHash is reused only while the file's size and mtime are unchanged.
type keptHash struct {
	hash    JobHash
	size    int64
	modTime time.Time
}

// NewRunner creates a Runner. A nil cache disables caching.
func NewRunner(dataDir string, cache Cache, logger *zap.Logger) *Runner {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		DataDir:     dataDir,
		Cache:       cache,
		Hasher:      NewJobHasher(),
		Concurrency: 1,
		Logger:      logger,
	}
}

// Run executes job, replaying from the cache when possible.
//
// A non-nil error means the run itself could not proceed (cancellation,
// cache I/O). Analysis failures are reported through Result.Err.
func (r *Runner) Run(ctx context.Context, job Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch job.Kind {
	case JobValidate:
		return r.runValidate(ctx, job)
	default:
		return r.runDetect(ctx, job)
	}
}

// Probe returns the cached result for job without computing anything.
// Validate jobs and runners without a cache never hit. The hash of a miss is
// kept for the next Run of the same job.
func (r *Runner) Probe(ctx context.Context, job Job) (*Result, bool, error) {
	if err := job.Validate(); err != nil {
		return nil, false, err
	}
	if _, nop := r.Cache.(NopCache); nop || job.Kind != JobDetect {
		return nil, false, nil
	}
	abs := r.absPath(job.Path)
	hash, err := r.hashJob(job, abs)
	if err != nil {
		// Let Run report the unreadable file as a job failure.
		return nil, false, nil
	}
	res, err := r.lookup(job, hash)
	if err != nil {
		return nil, false, err
	}
	if res == nil {
		r.remember(job, abs, hash)
	}
	return res, res != nil, nil
}

func (r *Runner) hashJob(job Job, abs string) (JobHash, error) {
	if p, ok := r.missHashes.LoadAndDelete(job); ok {
		ph := p.(keptHash)
		if fi, err := os.Stat(abs); err == nil && fi.Size() == ph.size && fi.ModTime().Equal(ph.modTime) {
			return ph.hash, nil
		}
	}
	return r.Hasher.HashJob(&job, abs)
}

func (r *Runner) remember(job Job, abs string, hash JobHash) {
	fi, err := os.Stat(abs)
	if err != nil {
		return
	}
	r.missHashes.Store(job, keptHash{hash: hash, size: fi.Size(), modTime: fi.ModTime()})
}

func (r *Runner) runValidate(ctx context.Context, job Job) (*Result, error) {
	sum, err := datavalid.Validate(ctx, r.DataDir, job.HashList, r.Concurrency)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		r.Logger.Warn("data validation failed", zap.Error(err))
		return &Result{Job: job, Err: err}, nil
	}
	r.Logger.Debug("data validated", zap.String("hash_list", sum.HashList), zap.Int("files", sum.Checked))
	return &Result{Job: job, Validation: sum}, nil
}

func (r *Runner) runDetect(ctx context.Context, job Job) (*Result, error) {
	abs := r.absPath(job.Path)
	hash, err := r.hashJob(job, abs)
	if err != nil {
		return &Result{Job: job, Err: fmt.Errorf("hash %s: %w", job.Path, err)}, nil
	}

	cached, err := r.lookup(job, hash)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := r.analyze(job, abs)
	res.Hash = hash
	if res.Failed() {
		r.Logger.Warn("image analysis failed", zap.String("path", job.Path), zap.Error(res.Err))
		return res, nil
	}

	entry := &CacheEntry{
		Hash:     hash,
		Path:     job.Path,
		Metric:   string(job.Metric),
		Volumes:  res.Volumes,
		Values:   res.Values,
		Outliers: res.Outliers,
	}
	if err := r.Cache.Put(entry); err != nil {
		return nil, fmt.Errorf("caching result: %w", err)
	}
	r.Logger.Debug("image analysed",
		zap.String("path", job.Path),
		zap.Int("volumes", res.Volumes),
		zap.Ints("outliers", res.Outliers))
	return res, nil
}

func (r *Runner) analyze(job Job, abs string) *Result {
	res := &Result{Job: job}
	img, err := nifti.Read(abs)
	if err != nil {
		res.Err = err
		return res
	}
	values, err := metrics.Compute(job.Metric, img)
	if err != nil {
		res.Err = fmt.Errorf("%s: %w", job.Path, err)
		return res
	}
	det, err := detect.NewIQRDetector(job.IQRProportion)
	if err != nil {
		res.Err = err
		return res
	}
	outliers, err := detect.VolumeOutliers(job.Metric, values, det)
	if err != nil {
		res.Err = err
		return res
	}
	res.Volumes = img.NumVolumes()
	res.Values = values
	res.Outliers = outliers
	return res
}

func (r *Runner) lookup(job Job, hash JobHash) (*Result, error) {
	ok, err := r.Cache.Has(hash)
	if err != nil {
		return nil, fmt.Errorf("checking cache: %w", err)
	}
	if !ok {
		return nil, nil
	}
	entry, err := r.Cache.Get(hash)
	if err != nil {
		return nil, fmt.Errorf("retrieving cache entry: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("cache entry disappeared")
	}
	return &Result{
		Job:       job,
		Hash:      hash,
		Volumes:   entry.Volumes,
		Values:    entry.Values,
		Outliers:  entry.Outliers,
		FromCache: true,
	}, nil
}

func (r *Runner) absPath(rel string) string {
	return filepath.Join(r.DataDir, filepath.FromSlash(rel))
}

// CleanedPath returns where Clean writes the cleaned copy of rel.
func CleanedPath(outDir, rel string) string {
	base := rel
	for _, ext := range []string{".nii.gz", ".nii"} {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	return filepath.Join(outDir, filepath.FromSlash(base)+"_clean.nii.gz")
}

// ErrImageChanged means the image on disk no longer matches the analysed one.
var ErrImageChanged = errors.New("image changed since analysis")

// Clean writes a copy of the job's image with the outlier volumes removed and
// returns the written path. The image is only cleaned if its content still
// hashes to res.Hash.
func (r *Runner) Clean(res *Result, outDir string) (string, error) {
	if res == nil || res.Failed() || res.Job.Kind != JobDetect {
		return "", fmt.Errorf("clean requires a successful detect result")
	}
	raw, err := os.ReadFile(r.absPath(res.Job.Path))
	if err != nil {
		return "", err
	}
	hash, err := r.Hasher.ComputeHash(HashInput{
		Metric:        string(res.Job.Metric),
		IQRProportion: res.Job.IQRProportion,
		Path:          res.Job.Path,
		Content:       bytes.NewReader(raw),
	})
	if err != nil {
		return "", err
	}
	if hash != res.Hash {
		return "", fmt.Errorf("%s: %w", res.Job.Path, ErrImageChanged)
	}
	img, err := nifti.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%s: %w", res.Job.Path, err)
	}
	drop := make(map[int]bool, len(res.Outliers))
	for _, o := range res.Outliers {
		drop[o] = true
	}
	keep := make([]int, 0, img.NumVolumes())
	for t := 0; t < img.NumVolumes(); t++ {
		if !drop[t] {
			keep = append(keep, t)
		}
	}
	if len(keep) == 0 {
		return "", fmt.Errorf("%s: every volume is an outlier", res.Job.Path)
	}
	cleaned, err := img.SelectVolumes(keep)
	if err != nil {
		return "", err
	}
	cleaned.Header.SetDescription(fmt.Sprintf("findoutlie: %d outlier volume(s) removed", len(res.Outliers)))
	out := CleanedPath(outDir, res.Job.Path)
	if err := nifti.Write(out, cleaned); err != nil {
		return "", fmt.Errorf("write cleaned image: %w", err)
	}
	return out, nil
}
