package core

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"findoutlie/internal/datavalid"
	"findoutlie/internal/metrics"
	"findoutlie/internal/nifti"
)

// writeSeries writes a 2x2x1 image whose volume t is filled with levels[t].
func writeSeries(t *testing.T, path string, levels ...float64) {
	t.Helper()
	data := make([]float64, 0, 4*len(levels))
	for _, l := range levels {
		data = append(data, l, l, l, l)
	}
	img, err := nifti.New([4]int{2, 2, 1, len(levels)}, data)
	if err != nil {
		t.Fatalf("nifti.New: %v", err)
	}
	if err := nifti.Write(path, img); err != nil {
		t.Fatalf("nifti.Write: %v", err)
	}
}

func detectJob(path string, metric metrics.Kind) Job {
	return DetectJobs([]string{path}, metric, 1.5)[0]
}

func TestRunner_DetectsMeanOutlier(t *testing.T) {
	dir := t.TempDir()
	writeSeries(t, filepath.Join(dir, "sub-01.nii.gz"), 10, 10, 11, 10, 40, 10, 11, 10)

	r := NewRunner(dir, NewMemoryCache(), nil)
	res, err := r.Run(context.Background(), detectJob("sub-01.nii.gz", metrics.KindMean))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed() {
		t.Fatalf("unexpected job failure: %v", res.Err)
	}
	if res.Volumes != 8 {
		t.Errorf("Volumes = %d, want 8", res.Volumes)
	}
	if !reflect.DeepEqual(res.Outliers, []int{4}) {
		t.Errorf("Outliers = %v, want [4]", res.Outliers)
	}
	if res.FromCache {
		t.Error("first run should not come from cache")
	}
}

func TestRunner_SecondRunComesFromCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub-01.nii.gz")
	writeSeries(t, path, 1, 1, 1, 9, 1, 1)

	cache := NewMemoryCache()
	r := NewRunner(dir, cache, nil)
	job := detectJob("sub-01.nii.gz", metrics.KindDVARS)

	first, err := r.Run(context.Background(), job)
	if err != nil || first.Failed() {
		t.Fatalf("first run: %v %v", err, first.Err)
	}

	probe, cached, err := r.Probe(context.Background(), job)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !cached || !probe.FromCache {
		t.Fatal("expected probe hit after first run")
	}
	if !reflect.DeepEqual(probe.Outliers, first.Outliers) || !reflect.DeepEqual(probe.Values, first.Values) {
		t.Errorf("cached result differs: %+v vs %+v", probe, first)
	}

	// Changing the image invalidates the entry.
	writeSeries(t, path, 1, 1, 1, 1, 1, 1)
	if _, cached, _ := r.Probe(context.Background(), job); cached {
		t.Error("content change must invalidate the cached result")
	}
	if ok, _ := cache.Has(first.Hash); !ok {
		t.Error("entry for the original content must remain")
	}
}

func TestRunner_BrokenImageIsJobFailure(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sub-bad.nii.gz"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	cache := NewMemoryCache()
	r := NewRunner(dir, cache, nil)

	res, err := r.Run(context.Background(), detectJob("sub-bad.nii.gz", metrics.KindMean))
	if err != nil {
		t.Fatalf("broken image must not be a runner error: %v", err)
	}
	if !res.Failed() {
		t.Fatal("expected job failure")
	}
	if ok, _ := cache.Has(res.Hash); ok || res.Hash == "" {
		t.Errorf("failed analyses must not be cached (hash %q)", res.Hash)
	}

	res, err = r.Run(context.Background(), detectJob("sub-missing.nii.gz", metrics.KindMean))
	if err != nil || !res.Failed() {
		t.Fatalf("missing image: err=%v failed=%v", err, res.Failed())
	}
}

func TestRunner_DVARSNeedsTwoVolumes(t *testing.T) {
	dir := t.TempDir()
	writeSeries(t, filepath.Join(dir, "sub-01.nii.gz"), 5)
	r := NewRunner(dir, nil, nil)

	res, err := r.Run(context.Background(), detectJob("sub-01.nii.gz", metrics.KindDVARS))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Failed() {
		t.Fatal("expected failure for single-volume DVARS")
	}
}

func TestRunner_ValidateJob(t *testing.T) {
	dir := t.TempDir()
	content := []byte("payload")
	if err := os.WriteFile(filepath.Join(dir, "a.bin"), content, 0o644); err != nil {
		t.Fatal(err)
	}
	sum := sha1.Sum(content)
	list := hex.EncodeToString(sum[:]) + " a.bin\n"
	if err := os.MkdirAll(filepath.Join(dir, "group-00"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, datavalid.DefaultHashList), []byte(list), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(dir, nil, nil)
	job := Job{Name: ValidateJobName, Kind: JobValidate}
	res, err := r.Run(context.Background(), job)
	if err != nil || res.Failed() {
		t.Fatalf("validate: err=%v jobErr=%v", err, res.Err)
	}
	if res.Validation.Checked != 1 {
		t.Errorf("Checked = %d, want 1", res.Validation.Checked)
	}
	if _, cached, _ := r.Probe(context.Background(), job); cached {
		t.Error("validate jobs are never cached")
	}

	if err := os.WriteFile(filepath.Join(dir, "a.bin"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err = r.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Failed() {
		t.Fatal("expected validation failure after tampering")
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(t.TempDir(), nil, nil)
	if _, err := r.Run(ctx, detectJob("sub-01.nii.gz", metrics.KindMean)); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestRunner_RejectsInvalidJob(t *testing.T) {
	r := NewRunner(t.TempDir(), nil, nil)
	if _, err := r.Run(context.Background(), Job{Name: "x", Kind: JobDetect, Path: "x", Metric: "bogus"}); err == nil {
		t.Fatal("expected invalid job error")
	}
}

func TestRunner_CleanDropsOutlierVolumes(t *testing.T) {
	dir := t.TempDir()
	writeSeries(t, filepath.Join(dir, "group-00", "sub-01.nii.gz"), 10, 10, 11, 10, 40, 10, 11, 10)
	r := NewRunner(dir, nil, nil)

	res, err := r.Run(context.Background(), detectJob("group-00/sub-01.nii.gz", metrics.KindMean))
	if err != nil || res.Failed() {
		t.Fatalf("run: %v %v", err, res.Err)
	}
	outDir := filepath.Join(dir, "clean")
	written, err := r.Clean(res, outDir)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if want := filepath.Join(outDir, "group-00", "sub-01_clean.nii.gz"); written != want {
		t.Errorf("written = %s, want %s", written, want)
	}
	img, err := nifti.Read(written)
	if err != nil {
		t.Fatalf("read cleaned: %v", err)
	}
	if img.NumVolumes() != 7 {
		t.Errorf("cleaned volumes = %d, want 7", img.NumVolumes())
	}
	for _, m := range metrics.VolumeMeans(img) {
		if m == 40 {
			t.Error("outlier volume survived cleaning")
		}
	}
}

func TestRunner_CleanRefusesChangedImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub-01.nii.gz")
	writeSeries(t, path, 10, 10, 11, 10, 40, 10, 11, 10)
	r := NewRunner(dir, nil, nil)

	res, err := r.Run(context.Background(), detectJob("sub-01.nii.gz", metrics.KindMean))
	if err != nil || res.Failed() {
		t.Fatalf("run: %v %v", err, res.Err)
	}
	writeSeries(t, path, 40, 10, 11, 10, 10, 10, 11, 10)

	outDir := filepath.Join(dir, "clean")
	if _, err := r.Clean(res, outDir); !errors.Is(err, ErrImageChanged) {
		t.Fatalf("Clean = %v, want ErrImageChanged", err)
	}
	if _, err := os.Stat(CleanedPath(outDir, "sub-01.nii.gz")); !os.IsNotExist(err) {
		t.Errorf("cleaned image written for changed input: %v", err)
	}
}

func keptHashes(r *Runner) int {
	n := 0
	r.missHashes.Range(func(any, any) bool { n++; return true })
	return n
}

func TestRunner_CacheMissHashFeedsRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub-01.nii.gz")
	writeSeries(t, path, 1, 1, 1, 9, 1, 1)
	job := detectJob("sub-01.nii.gz", metrics.KindMean)
	want, err := NewJobHasher().HashJob(&job, path)
	if err != nil {
		t.Fatal(err)
	}

	r := NewRunner(dir, NewMemoryCache(), nil)
	if _, cached, err := r.Probe(context.Background(), job); err != nil || cached {
		t.Fatalf("Probe = %v, %v; want miss", cached, err)
	}
	if keptHashes(r) != 1 {
		t.Fatal("a cache miss must keep its hash")
	}
	res, err := r.Run(context.Background(), job)
	if err != nil || res.Failed() {
		t.Fatalf("run: %v %v", err, res.Err)
	}
	if res.Hash != want {
		t.Errorf("hash = %s, want %s", res.Hash, want)
	}
	if keptHashes(r) != 0 {
		t.Error("Run must consume the kept hash")
	}

	// A rewrite before Run invalidates the kept hash.
	job2 := detectJob("sub-01.nii.gz", metrics.KindDVARS)
	if _, _, err := r.Probe(context.Background(), job2); err != nil {
		t.Fatal(err)
	}
	writeSeries(t, path, 3, 7, 2, 8, 4, 6, 5, 9, 1, 10, 12, 15)
	fresh, err := NewJobHasher().HashJob(&job2, path)
	if err != nil {
		t.Fatal(err)
	}
	res, err = r.Run(context.Background(), job2)
	if err != nil || res.Failed() {
		t.Fatalf("run: %v %v", err, res.Err)
	}
	if res.Hash != fresh {
		t.Errorf("stale hash reused after rewrite: %s, want %s", res.Hash, fresh)
	}
}

func TestRunner_WithoutCacheKeepsNoHash(t *testing.T) {
	dir := t.TempDir()
	writeSeries(t, filepath.Join(dir, "sub-01.nii.gz"), 1, 1, 1, 9, 1, 1)
	r := NewRunner(dir, nil, nil)

	if _, cached, err := r.Probe(context.Background(), detectJob("sub-01.nii.gz", metrics.KindMean)); err != nil || cached {
		t.Fatalf("Probe = %v, %v; want miss", cached, err)
	}
	if keptHashes(r) != 0 {
		t.Error("a runner without a cache must not hash ahead of Run")
	}
}

func TestCleanedPath(t *testing.T) {
	cases := map[string]string{
		"sub-01.nii.gz":  "out/sub-01_clean.nii.gz",
		"a/sub-02.nii":   "out/a/sub-02_clean.nii.gz",
		"a/b/sub-03.mgz": "out/a/b/sub-03.mgz_clean.nii.gz",
	}
	for in, want := range cases {
		if got := filepath.ToSlash(CleanedPath("out", in)); got != want {
			t.Errorf("CleanedPath(%q) = %q, want %q", in, got, want)
		}
	}
}
