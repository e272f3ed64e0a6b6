// Package metrics computes per-volume scan metrics used for outlier
// detection: mean volume intensity and DVARS, plus the mean of the standard
// DVARS null distribution.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"findoutlie/internal/nifti"
)

var (
	ErrTooFewVolumes = errors.New("at least two volumes are required")
	ErrZeroIntensity = errors.New("total image intensity is zero")
)

// Kind selects the per-volume metric fed to a detector.
type Kind string

const (
	KindMean  Kind = "mean"
	KindDVARS Kind = "dvars"
)

// ParseKind accepts a metric name case-insensitively.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindMean, KindDVARS:
		return k, nil
	default:
		return "", fmt.Errorf("unknown metric %q (expected mean|dvars)", raw)
	}
}

// Compute returns the metric series for img.
func Compute(kind Kind, img *nifti.Image) ([]float64, error) {
	switch kind {
	case KindMean:
		return VolumeMeans(img), nil
	case KindDVARS:
		return DVARS(img)
	default:
		return nil, fmt.Errorf("unknown metric %q", kind)
	}
}

// VolumeMeans returns the mean voxel intensity of every volume.
func VolumeMeans(img *nifti.Image) []float64 {
	out := make([]float64, img.NumVolumes())
	for t := range out {
		out[t] = stat.Mean(img.Volume(t), nil)
	}
	return out
}

// DVARS returns, for each pair of consecutive volumes, the root mean square
// of the voxel-wise difference. The result has NumVolumes()-1 entries.
func DVARS(img *nifti.Image) ([]float64, error) {
	n := img.NumVolumes()
	if n < 2 {
		return nil, ErrTooFewVolumes
	}
	voxels := float64(img.VoxelsPerVolume())
	diff := make([]float64, img.VoxelsPerVolume())
	out := make([]float64, n-1)
	for t := 0; t < n-1; t++ {
		floats.SubTo(diff, img.Volume(t+1), img.Volume(t))
		out[t] = math.Sqrt(floats.Dot(diff, diff) / voxels)
	}
	return out, nil
}

// DistributionMean returns the mean of the standard DVARS distribution: the
// sum of every voxel's variance over time divided by the sum of all
// intensities.
func DistributionMean(img *nifti.Image) (float64, error) {
	total := floats.Sum(img.Data)
	if total == 0 {
		return 0, ErrZeroIntensity
	}
	n := img.NumVolumes()
	voxels := img.VoxelsPerVolume()
	series := make([]float64, n)
	var sumVar float64
	for v := 0; v < voxels; v++ {
		for t := 0; t < n; t++ {
			series[t] = img.Data[t*voxels+v]
		}
		sumVar += stat.PopVariance(series, nil)
	}
	return sumVar / total, nil
}

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between the two closest ranks. Empty input, or input holding
// a NaN, gives NaN. values is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 || hasNaN(values) {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Quartiles returns the 25th and 75th percentiles of values, NaN under the
// same conditions as Percentile.
func Quartiles(values []float64) (q1, q3 float64) {
	if len(values) == 0 || hasNaN(values) {
		return math.NaN(), math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentileSorted(sorted, 25), percentileSorted(sorted, 75)
}

func hasNaN(values []float64) bool {
	return slices.ContainsFunc(values, math.IsNaN)
}
