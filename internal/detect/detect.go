// Package detect flags outlying values in per-volume metric series.
package detect

import (
	"fmt"

	"findoutlie/internal/metrics"
)

// DefaultIQRProportion is the conventional Tukey fence multiplier.
const DefaultIQRProportion = 1.5

// Detector marks outliers in a series. The returned mask has the same length
// as values.
type Detector interface {
	Detect(values []float64) []bool
}

// IQRDetector flags values outside [q1 - k*iqr, q3 + k*iqr] where
// iqr = q3 - q1 and k is Proportion.
type IQRDetector struct {
	Proportion float64
}

// NewIQRDetector validates the fence multiplier.
func NewIQRDetector(proportion float64) (*IQRDetector, error) {
	if proportion < 0 {
		return nil, fmt.Errorf("iqr proportion must be >= 0 (got %v)", proportion)
	}
	return &IQRDetector{Proportion: proportion}, nil
}

// Fences returns the lower and upper thresholds for values.
func (d *IQRDetector) Fences(values []float64) (lo, hi float64) {
	q1, q3 := metrics.Quartiles(values)
	iqr := q3 - q1
	return q1 - d.Proportion*iqr, q3 + d.Proportion*iqr
}

func (d *IQRDetector) Detect(values []float64) []bool {
	mask := make([]bool, len(values))
	if len(values) == 0 {
		return mask
	}
	lo, hi := d.Fences(values)
	for i, v := range values {
		mask[i] = v < lo || v > hi
	}
	return mask
}

// Indices returns the positions of true entries in ascending order.
func Indices(mask []bool) []int {
	out := []int{}
	for i, m := range mask {
		if m {
			out = append(out, i)
		}
	}
	return out
}

// VolumeOutliers runs d over a metric series and maps flagged entries back to
// volume indices. DVARS entry i describes the change from volume i to i+1, so
// it flags volume i+1.
func VolumeOutliers(kind metrics.Kind, values []float64, d Detector) ([]int, error) {
	idx := Indices(d.Detect(values))
	switch kind {
	case metrics.KindMean:
		return idx, nil
	case metrics.KindDVARS:
		for i := range idx {
			idx[i]++
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown metric %q", kind)
	}
}
