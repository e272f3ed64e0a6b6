// Package report holds the canonical record of an outlier detection run.
//
// A Report carries only logical facts: which images were examined, which
// volumes were flagged, which jobs failed and which results came from the
// cache. It has no timestamps. Runs over the same data with the same settings
// produce identical bytes when each image was served the same way; a cached
// replay of a fresh analysis differs only in status and from_cache.
package report

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Status is the stable per-file outcome. The string values are part of the
// canonical bytes; do not rename.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCached    Status = "cached"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// FileReport is the outcome for one image.
type FileReport struct {
	Path      string `json:"path"`
	Status    Status `json:"status"`
	Volumes   int    `json:"volumes,omitempty"`
	Outliers  []int  `json:"outliers"`
	FromCache bool   `json:"from_cache,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ValidationReport is the outcome of the hash list check.
type ValidationReport struct {
	HashList string `json:"hash_list,omitempty"`
	Status   Status `json:"status"`
	Checked  int    `json:"checked,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Report is the result of one detection run.
type Report struct {
	GraphHash     string            `json:"graph_hash"`
	DataDir       string            `json:"data_dir"`
	Metric        string            `json:"metric"`
	IQRProportion float64           `json:"iqr_proportion"`
	Validation    *ValidationReport `json:"validation,omitempty"`
	Files         []FileReport      `json:"files"`
}

// Validate checks basic invariants and returns a descriptive error.
func (r *Report) Validate() error {
	if r == nil {
		return errors.New("report is nil")
	}
	if r.Metric == "" {
		return errors.New("metric is required")
	}
	seen := make(map[string]bool, len(r.Files))
	for i, f := range r.Files {
		if f.Path == "" {
			return fmt.Errorf("files[%d].path is required", i)
		}
		if seen[f.Path] {
			return fmt.Errorf("files[%d]: duplicate path %q", i, f.Path)
		}
		seen[f.Path] = true
		switch f.Status {
		case StatusCompleted, StatusCached, StatusFailed, StatusSkipped:
		default:
			return fmt.Errorf("files[%d].status %q is unknown", i, f.Status)
		}
	}
	return nil
}

// Canonicalize sorts files by path and outlier indices ascending. Outliers
// is never nil afterwards so that "no outliers" encodes as [].
func (r *Report) Canonicalize() {
	if r == nil {
		return
	}
	for i := range r.Files {
		out := make([]int, len(r.Files[i].Outliers))
		copy(out, r.Files[i].Outliers)
		sort.Ints(out)
		r.Files[i].Outliers = out
	}
	sort.SliceStable(r.Files, func(i, j int) bool {
		return r.Files[i].Path < r.Files[j].Path
	})
	if r.Files == nil {
		r.Files = []FileReport{}
	}
}

// CanonicalJSON returns the canonical JSON encoding of the report.
// It canonicalizes a copy to avoid mutating the caller's slices.
func (r Report) CanonicalJSON() ([]byte, error) {
	cp := r
	cp.Files = make([]FileReport, len(r.Files))
	copy(cp.Files, r.Files)
	if r.Validation != nil {
		v := *r.Validation
		cp.Validation = &v
	}
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&cp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the sha256 hex digest of the canonical JSON bytes.
func (r Report) Hash() (string, error) {
	b, err := r.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Counts tallies files by status.
func (r *Report) Counts() map[Status]int {
	out := make(map[Status]int, 4)
	for _, f := range r.Files {
		out[f.Status]++
	}
	return out
}

// FailedFiles returns the paths whose analysis failed, in file order.
// SKIPPED files are not failures of their own.
func (r *Report) FailedFiles() []string {
	var out []string
	for _, f := range r.Files {
		if f.Status == StatusFailed {
			out = append(out, f.Path)
		}
	}
	return out
}

// Outliers returns the outlier indices keyed by image path, the shape of
// the classic find_outliers result.
func (r *Report) Outliers() map[string][]int {
	out := make(map[string][]int, len(r.Files))
	for _, f := range r.Files {
		if f.Status == StatusCompleted || f.Status == StatusCached {
			out[f.Path] = f.Outliers
		}
	}
	return out
}
