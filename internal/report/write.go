package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"findoutlie/internal/fsutil"
)

// WriteJSON writes the canonical JSON encoding of rep to path atomically.
func WriteJSON(path string, rep Report) error {
	b, err := rep.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteText renders rep for humans, one line per image:
//
//	group-00/sub-01/func/sub-01_task-taskzero_run-01_bold.nii.gz: [4, 17]
//
// Failed and skipped images are listed after a status marker.
func WriteText(w io.Writer, rep Report) error {
	bw := bufio.NewWriter(w)
	if v := rep.Validation; v != nil {
		switch v.Status {
		case StatusFailed:
			fmt.Fprintf(bw, "validation FAILED: %s\n", v.Error)
		default:
			fmt.Fprintf(bw, "validation ok: %d file(s) checked\n", v.Checked)
		}
	}
	for _, f := range rep.Files {
		switch f.Status {
		case StatusFailed:
			fmt.Fprintf(bw, "%s: FAILED: %s\n", f.Path, f.Error)
		case StatusSkipped:
			fmt.Fprintf(bw, "%s: SKIPPED\n", f.Path)
		default:
			fmt.Fprintf(bw, "%s: %s\n", f.Path, FormatIndices(f.Outliers))
		}
	}
	c := rep.Counts()
	fmt.Fprintf(bw, "%d image(s): %d analysed, %d cached, %d failed, %d skipped\n",
		len(rep.Files), c[StatusCompleted], c[StatusCached], c[StatusFailed], c[StatusSkipped])
	return bw.Flush()
}

// FormatIndices renders indices as "[1, 2, 3]".
func FormatIndices(idx []int) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
