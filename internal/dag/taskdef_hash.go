package dag

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"findoutlie/internal/core"
)

// computeJobDefHash hashes the declarative fields of a job. The proportion
// uses its shortest round-trip form.
func computeJobDefHash(job core.Job) JobDefHash {
	h := sha256.New()
	for _, f := range []string{
		string(job.Kind),
		job.Path,
		string(job.Metric),
		strconv.FormatFloat(job.IQRProportion, 'g', -1, 64),
		job.HashList,
	} {
		core.WriteField(h, []byte(f))
	}
	return JobDefHash(hex.EncodeToString(h.Sum(nil)))
}
