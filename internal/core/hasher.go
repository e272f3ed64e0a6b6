package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"math"
	"os"
)

// AnalysisVersion is mixed into every JobHash. Bump it whenever metric or
// detector semantics change so stale cache entries stop matching.
const AnalysisVersion = "findoutlie/1"

// JobHash is the deterministic identity of a detect job.
//
//	Includes: analysis version, metric, IQR proportion, relative image path, image bytes
//	Excludes: timestamps, file metadata, absolute data directory location
type JobHash string

func (h JobHash) String() string { return string(h) }

// JobHasher computes JobHash values. Every field is length-prefixed so
// adjacent fields can never be confused.
type JobHasher struct{}

// NewJobHasher creates a new JobHasher.
func NewJobHasher() *JobHasher {
	return &JobHasher{}
}

// HashInput is everything that contributes to a JobHash.
type HashInput struct {
	Metric        string
	IQRProportion float64
	Path          string
	Content       io.Reader
}

// ComputeHash streams the image content into the hash.
func (h *JobHasher) ComputeHash(input HashInput) (JobHash, error) {
	hasher := sha256.New()
	WriteField(hasher, []byte(AnalysisVersion))
	WriteField(hasher, []byte(input.Metric))

	var prop [8]byte
	binary.BigEndian.PutUint64(prop[:], math.Float64bits(input.IQRProportion))
	WriteField(hasher, prop[:])

	WriteField(hasher, []byte(input.Path))

	if input.Content != nil {
		if _, err := io.Copy(hasher, input.Content); err != nil {
			return "", fmt.Errorf("hashing content: %w", err)
		}
	}
	return JobHash(hex.EncodeToString(hasher.Sum(nil))), nil
}

// HashJob hashes a detect job whose image lives at absPath.
func (h *JobHasher) HashJob(job *Job, absPath string) (JobHash, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return h.ComputeHash(HashInput{
		Metric:        string(job.Metric),
		IQRProportion: job.IQRProportion,
		Path:          job.Path,
		Content:       f,
	})
}

// WriteField writes data to h behind its big-endian uint64 length. Every
// hash in the module is built from such fields.
func WriteField(h hash.Hash, data []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	h.Write(length[:])
	h.Write(data)
}
