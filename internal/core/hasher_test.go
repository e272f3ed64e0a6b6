package core

import (
	"bytes"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
)

func hashOf(t *testing.T, in HashInput) JobHash {
	t.Helper()
	h, err := NewJobHasher().ComputeHash(in)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	return h
}

func TestComputeHash_IdenticalInputsProduceSameHash(t *testing.T) {
	in := func() HashInput {
		return HashInput{Metric: "mean", IQRProportion: 1.5, Path: "group-00/sub-01.nii.gz", Content: bytes.NewReader([]byte("image"))}
	}
	if a, b := hashOf(t, in()), hashOf(t, in()); a != b {
		t.Errorf("identical inputs produced different hashes: %s != %s", a, b)
	}
}

func TestComputeHash_EveryFieldContributes(t *testing.T) {
	base := func() HashInput {
		return HashInput{Metric: "mean", IQRProportion: 1.5, Path: "sub-01.nii.gz", Content: bytes.NewReader([]byte("image"))}
	}
	ref := hashOf(t, base())

	cases := map[string]func(*HashInput){
		"content":    func(in *HashInput) { in.Content = bytes.NewReader([]byte("image2")) },
		"metric":     func(in *HashInput) { in.Metric = "dvars" },
		"proportion": func(in *HashInput) { in.IQRProportion = 3 },
		"path":       func(in *HashInput) { in.Path = "sub-02.nii.gz" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base()
			mutate(&in)
			if hashOf(t, in) == ref {
				t.Errorf("%s change did not invalidate hash", name)
			}
		})
	}
}

func TestComputeHash_FieldBoundariesAreUnambiguous(t *testing.T) {
	a := hashOf(t, HashInput{Metric: "mea", Path: "nsub.nii.gz"})
	b := hashOf(t, HashInput{Metric: "mean", Path: "sub.nii.gz"})
	if a == b {
		t.Error("shifting bytes between fields must change the hash")
	}
}

func TestHashJob_ReadsFileContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub-01.nii.gz")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	job := &Job{Name: "sub-01.nii.gz", Kind: JobDetect, Path: "sub-01.nii.gz", Metric: "mean", IQRProportion: 1.5}

	h1, err := NewJobHasher().HashJob(job, path)
	if err != nil {
		t.Fatalf("HashJob: %v", err)
	}
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	h2, err := NewJobHasher().HashJob(job, path)
	if err != nil {
		t.Fatalf("HashJob: %v", err)
	}
	if h1 == h2 {
		t.Error("content change did not invalidate hash")
	}

	if _, err := NewJobHasher().HashJob(job, filepath.Join(dir, "missing.nii.gz")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteField_BigEndianLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	h := sha256.New()
	WriteField(h, []byte("abc"))
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 3})
	buf.WriteString("abc")
	if want := sha256.Sum256(buf.Bytes()); !bytes.Equal(h.Sum(nil), want[:]) {
		t.Error("WriteField must emit an 8-byte big-endian length before the data")
	}
}
