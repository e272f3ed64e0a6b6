package datavalid

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha1Hex(b []byte) string {
	s := sha1.Sum(b)
	return hex.EncodeToString(s[:])
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

// makeDataDir writes files and a matching hash list at the default location.
func makeDataDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	var list strings.Builder
	for name, content := range files {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(name)), []byte(content))
		list.WriteString(sha1Hex([]byte(content)) + " " + name + "\n")
	}
	writeFile(t, filepath.Join(dir, DefaultHashList), []byte(list.String()))
	return dir
}

func TestFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	writeFile(t, path, []byte("hello\nworld\n"))

	got, err := FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, sha1Hex([]byte("hello\nworld\n")), got)
}

func TestParseHashList(t *testing.T) {
	hash := sha1Hex([]byte("x"))
	entries, err := ParseHashList(strings.NewReader("\n" + strings.ToUpper(hash) + "  group-00/sub-01.nii.gz\n\n"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Entry{Hash: hash, Path: "group-00/sub-01.nii.gz", Line: 2}, entries[0])

	_, err = ParseHashList(strings.NewReader(hash + "\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")

	_, err = ParseHashList(strings.NewReader("nothex sub-01.nii.gz\n"))
	assert.Error(t, err)
}

func TestValidate_AllMatch(t *testing.T) {
	dir := makeDataDir(t, map[string]string{
		"group-00/sub-01.nii.gz": "one",
		"group-00/sub-02.nii.gz": "two",
		"group-00/sub-03.nii.gz": "three",
	})

	sum, err := Validate(context.Background(), dir, "", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Checked)
	assert.Equal(t, filepath.Join(dir, DefaultHashList), sum.HashList)
}

func TestValidate_CollectsEveryProblemSorted(t *testing.T) {
	dir := makeDataDir(t, map[string]string{
		"group-00/sub-01.nii.gz": "one",
		"group-00/sub-02.nii.gz": "two",
		"group-00/sub-03.nii.gz": "three",
	})
	writeFile(t, filepath.Join(dir, "group-00", "sub-03.nii.gz"), []byte("tampered"))
	require.NoError(t, os.Remove(filepath.Join(dir, "group-00", "sub-01.nii.gz")))

	_, err := Validate(context.Background(), dir, "", 4)
	var mm *MismatchError
	require.True(t, errors.As(err, &mm), "expected MismatchError, got %v", err)
	require.Len(t, mm.Problems, 2)
	assert.Equal(t, "group-00/sub-01.nii.gz", mm.Problems[0].Path)
	assert.True(t, mm.Problems[0].Missing)
	assert.Equal(t, "group-00/sub-03.nii.gz", mm.Problems[1].Path)
	assert.Equal(t, sha1Hex([]byte("tampered")), mm.Problems[1].Actual)
	assert.Contains(t, err.Error(), "2 file(s)")
}

func TestValidate_MissingHashList(t *testing.T) {
	_, err := Validate(context.Background(), t.TempDir(), "", 1)
	assert.ErrorIs(t, err, ErrHashListNotFound)
}

func TestValidate_CustomHashListLocation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.bin"), []byte("a"))
	writeFile(t, filepath.Join(dir, "meta", "hashes.txt"), []byte(sha1Hex([]byte("a"))+" a.bin\n"))

	sum, err := Validate(context.Background(), dir, "meta/hashes.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Checked)
}

func TestValidate_Cancelled(t *testing.T) {
	dir := makeDataDir(t, map[string]string{"sub-01.nii.gz": "one"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Validate(ctx, dir, "", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
