// Package datavalid checks a data directory against a recorded SHA1 hash list.
//
// The hash list has one entry per line: "<sha1 hex> <path relative to the
// data directory>". Blank lines are ignored.
package datavalid

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultHashList is the hash list location relative to the data directory.
const DefaultHashList = "group-00/hash_list.txt"

var ErrHashListNotFound = errors.New("hash list not found")

// Entry is one parsed hash list line.
type Entry struct {
	Hash string
	Path string
	Line int
}

// Problem describes a single file that failed validation.
type Problem struct {
	Path     string
	Expected string
	Actual   string
	// Missing is set when the file could not be read at all.
	Missing bool
}

// MismatchError lists every file that failed validation, sorted by path.
type MismatchError struct {
	Problems []Problem
}

func (e *MismatchError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "data validation failed"
	}
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		if p.Missing {
			parts = append(parts, fmt.Sprintf("%s: missing", p.Path))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: hash does not match", p.Path))
	}
	return fmt.Sprintf("data validation failed for %d file(s): %s", len(e.Problems), strings.Join(parts, "; "))
}

// Summary reports a successful validation.
type Summary struct {
	HashList string
	Checked  int
}

// FileHash returns the lowercase hex SHA1 of the file contents.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseHashList reads hash list entries from r.
func ParseHashList(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("hash list line %d: expected \"<hash> <path>\", got %q", line, text)
		}
		hash := strings.ToLower(fields[0])
		if _, err := hex.DecodeString(hash); err != nil || len(hash) != 2*sha1.Size {
			return nil, fmt.Errorf("hash list line %d: invalid sha1 %q", line, fields[0])
		}
		out = append(out, Entry{Hash: hash, Path: fields[1], Line: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read hash list: %w", err)
	}
	return out, nil
}

// ResolveHashList returns the absolute hash list path for dataDir. An empty
// hashList selects DefaultHashList; relative paths are taken from dataDir.
func ResolveHashList(dataDir, hashList string) string {
	if strings.TrimSpace(hashList) == "" {
		hashList = DefaultHashList
	}
	if filepath.IsAbs(hashList) {
		return filepath.Clean(hashList)
	}
	return filepath.Join(dataDir, filepath.FromSlash(hashList))
}

// Validate hashes every file named in the hash list using up to concurrency
// workers. All failures are collected into a *MismatchError.
func Validate(ctx context.Context, dataDir, hashList string, concurrency int) (*Summary, error) {
	listPath := ResolveHashList(dataDir, hashList)
	f, err := os.Open(listPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrHashListNotFound, listPath)
		}
		return nil, fmt.Errorf("open hash list: %w", err)
	}
	entries, err := ParseHashList(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	if concurrency <= 0 {
		concurrency = 1
	}
	problems := make([]*Problem, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			actual, err := FileHash(filepath.Join(dataDir, filepath.FromSlash(e.Path)))
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					problems[i] = &Problem{Path: e.Path, Expected: e.Hash, Missing: true}
					return nil
				}
				return fmt.Errorf("hash %s: %w", e.Path, err)
			}
			if actual != e.Hash {
				problems[i] = &Problem{Path: e.Path, Expected: e.Hash, Actual: actual}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var failed []Problem
	for _, p := range problems {
		if p != nil {
			failed = append(failed, *p)
		}
	}
	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool { return failed[i].Path < failed[j].Path })
		return nil, &MismatchError{Problems: failed}
	}
	return &Summary{HashList: listPath, Checked: len(entries)}, nil
}
