package core

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultImagePattern matches functional runs anywhere below the data directory.
const DefaultImagePattern = "**/sub-*.nii.gz"

// Finder discovers images below a data directory.
//
// Discovery is deterministic:
//   - Only regular files are returned.
//   - Paths are relative to DataDir and use forward slashes.
//   - The result is strictly sorted; filesystem ordering never leaks through.
type Finder struct {
	DataDir string
	Pattern string

	// Exclude lists slash-separated directories, relative to DataDir, whose
	// contents are never returned (the cache, cleaned-image output).
	Exclude []string
}

// NewFinder creates a Finder. An empty pattern selects DefaultImagePattern.
func NewFinder(dataDir, pattern string) *Finder {
	if pattern == "" {
		pattern = DefaultImagePattern
	}
	return &Finder{DataDir: dataDir, Pattern: pattern}
}

// Find returns the sorted relative paths of all matching images.
func (f *Finder) Find() ([]string, error) {
	if !doublestar.ValidatePattern(f.Pattern) {
		return nil, fmt.Errorf("invalid pattern %q", f.Pattern)
	}
	info, err := os.Stat(f.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data directory %q is not a directory", f.DataDir)
	}

	matches, err := doublestar.Glob(os.DirFS(f.DataDir), f.Pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("expanding pattern %q: %w", f.Pattern, err)
	}
	out := matches[:0]
	for _, m := range matches {
		if !f.excluded(m) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *Finder) excluded(rel string) bool {
	for _, dir := range f.Exclude {
		dir = strings.Trim(path.Clean(dir), "/")
		if dir == "" || dir == "." {
			continue
		}
		if strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}
	return false
}

// Match reports whether rel (slash separated, relative to DataDir) would be
// returned by Find.
func (f *Finder) Match(rel string) bool {
	if f.excluded(rel) {
		return false
	}
	ok, err := doublestar.Match(f.Pattern, rel)
	return err == nil && ok
}
