package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"findoutlie/internal/fsutil"
)

// CacheEntry is the stored result of a successful detect job.
//
//	Includes: metric values, outlier volume indices, volume count
//	Excludes: timestamps, host-specific paths
type CacheEntry struct {
	Hash     JobHash   `json:"hash"`
	Path     string    `json:"path"`
	Metric   string    `json:"metric"`
	Volumes  int       `json:"volumes"`
	Values   []float64 `json:"values"`
	Outliers []int     `json:"outliers"`
}

// Cache stores detect results by JobHash. A JobHash that has been seen
// before is never recomputed in incremental mode.
type Cache interface {
	// Has checks if a cache entry exists for the given hash.
	Has(hash JobHash) (bool, error)

	// Get retrieves a cache entry by hash.
	// Returns nil if the entry does not exist.
	Get(hash JobHash) (*CacheEntry, error)

	// Put stores a cache entry.
	Put(entry *CacheEntry) error
}

// FileCache implements Cache on the filesystem.
//
// Structure:
//
//	{CacheDir}/
//	  {hash[0:2]}/
//	    {hash}.json
type FileCache struct {
	CacheDir string
}

// NewFileCache creates a new filesystem-based cache.
func NewFileCache(cacheDir string) *FileCache {
	return &FileCache{CacheDir: cacheDir}
}

func (c *FileCache) Has(hash JobHash) (bool, error) {
	_, err := os.Stat(c.entryPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("checking cache entry: %w", err)
	}
	return true, nil
}

func (c *FileCache) Get(hash JobHash) (*CacheEntry, error) {
	data, err := os.ReadFile(c.entryPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing cache entry: %w", err)
	}
	if entry.Hash != hash {
		return nil, fmt.Errorf("cache entry %s holds hash %s", hash, entry.Hash)
	}
	return &entry, nil
}

func (c *FileCache) Put(entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	if entry.Hash == "" {
		return fmt.Errorf("cache entry hash is required")
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	if err := fsutil.WriteFileAtomic(c.entryPath(entry.Hash), data, 0o644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// entryPath shards entries by the first two hash characters.
func (c *FileCache) entryPath(hash JobHash) string {
	s := string(hash)
	if len(s) < 2 {
		return filepath.Join(c.CacheDir, s+".json")
	}
	return filepath.Join(c.CacheDir, s[:2], s+".json")
}

// MemoryCache implements Cache in memory. It is safe for concurrent use.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[JobHash]*CacheEntry
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[JobHash]*CacheEntry)}
}

func (c *MemoryCache) Has(hash JobHash) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[hash]
	return ok, nil
}

func (c *MemoryCache) Get(hash JobHash) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return nil, nil
	}
	return copyEntry(e), nil
}

func (c *MemoryCache) Put(entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Hash] = copyEntry(entry)
	return nil
}

func copyEntry(e *CacheEntry) *CacheEntry {
	cp := *e
	if e.Values != nil {
		cp.Values = make([]float64, len(e.Values))
		copy(cp.Values, e.Values)
	}
	if e.Outliers != nil {
		cp.Outliers = make([]int, len(e.Outliers))
		copy(cp.Outliers, e.Outliers)
	}
	return &cp
}

// NopCache never stores anything. Clean mode uses it so every job is
// recomputed.
type NopCache struct{}

func (NopCache) Has(JobHash) (bool, error)        { return false, nil }
func (NopCache) Get(JobHash) (*CacheEntry, error) { return nil, nil }
func (NopCache) Put(*CacheEntry) error            { return nil }
