package core

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sampleEntry(hash JobHash) *CacheEntry {
	return &CacheEntry{
		Hash:     hash,
		Path:     "group-00/sub-01.nii.gz",
		Metric:   "mean",
		Volumes:  4,
		Values:   []float64{1, 2, 3.5, 100},
		Outliers: []int{3},
	}
}

func TestCaches_SameHashIsFoundAfterPut(t *testing.T) {
	caches := map[string]Cache{
		"memory": NewMemoryCache(),
		"file":   NewFileCache(t.TempDir()),
	}
	for name, cache := range caches {
		t.Run(name, func(t *testing.T) {
			hash := JobHash("abc123def456")

			exists, err := cache.Has(hash)
			if err != nil {
				t.Fatalf("Has failed: %v", err)
			}
			if exists {
				t.Error("hash should not exist initially")
			}
			if got, err := cache.Get(hash); err != nil || got != nil {
				t.Fatalf("Get on miss = %v, %v; want nil, nil", got, err)
			}

			want := sampleEntry(hash)
			if err := cache.Put(want); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			exists, err = cache.Has(hash)
			if err != nil {
				t.Fatalf("Has failed: %v", err)
			}
			if !exists {
				t.Error("hash should exist after Put")
			}

			got, err := cache.Get(hash)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("replayed entry differs:\n got %#v\nwant %#v", got, want)
			}
		})
	}
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	cache := NewMemoryCache()
	if err := cache.Put(sampleEntry("h1")); err != nil {
		t.Fatal(err)
	}
	got, _ := cache.Get("h1")
	got.Outliers[0] = 99

	again, _ := cache.Get("h1")
	if again.Outliers[0] != 3 {
		t.Errorf("cache entry mutated through returned copy: %v", again.Outliers)
	}
	if ok, _ := cache.Has("h2"); ok {
		t.Error("unknown hash reported as present")
	}
}

func TestFileCache_LayoutAndCorruption(t *testing.T) {
	dir := t.TempDir()
	cache := NewFileCache(dir)
	hash := JobHash("ffee0011")
	if err := cache.Put(sampleEntry(hash)); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "ff", "ffee0011.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected entry at %s: %v", path, err)
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(hash); err == nil {
		t.Error("expected error for corrupt entry")
	}
}

func TestFileCache_RejectsEntryWithoutHash(t *testing.T) {
	if err := NewFileCache(t.TempDir()).Put(&CacheEntry{}); err == nil {
		t.Error("expected error")
	}
	if err := NewFileCache(t.TempDir()).Put(nil); err == nil {
		t.Error("expected error")
	}
}

func TestNopCache_NeverHits(t *testing.T) {
	var c Cache = NopCache{}
	if err := c.Put(sampleEntry("h")); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Has("h"); ok {
		t.Error("NopCache must never report a hit")
	}
}
