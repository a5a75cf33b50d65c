package tle

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDiskCacheWriteLoadLatest(t *testing.T) {
	cache := NewDiskCache(t.TempDir(), 5)

	t1 := time.Unix(1000, 0)
	t2 := time.Unix(2000, 0)
	if err := cache.Write([]byte("older"), t1); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := cache.Write([]byte("newer"), t2); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, ts, err := cache.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if string(data) != "newer" {
		t.Errorf("LoadLatest data = %q, want %q", data, "newer")
	}
	if !ts.Equal(t2) {
		t.Errorf("LoadLatest ts = %v, want %v", ts, t2)
	}
}

func TestDiskCachePrune(t *testing.T) {
	dir := t.TempDir()
	cache := NewDiskCache(dir, 2)

	for i := 1; i <= 4; i++ {
		if err := cache.Write([]byte("data"), time.Unix(int64(i*1000), 0)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d files after prune, want 2", len(entries))
	}

	// The newest files must survive.
	if _, err := os.Stat(filepath.Join(dir, "tle_4000.txt")); err != nil {
		t.Error("newest file was pruned")
	}
	if _, err := os.Stat(filepath.Join(dir, "tle_1000.txt")); err == nil {
		t.Error("oldest file should have been pruned")
	}
}

func TestDiskCacheLoadLatestEmpty(t *testing.T) {
	cache := NewDiskCache(t.TempDir(), 5)
	if _, _, err := cache.LoadLatest(); err == nil {
		t.Error("LoadLatest on empty cache should fail")
	}
}

func TestDiskCacheIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tle_bogus.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	cache := NewDiskCache(dir, 5)
	if _, _, err := cache.LoadLatest(); err == nil {
		t.Error("LoadLatest should ignore files without a valid timestamp")
	}
}
