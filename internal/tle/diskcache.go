package tle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DiskCache manages fetched TLE datasets on disk so the server can start with
// a recent catalog before the first fetch completes.
type DiskCache struct {
	dir      string
	maxFiles int
}

// NewDiskCache creates a DiskCache that stores files in dir and keeps at most
// maxFiles.
func NewDiskCache(dir string, maxFiles int) *DiskCache {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &DiskCache{dir: dir, maxFiles: maxFiles}
}

// Write saves data to a timestamped file and prunes old files beyond maxFiles.
func (c *DiskCache) Write(data []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	path := filepath.Join(c.dir, fmt.Sprintf("tle_%d.txt", ts.Unix()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}

	return c.prune()
}

// LoadLatest reads the newest cache file by the timestamp in its filename.
func (c *DiskCache) LoadLatest() ([]byte, time.Time, error) {
	files, err := c.listFiles()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, fmt.Errorf("no cache files found")
	}

	latest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(c.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return data, latest.ts, nil
}

type cacheFile struct {
	name string
	ts   time.Time
}

func (c *DiskCache) listFiles() ([]cacheFile, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}

	var files []cacheFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "tle_") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		unix, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "tle_"), ".txt"), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, cacheFile{name: name, ts: time.Unix(unix, 0)})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts.Before(files[j].ts)
	})
	return files, nil
}

func (c *DiskCache) prune() error {
	files, err := c.listFiles()
	if err != nil {
		return err
	}
	if len(files) <= c.maxFiles {
		return nil
	}
	for _, f := range files[:len(files)-c.maxFiles] {
		if err := os.Remove(filepath.Join(c.dir, f.name)); err != nil {
			return fmt.Errorf("pruning cache file %s: %w", f.name, err)
		}
	}
	return nil
}
