package tle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFetcherFetch(t *testing.T) {
	payload := issName + "\n" + issLine1 + "\n" + issLine2 + "\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.URL)
	data, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != payload {
		t.Errorf("Fetch returned %d bytes, want %d", len(data), len(payload))
	}
}

func TestFetcherNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.URL)
	if _, err := fetcher.Fetch(context.Background()); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestFetcherDefaultSource(t *testing.T) {
	fetcher := NewFetcher("")
	if fetcher.SourceURL() == "" {
		t.Error("empty source URL should fall back to the default")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.txt")
	writeCatalog := func(name string) {
		content := name + "\n" + issLine1 + "\n" + issLine2 + "\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	writeCatalog("FIRST")

	store := NewStore()
	watcher := NewWatcher(path, store, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		watcher.Run(ctx)
	}()

	// Initial load happens synchronously at Run start; poll briefly.
	waitFor(t, func() bool {
		c := store.Get()
		return c != nil && len(c.Satellites) == 1 && c.Satellites[0].Name == "FIRST"
	}, "initial catalog load")

	writeCatalog("SECOND")
	waitFor(t, func() bool {
		c := store.Get()
		return c != nil && c.Satellites[0].Name == "SECOND"
	}, "catalog reload after write")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("watcher did not stop after context cancellation")
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
