package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/orbview/orbview/internal/api"
	"github.com/orbview/orbview/internal/auth"
	"github.com/orbview/orbview/internal/batch"
	"github.com/orbview/orbview/internal/camera"
	"github.com/orbview/orbview/internal/metrics"
	"github.com/orbview/orbview/internal/session"
	"github.com/orbview/orbview/internal/stream"
	"github.com/orbview/orbview/internal/tle"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	addr := os.Getenv("ORBVIEW_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	catalogCfg := loadCatalogConfig(logger)
	store := tle.NewStore()
	diskCache := tle.NewDiskCache(catalogCfg.CacheDir, catalogCfg.MaxFiles)

	// Warm-load the most recent cached catalog so the server is ready before
	// the first fetch completes.
	if data, ts, err := diskCache.LoadLatest(); err != nil {
		logger.Info("no catalog cache found, starting without catalog", "error", err)
	} else {
		sats, err := tle.Parse(bytes.NewReader(data), logger)
		if err != nil {
			logger.Warn("failed to parse cached catalog", "error", err)
		} else if len(sats) > 0 {
			markFlagships(sats, catalogCfg.FlagshipIDs)
			store.Set(tle.BuildCatalog("cache", ts, sats))
			metrics.SetCatalogSize(len(sats))
			logger.Info("loaded catalog from cache", "count", len(sats), "cached_at", ts.Format(time.RFC3339))
		}
	}

	sessCfg := loadSessionConfig(logger)
	engine := camera.NewMemoryEngine(camera.Pose{Zoom: 2})
	sess := session.New(store, engine, sessCfg, logger)
	defer sess.Close()

	streamCfg := loadStreamConfig(logger)
	srv := api.NewServer(addr, sess, store, streamCfg, authCfg, logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The server has no render loop of its own; run the camera self-timed so
	// smooth tracking and fly-tos advance.
	sess.Camera().Loop().Start(30)

	if catalogCfg.WatchFile != "" {
		watcher := tle.NewWatcher(catalogCfg.WatchFile, store, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("catalog watcher stopped", "error", err)
			}
		}()
	}

	if catalogCfg.EnableFetch {
		go fetchLoop(ctx, store, diskCache, catalogCfg, logger)
	}

	// Keep the catalog age gauge current.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetCatalogAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", addr,
			"auth_enabled", authCfg.Enabled,
			"catalog_fetch_enabled", catalogCfg.EnableFetch,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// fetchLoop refreshes the catalog from the remote source at the configured
// interval, persisting each successful fetch to the disk cache.
func fetchLoop(ctx context.Context, store *tle.Store, diskCache *tle.DiskCache, cfg catalogConfig, logger *slog.Logger) {
	fetcher := tle.NewFetcher(cfg.SourceURL)

	fetch := func() {
		fetchCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		data, err := fetcher.Fetch(fetchCtx)
		if err != nil {
			logger.Warn("catalog fetch failed", "source", fetcher.SourceURL(), "error", err)
			return
		}
		sats, err := tle.Parse(bytes.NewReader(data), logger)
		if err != nil || len(sats) == 0 {
			logger.Warn("fetched catalog unusable", "error", err)
			return
		}
		markFlagships(sats, cfg.FlagshipIDs)

		now := time.Now()
		store.Lock()
		store.Set(tle.BuildCatalog(fetcher.SourceURL(), now, sats))
		store.Unlock()
		metrics.SetCatalogSize(len(sats))

		if err := diskCache.Write(data, now); err != nil {
			logger.Warn("catalog cache write failed", "error", err)
		}
		logger.Info("catalog refreshed", "count", len(sats), "source", fetcher.SourceURL())
	}

	// Fetch immediately when starting without a cached catalog.
	if store.Get() == nil {
		fetch()
	}

	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fetch()
		case <-ctx.Done():
			return
		}
	}
}

// markFlagships flags the always-visible satellites by ID.
func markFlagships(sats []tle.Satellite, ids []string) {
	if len(ids) == 0 {
		return
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range sats {
		if set[sats[i].ID] {
			sats[i].Flagship = true
		}
	}
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("ORBVIEW_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	if v := os.Getenv("ORBVIEW_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.New("ORBVIEW_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("ORBVIEW_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("ORBVIEW_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

type catalogConfig struct {
	EnableFetch     bool
	SourceURL       string
	CacheDir        string
	MaxFiles        int
	RefreshInterval time.Duration
	WatchFile       string
	FlagshipIDs     []string
}

func loadCatalogConfig(logger *slog.Logger) catalogConfig {
	cfg := catalogConfig{
		EnableFetch:     true,
		CacheDir:        "/tmp/orbview/tle",
		MaxFiles:        5,
		RefreshInterval: 6 * time.Hour,
		// ISS: the well-documented reference satellite, always rendered.
		FlagshipIDs: []string{"25544"},
	}

	if v := os.Getenv("ORBVIEW_CATALOG_FETCH"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid ORBVIEW_CATALOG_FETCH value, defaulting to true", "value", v)
		} else {
			cfg.EnableFetch = enabled
		}
	}
	if v := os.Getenv("ORBVIEW_CATALOG_SOURCE_URL"); v != "" {
		cfg.SourceURL = v
	}
	if v := os.Getenv("ORBVIEW_CATALOG_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("ORBVIEW_CATALOG_REFRESH"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 60 {
			logger.Warn("invalid ORBVIEW_CATALOG_REFRESH value, using default", "value", v, "default", 21600)
		} else {
			cfg.RefreshInterval = time.Duration(seconds) * time.Second
		}
	}
	if v := os.Getenv("ORBVIEW_CATALOG_FILE"); v != "" {
		cfg.WatchFile = v
	}
	if v := os.Getenv("ORBVIEW_FLAGSHIP_IDS"); v != "" {
		var ids []string
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		cfg.FlagshipIDs = ids
	}

	logger.Info("catalog config",
		"fetch_enabled", cfg.EnableFetch,
		"source_url", cfg.SourceURL,
		"cache_dir", cfg.CacheDir,
		"watch_file", cfg.WatchFile,
		"flagship_ids", cfg.FlagshipIDs,
	)

	return cfg
}

func loadSessionConfig(logger *slog.Logger) session.Config {
	cfg := session.Config{
		Batch: batch.Config{Workers: runtime.NumCPU()},
	}

	if v := os.Getenv("ORBVIEW_BATCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBVIEW_BATCH_WORKERS value, using default", "value", v, "default", cfg.Batch.Workers)
		} else {
			cfg.Batch.Workers = n
		}
	}
	if v := os.Getenv("ORBVIEW_BATCH_TTL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 100 {
			logger.Warn("invalid ORBVIEW_BATCH_TTL_MS value, using default", "value", v, "default", 2000)
		} else {
			cfg.Batch.TTL = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("ORBVIEW_TRACK_ZOOM"); v != "" {
		z, err := strconv.ParseFloat(v, 64)
		if err != nil || z < 1 || z > 20 {
			logger.Warn("invalid ORBVIEW_TRACK_ZOOM value, using default", "value", v, "default", 4)
		} else {
			cfg.TrackZoom = z
		}
	}

	logger.Info("session config",
		"batch_workers", cfg.Batch.Workers,
		"track_zoom", cfg.TrackZoom,
	)

	return cfg
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 10,
		MaxConcurrentTotal: 1000,
		KeepaliveInterval:  30 * time.Second,
	}

	if v := os.Getenv("ORBVIEW_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBVIEW_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", 10)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}
	if v := os.Getenv("ORBVIEW_STREAM_KEEPALIVE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBVIEW_STREAM_KEEPALIVE_INTERVAL value, using default", "value", v, "default", 30)
		} else {
			cfg.KeepaliveInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("ORBVIEW_STREAM_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid ORBVIEW_STREAM_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.TrustProxy = trust
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}
