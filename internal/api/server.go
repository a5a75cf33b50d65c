// Package api exposes the tracking core over HTTP: catalog queries, the
// LOD-filtered satellite list, selection control, predicted positions, pass
// prediction, and the SSE prediction stream.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/orbview/orbview/internal/auth"
	"github.com/orbview/orbview/internal/health"
	"github.com/orbview/orbview/internal/httputil"
	"github.com/orbview/orbview/internal/lod"
	"github.com/orbview/orbview/internal/metrics"
	"github.com/orbview/orbview/internal/passes"
	"github.com/orbview/orbview/internal/session"
	"github.com/orbview/orbview/internal/stream"
	"github.com/orbview/orbview/internal/tle"
	"github.com/orbview/orbview/internal/transform"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	session    *session.Session
	store      *tle.Store
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server around one session.
func NewServer(addr string, sess *session.Session, store *tle.Store, streamCfg stream.Config, authCfg auth.Config, logger *slog.Logger) *Server {
	s := &Server{
		session: sess,
		store:   store,
		logger:  logger,
	}

	checker := health.NewChecker(store)
	streamHandler := stream.NewHandler(sess, store, streamCfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", checker.Healthz)
	mux.HandleFunc("GET /readyz", checker.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/catalog/metadata", s.handleCatalogMetadata)
	mux.HandleFunc("GET /api/v1/satellites", s.handleSatellites)
	mux.HandleFunc("GET /api/v1/satellites/{id}/position", s.handlePosition)
	mux.HandleFunc("GET /api/v1/satellites/{id}/passes", s.handlePasses)
	mux.HandleFunc("GET /api/v1/track", s.handleTrackStatus)
	mux.HandleFunc("POST /api/v1/track/{id}", s.handleTrackStart)
	mux.HandleFunc("DELETE /api/v1/track", s.handleTrackStop)
	mux.HandleFunc("GET /api/v1/stream/tracked", streamHandler.HandleTracked)

	// Middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) handleCatalogMetadata(w http.ResponseWriter, r *http.Request) {
	catalog := s.store.Get()
	if catalog == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "no catalog loaded")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"source":      catalog.Source,
		"fetched_at":  catalog.FetchedAt.UTC().Format(time.RFC3339),
		"age_seconds": int(time.Since(catalog.FetchedAt).Seconds()),
		"count":       len(catalog.Satellites),
	})
}

// handleSatellites serves the LOD-filtered satellite list for a viewport.
// GET /api/v1/satellites?west=-30&south=40&east=20&north=60&zoom=3&max=500&perf=full
func (s *Server) handleSatellites(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	vp := lod.Viewport{Zoom: 2, Bounds: lod.Bounds{West: -180, South: -90, East: 180, North: 90}}
	var err error
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"west", &vp.Bounds.West},
		{"south", &vp.Bounds.South},
		{"east", &vp.Bounds.East},
		{"north", &vp.Bounds.North},
		{"zoom", &vp.Zoom},
		{"center_lon", &vp.CenterLon},
		{"center_lat", &vp.CenterLat},
	} {
		if v := q.Get(p.name); v != "" {
			if *p.dst, err = strconv.ParseFloat(v, 64); err != nil {
				httputil.WriteError(w, http.StatusBadRequest, "invalid "+p.name+" parameter")
				return
			}
		}
	}
	if q.Get("center_lon") == "" {
		vp.CenterLon = transform.NormalizeLonDeg((vp.Bounds.West + vp.Bounds.East) / 2)
	}
	if q.Get("center_lat") == "" {
		vp.CenterLat = (vp.Bounds.South + vp.Bounds.North) / 2
	}

	maxCount := 1000
	if v := q.Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10000 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid max parameter, must be 1-10000")
			return
		}
		maxCount = n
	}

	hint := lod.PerfFull
	switch q.Get("perf") {
	case "", "full":
	case "reduced":
		hint = lod.PerfReduced
	case "minimal":
		hint = lod.PerfMinimal
	default:
		httputil.WriteError(w, http.StatusBadRequest, "invalid perf parameter, must be full|reduced|minimal")
		return
	}

	placements := s.session.Visible(r.Context(), vp, hint, maxCount)

	type satEntry struct {
		ID       string  `json:"id"`
		Lon      float64 `json:"longitude"`
		Lat      float64 `json:"latitude"`
		AltKm    float64 `json:"altitude_km"`
		Bearing  float64 `json:"bearing"`
		Level    string  `json:"level"`
		Icon     bool    `json:"icon"`
		Size     float64 `json:"size"`
		Priority int     `json:"priority"`
		Followed bool    `json:"followed,omitempty"`
	}
	out := make([]satEntry, len(placements))
	for i, p := range placements {
		out[i] = satEntry{
			ID:       p.ID,
			Lon:      p.Position.Longitude,
			Lat:      p.Position.Latitude,
			AltKm:    p.Position.AltitudeKm,
			Bearing:  p.Position.BearingDeg,
			Level:    p.Level.String(),
			Icon:     p.Icon,
			Size:     p.Size,
			Priority: p.Priority,
			Followed: p.Followed,
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"satellites": out, "count": len(out)})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pos, confidence, err := s.session.Position(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"t":          time.Now().UTC().Format(time.RFC3339Nano),
		"position":   pos,
		"confidence": confidence,
	})
}

// handlePasses predicts passes of one satellite over a ground observer.
// GET /api/v1/satellites/{id}/passes?lat=48.1&lon=11.6&alt_km=0.5&hours=24&min_elevation=10
func (s *Server) handlePasses(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	catalog := s.store.Get()
	if catalog == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "no catalog loaded")
		return
	}
	sat, ok := catalog.Lookup(id)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "satellite not in catalog")
		return
	}

	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		httputil.WriteError(w, http.StatusBadRequest, "lat and lon parameters are required")
		return
	}
	altKm := 0.0
	if v := q.Get("alt_km"); v != "" {
		if altKm, errLat = strconv.ParseFloat(v, 64); errLat != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid alt_km parameter")
			return
		}
	}
	hours := 24.0
	if v := q.Get("hours"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n <= 0 || n > 72 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid hours parameter, must be 0-72")
			return
		}
		hours = n
	}
	minElev := 10.0
	if v := q.Get("min_elevation"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n < 0 || n >= 90 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid min_elevation parameter, must be 0-90")
			return
		}
		minElev = n
	}

	results := passes.Predict(r.Context(), s.session.Handles(), passes.Request{
		Observer:     transform.NewObserver(lat, lon, altKm),
		Satellites:   []tle.Satellite{sat},
		Start:        time.Now().UTC(),
		HorizonHours: hours,
		MinElevation: minElev,
		MaxPasses:    20,
	})
	httputil.WriteJSON(w, http.StatusOK, results[0])
}

func (s *Server) handleTrackStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.session.Selected()
	if !ok {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"tracking": false})
		return
	}
	resp := map[string]any{"tracking": true, "id": id}
	if pred, ok := s.session.Tracker().PredictedPosition(time.Time{}); ok {
		resp["position"] = pred.Position
		resp["confidence"] = pred.Confidence
		resp["t"] = pred.At.UTC().Format(time.RFC3339Nano)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrackStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.session.Select(id); err != nil {
		httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tracking": true, "id": id})
}

func (s *Server) handleTrackStop(w http.ResponseWriter, r *http.Request) {
	s.session.Deselect()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tracking": false})
}

// probePath reports paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// SSE handler needs for write-deadline control.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Flush keeps the SSE handler's flusher assertion working through the
// middleware chain.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
