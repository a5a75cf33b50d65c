// Package stream implements Server-Sent Events (SSE) streaming of the
// tracked satellite's predicted positions. Clients connect via
// GET /api/v1/stream/tracked and receive predictions at a client-chosen rate.
//
// SSE message format:
//
//	data: {"type":"prediction","id":"25544","t":"...","position":{...},"confidence":0.97}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","catalog_source":"...","catalog_age_seconds":1800}\n\n
//
// When tracking stops mid-stream a final {"type":"tracking_stopped"} message
// is sent and the connection closes. Keep-alive comments (:\n\n) are sent
// every KeepaliveInterval; reconnecting clients get fresh metadata each time.
package stream

import (
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/orbview/orbview/internal/httputil"
	"github.com/orbview/orbview/internal/metrics"
	"github.com/orbview/orbview/internal/propagation"
	"github.com/orbview/orbview/internal/session"
	"github.com/orbview/orbview/internal/tle"
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // max concurrent streams per IP (default: 10)
	MaxConcurrentTotal int           // global stream cap (default: 1000)
	KeepaliveInterval  time.Duration // keep-alive ping interval (default: 30s)
	TrustProxy         bool          // trust X-Forwarded-For / X-Real-IP
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = 10
	}
	if c.MaxConcurrentTotal <= 0 {
		c.MaxConcurrentTotal = 1000
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	return c
}

// Handler manages SSE streaming connections.
type Handler struct {
	session *session.Session
	store   *tle.Store
	config  Config
	limiter *connLimiter
	logger  *slog.Logger
}

// NewHandler creates a streaming handler bound to one session.
func NewHandler(sess *session.Session, store *tle.Store, config Config, logger *slog.Logger) *Handler {
	config = config.withDefaults()
	return &Handler{
		session: sess,
		store:   store,
		config:  config,
		limiter: newConnLimiter(config.MaxConcurrentPerIP, config.MaxConcurrentTotal),
		logger:  logger,
	}
}

// HandleTracked serves the tracked-satellite prediction stream.
// GET /api/v1/stream/tracked?rate=10 (predictions per second, 1-30)
func (h *Handler) HandleTracked(w http.ResponseWriter, r *http.Request) {
	rate := 10
	if v := r.URL.Query().Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 30 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid rate parameter, must be 1-30")
			return
		}
		rate = n
	}

	if _, ok := h.session.Selected(); !ok {
		httputil.WriteError(w, http.StatusConflict, "no satellite is being tracked")
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"rate", rate,
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Long-lived SSE must not inherit the server's default WriteTimeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
	}

	// Jittered retry interval (3-7s) prevents thundering-herd reconnection
	// storms when the server restarts.
	retryMs := 3000 + rand.Intn(4000)
	if _, err := w.Write([]byte("retry: " + strconv.Itoa(retryMs) + "\n\n")); err != nil {
		return
	}
	flusher.Flush()

	if catalog := h.store.Get(); catalog != nil {
		meta := metadataMessage{
			Type:          "metadata",
			CatalogSource: catalog.Source,
			CatalogAge:    int(time.Since(catalog.FetchedAt).Seconds()),
		}
		if err := c.sendJSON(meta); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
			return
		}
	}

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case now := <-ticker.C:
			pred, ok := h.session.Tracker().PredictedPosition(now)
			if !ok {
				c.sendJSON(map[string]string{"type": "tracking_stopped"})
				return
			}

			msg := predictionMessage{
				Type:        "prediction",
				SatelliteID: pred.SatelliteID,
				T:           pred.At.UTC().Format(time.RFC3339Nano),
				Position:    pred.Position,
				Confidence:  pred.Confidence,
			}
			if err := c.sendJSON(msg); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}

			// Data just went out; push the keepalive back.
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// SSE message payload types.

type metadataMessage struct {
	Type          string `json:"type"`
	CatalogSource string `json:"catalog_source"`
	CatalogAge    int    `json:"catalog_age_seconds"`
}

type predictionMessage struct {
	Type        string                  `json:"type"`
	SatelliteID string                  `json:"id"`
	T           string                  `json:"t"`
	Position    propagation.GeoPosition `json:"position"`
	Confidence  float64                 `json:"confidence"`
}
