// Package session ties the tracking core together for one view: a session
// owns its caches, batch calculator, tracker and camera controller, so
// independent sessions (and tests) never share hidden state.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbview/orbview/internal/batch"
	"github.com/orbview/orbview/internal/camera"
	"github.com/orbview/orbview/internal/lod"
	"github.com/orbview/orbview/internal/propagation"
	"github.com/orbview/orbview/internal/tle"
	"github.com/orbview/orbview/internal/tracker"
)

// Config aggregates per-component settings plus the selection fly-to pose.
type Config struct {
	Batch   batch.Config
	Tracker tracker.Config
	Camera  camera.Config

	TrackZoom     float64       // zoom applied by the initial fly-to (default 4)
	FlyToDuration time.Duration // initial fly-to duration (default 2s)
}

func (c Config) withDefaults() Config {
	if c.TrackZoom <= 0 {
		c.TrackZoom = 4
	}
	if c.FlyToDuration <= 0 {
		c.FlyToDuration = 2 * time.Second
	}
	return c
}

// Session is one independent tracking context. Safe for concurrent use.
type Session struct {
	ID uuid.UUID

	store   *tle.Store
	handles *propagation.HandleCache
	calc    *batch.Calculator
	tracker *tracker.Tracker
	camera  *camera.Controller
	config  Config
	logger  *slog.Logger

	mu          sync.Mutex
	selected    string
	unsubscribe func()
	flyCancel   context.CancelFunc
}

// New builds a session around the given catalog store and viewport engine.
func New(store *tle.Store, engine camera.ViewportEngine, config Config, logger *slog.Logger) *Session {
	config = config.withDefaults()
	id := uuid.New()
	logger = logger.With("session_id", id.String())

	handles := propagation.NewHandleCache()
	return &Session{
		ID:      id,
		store:   store,
		handles: handles,
		calc:    batch.NewCalculator(handles, config.Batch, logger),
		tracker: tracker.New(handles, config.Tracker, logger),
		camera:  camera.NewController(engine, config.Camera, logger),
		config:  config,
		logger:  logger,
	}
}

// Tracker exposes the session's tracker for prediction queries and streaming.
func (s *Session) Tracker() *tracker.Tracker { return s.tracker }

// Camera exposes the session's camera controller for host frame driving.
func (s *Session) Camera() *camera.Controller { return s.camera }

// Frame advances the camera one frame. Hosts with their own render loop call
// this once per frame; self-timed operation uses Camera().Loop().Start.
func (s *Session) Frame(now time.Time) { s.camera.Frame(now) }

// Select starts tracking the given catalog satellite, replacing any current
// selection. The camera begins smooth pursuit fed by tracker predictions, and
// an eased fly-to carries the view to the target. Selecting the already
// selected satellite is a no-op.
func (s *Session) Select(satelliteID string) error {
	catalog := s.store.Get()
	if catalog == nil {
		return fmt.Errorf("select %s: no catalog loaded", satelliteID)
	}
	sat, ok := catalog.Lookup(satelliteID)
	if !ok {
		return fmt.Errorf("select %s: not in catalog", satelliteID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == satelliteID {
		return nil
	}
	s.deselectLocked()

	// The tracked satellite must never be served a stale cached position.
	s.calc.Invalidate(satelliteID)

	if err := s.tracker.StartTracking(sat.ID, sat.Line1, sat.Line2); err != nil {
		return err
	}

	s.camera.StartSmoothTracking()
	s.unsubscribe = s.tracker.Subscribe(func(p tracker.Prediction) {
		s.camera.UpdateTarget(camera.TargetSample{Position: p.Position, At: p.At})
	})
	s.selected = satelliteID

	if pred, ok := s.tracker.PredictedPosition(time.Time{}); ok {
		ctx, cancel := context.WithCancel(context.Background())
		s.flyCancel = cancel
		pose := camera.Pose{
			LonDeg: pred.Position.Longitude,
			LatDeg: pred.Position.Latitude,
			Zoom:   s.config.TrackZoom,
		}
		go func() {
			defer cancel()
			if err := s.camera.FlyTo(ctx, pose, s.config.FlyToDuration); err != nil {
				s.logger.Debug("fly-to interrupted", "satellite_id", satelliteID, "error", err)
			}
		}()
	}

	s.logger.Info("satellite selected", "satellite_id", satelliteID, "name", sat.Name)
	return nil
}

// Deselect stops tracking and camera pursuit. Idempotent.
func (s *Session) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deselectLocked()
}

func (s *Session) deselectLocked() {
	if s.selected == "" {
		return
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.flyCancel != nil {
		s.flyCancel()
		s.flyCancel = nil
	}
	s.tracker.StopTracking()
	s.camera.StopSmoothTracking()
	s.logger.Info("satellite deselected", "satellite_id", s.selected)
	s.selected = ""
}

// Selected returns the currently tracked satellite ID, if any.
func (s *Session) Selected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.selected != ""
}

// Close releases the session's timers. The session must not be used after.
func (s *Session) Close() {
	s.Deselect()
	s.camera.Loop().Stop()
}

// Handles exposes the session's compiled-propagator cache.
func (s *Session) Handles() *propagation.HandleCache { return s.handles }

// Position resolves one satellite's current position with a confidence score.
// The tracked satellite is served from the predictive tracker; anything else
// goes through the batch path (cache-eligible) with confidence 1.
func (s *Session) Position(ctx context.Context, satelliteID string) (propagation.GeoPosition, float64, error) {
	if selected, ok := s.Selected(); ok && selected == satelliteID {
		if pred, ok := s.tracker.PredictedPosition(time.Time{}); ok {
			return pred.Position, pred.Confidence, nil
		}
	}

	catalog := s.store.Get()
	if catalog == nil {
		return propagation.GeoPosition{}, 0, fmt.Errorf("position %s: no catalog loaded", satelliteID)
	}
	sat, ok := catalog.Lookup(satelliteID)
	if !ok {
		return propagation.GeoPosition{}, 0, fmt.Errorf("position %s: not in catalog", satelliteID)
	}

	results := s.calc.CalculateBatch(ctx, []batch.Request{{ID: sat.ID, Line1: sat.Line1, Line2: sat.Line2}})
	if len(results) == 0 {
		return propagation.GeoPosition{}, 0, fmt.Errorf("position %s: propagation failed", satelliteID)
	}
	return results[0].Position, 1, nil
}

// Visible computes the renderable satellite set for the given viewport:
// hash sampling gates which satellites are propagated at all, the batch
// calculator resolves their positions (bypassing the cache for the tracked
// one), and the culler drops what the viewport cannot show.
func (s *Session) Visible(ctx context.Context, vp lod.Viewport, hint lod.PerfHint, maxCount int) []lod.Placement {
	catalog := s.store.Get()
	if catalog == nil {
		return nil
	}

	selected, _ := s.Selected()
	level := lod.LevelForZoom(vp.Zoom)

	requests := make([]batch.Request, 0, len(catalog.Satellites))
	meta := make(map[string]tle.Satellite, len(catalog.Satellites))
	for _, sat := range catalog.Satellites {
		pinned := sat.Flagship || sat.ID == selected
		if !pinned && !lod.Sampled(sat.ID, level, hint) {
			continue
		}
		requests = append(requests, batch.Request{
			ID:        sat.ID,
			Line1:     sat.Line1,
			Line2:     sat.Line2,
			SkipCache: sat.ID == selected,
		})
		meta[sat.ID] = sat
	}

	results := s.calc.CalculateBatch(ctx, requests)

	entities := make([]lod.Entity, 0, len(results))
	for _, r := range results {
		sat := meta[r.ID]
		entities = append(entities, lod.Entity{
			ID:       r.ID,
			Position: r.Position,
			Followed: r.ID == selected,
			Flagship: sat.Flagship,
		})
	}
	return lod.Filter(entities, vp, hint, maxCount)
}
