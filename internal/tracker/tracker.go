// Package tracker serves high-rate position predictions for the one actively
// followed satellite. The propagator is sampled exactly only every refresh
// interval; between refreshes, positions are linearly extrapolated from a
// locally-fit velocity vector and served from a precomputed prediction cache
// at the 30 Hz update rate. A confidence score decays as predictions age away
// from the last exact sample.
package tracker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orbview/orbview/internal/metrics"
	"github.com/orbview/orbview/internal/propagation"
	"github.com/orbview/orbview/internal/sched"
	"github.com/orbview/orbview/internal/transform"
)

// Config holds the tracker's timing constants.
type Config struct {
	UpdateInterval    time.Duration // prediction tick period (default 33ms ≈ 30Hz)
	RefreshInterval   time.Duration // exact propagator sampling period (default 15s)
	RetryInterval     time.Duration // refresh retry period after a failure (default 1s)
	VelocitySampleGap time.Duration // gap between the two samples fitting the velocity (default 100ms)
	PredictionHorizon time.Duration // confidence reaches 0 at this prediction age (default 5s)
	CacheHorizon      time.Duration // how far ahead predictions are precomputed (default 16s)
	MaxCacheEntries   int           // bound on the prediction cache (default 500)
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 33 * time.Millisecond
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 15 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.VelocitySampleGap <= 0 {
		c.VelocitySampleGap = 100 * time.Millisecond
	}
	if c.PredictionHorizon <= 0 {
		c.PredictionHorizon = 5 * time.Second
	}
	if c.CacheHorizon <= 0 {
		c.CacheHorizon = 16 * time.Second
	}
	if c.MaxCacheEntries <= 0 {
		c.MaxCacheEntries = 500
	}
	return c
}

// Prediction is one served position for the tracked satellite.
type Prediction struct {
	SatelliteID string
	Position    propagation.GeoPosition
	Confidence  float64 // 1 at an exact sample, decaying to 0 over PredictionHorizon
	At          time.Time
	Exact       bool // true when the position came from the propagator, not extrapolation
}

// velocityVector is the locally-fit rate of change of the sub-satellite
// point, per millisecond.
type velocityVector struct {
	lonPerMs float64
	latPerMs float64
	altPerMs float64
}

// trackingState is the per-target record. It is replaced wholesale when
// tracking switches satellites, never mutated across targets.
type trackingState struct {
	satelliteID   string
	handle        *propagation.Handle
	lastExact     propagation.GeoPosition
	lastExactAt   time.Time
	velocity      velocityVector
	orbitalPeriod time.Duration
	nextRefreshAt time.Time
	predictions   map[int64]Prediction
}

type subscriber struct {
	id int
	fn func(Prediction)
}

// Tracker follows at most one satellite at a time. Safe for concurrent use;
// subscriber callbacks are invoked in subscription order from a single tick
// goroutine, so updates are never delivered out of order.
type Tracker struct {
	handles *propagation.HandleCache
	config  Config
	logger  *slog.Logger
	now     func() time.Time // injected for deterministic tests

	mu      sync.Mutex
	state   *trackingState
	subs    []subscriber
	nextSub int
	task    sched.IntervalTask
}

// New creates a Tracker using the given shared handle cache.
func New(handles *propagation.HandleCache, config Config, logger *slog.Logger) *Tracker {
	return &Tracker{
		handles: handles,
		config:  config.withDefaults(),
		logger:  logger,
		now:     time.Now,
	}
}

// StartTracking begins following the given satellite, replacing any current
// target (destroy-then-create: there is never more than one TrackingState).
// Returns an error if the elements cannot be compiled or the initial exact
// position cannot be computed.
func (t *Tracker) StartTracking(satelliteID, line1, line2 string) error {
	handle, err := t.handles.Get(line1, line2)
	if err != nil {
		return fmt.Errorf("tracking %s: %w", satelliteID, err)
	}

	now := t.now()
	p0, err := handle.Evaluate(now)
	if err != nil {
		return fmt.Errorf("tracking %s: %w", satelliteID, err)
	}
	p1, err := handle.Evaluate(now.Add(t.config.VelocitySampleGap))
	if err != nil {
		return fmt.Errorf("tracking %s: %w", satelliteID, err)
	}

	state := &trackingState{
		satelliteID:   satelliteID,
		handle:        handle,
		lastExact:     p0,
		lastExactAt:   now,
		velocity:      fitVelocity(p0, p1, t.config.VelocitySampleGap),
		orbitalPeriod: handle.OrbitalPeriod(),
		nextRefreshAt: now.Add(t.config.RefreshInterval),
		predictions:   make(map[int64]Prediction),
	}

	t.mu.Lock()
	t.state = state
	t.populatePredictions(state, now)
	t.mu.Unlock()

	t.task.Start(t.config.UpdateInterval, t.tick)
	metrics.SetTrackingActive(true)

	t.logger.Info("tracking started",
		"satellite_id", satelliteID,
		"orbital_period_s", state.orbitalPeriod.Seconds(),
		"refresh_interval_s", t.config.RefreshInterval.Seconds(),
	)
	return nil
}

// StopTracking cancels the prediction tick and clears all tracking state.
// Idempotent, and safe to call from within a subscriber callback: no further
// callbacks fire after it returns.
func (t *Tracker) StopTracking() {
	t.task.Stop()

	t.mu.Lock()
	stopped := t.state != nil
	id := ""
	if t.state != nil {
		id = t.state.satelliteID
	}
	t.state = nil
	t.mu.Unlock()

	if stopped {
		metrics.SetTrackingActive(false)
		t.logger.Info("tracking stopped", "satellite_id", id)
	}
}

// TrackingID returns the currently tracked satellite ID, if any.
func (t *Tracker) TrackingID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == nil {
		return "", false
	}
	return t.state.satelliteID, true
}

// Subscribe registers fn to receive every prediction tick, in subscription
// order. The returned cancel function is idempotent.
func (t *Tracker) Subscribe(fn func(Prediction)) (cancel func()) {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs = append(t.subs, subscriber{id: id, fn: fn})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.subs {
			if s.id == id {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				return
			}
		}
	}
}

// PredictedPosition returns the predicted position at the given time (or the
// current time if at is zero). Served from the precomputed cache when an
// entry lies within one update interval of the request; otherwise computed by
// linear extrapolation from the last exact sample. Returns false when nothing
// is being tracked.
func (t *Tracker) PredictedPosition(at time.Time) (Prediction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == nil {
		return Prediction{}, false
	}
	if at.IsZero() {
		at = t.now()
	}
	return t.predictLocked(t.state, at), true
}

// tick runs at the update frequency: refresh the exact sample when due, then
// publish the current prediction. Time comes from the tracker's own clock, not
// the ticker, so all state transitions observe one time source.
func (t *Tracker) tick(_ time.Time) {
	now := t.now()

	t.mu.Lock()
	state := t.state
	if state == nil {
		t.mu.Unlock()
		return
	}

	if !now.Before(state.nextRefreshAt) {
		t.refreshLocked(state, now)
	}

	pred := t.predictLocked(state, now)
	subs := make([]subscriber, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	metrics.SetTrackerConfidence(pred.Confidence)

	// Callbacks run outside the lock so a subscriber may call back into the
	// tracker (including StopTracking) without deadlocking.
	for _, s := range subs {
		s.fn(pred)
	}
}

// refreshLocked recomputes an exact position and refits the velocity vector
// from the delta against the immediately preceding exact sample. On failure
// the current state is retained — extrapolation continues from the last good
// sample with decaying confidence — and the refresh is retried sooner.
func (t *Tracker) refreshLocked(state *trackingState, now time.Time) {
	exact, err := state.handle.Evaluate(now)
	if err != nil {
		state.nextRefreshAt = now.Add(t.config.RetryInterval)
		metrics.IncTrackerRefresh("error")
		t.logger.Warn("exact refresh failed, extrapolating",
			"satellite_id", state.satelliteID,
			"error", err,
		)
		return
	}

	elapsedMs := float64(now.Sub(state.lastExactAt)) / float64(time.Millisecond)
	if elapsedMs > 0 {
		state.velocity = velocityBetween(state.lastExact, exact, elapsedMs)
	}

	state.lastExact = exact
	state.lastExactAt = now
	state.nextRefreshAt = now.Add(t.config.RefreshInterval)

	// The old cache extrapolated from the previous sample; regenerate it.
	state.predictions = make(map[int64]Prediction)
	t.populatePredictions(state, now)

	metrics.IncTrackerRefresh("ok")
	t.logger.Debug("exact position refreshed",
		"satellite_id", state.satelliteID,
		"longitude", exact.Longitude,
		"latitude", exact.Latitude,
	)
}

// populatePredictions precomputes extrapolated positions over the cache
// horizon at update-interval steps. Caller holds t.mu.
func (t *Tracker) populatePredictions(state *trackingState, from time.Time) {
	steps := int(t.config.CacheHorizon / t.config.UpdateInterval)
	if steps > t.config.MaxCacheEntries {
		steps = t.config.MaxCacheEntries
	}
	for i := 0; i <= steps && len(state.predictions) < t.config.MaxCacheEntries; i++ {
		at := from.Add(time.Duration(i) * t.config.UpdateInterval)
		state.predictions[t.cacheKey(at)] = t.extrapolate(state, at)
	}
}

// predictLocked serves a prediction for the given time. Caller holds t.mu.
func (t *Tracker) predictLocked(state *trackingState, at time.Time) Prediction {
	if pred, ok := state.predictions[t.cacheKey(at)]; ok {
		if absDuration(pred.At.Sub(at)) <= t.config.UpdateInterval {
			return pred
		}
	}
	return t.extrapolate(state, at)
}

// extrapolate computes lastExact + velocity·Δt with latitude clamped,
// longitude wrapped, and bearing carried forward from the last exact sample
// (bearing is not re-derived between refreshes; the 15 s exact refresh
// corrects it).
func (t *Tracker) extrapolate(state *trackingState, at time.Time) Prediction {
	dtMs := float64(at.Sub(state.lastExactAt)) / float64(time.Millisecond)

	alt := state.lastExact.AltitudeKm + state.velocity.altPerMs*dtMs
	if alt < 0 {
		alt = 0
	}

	pos := propagation.GeoPosition{
		Longitude:     transform.NormalizeLonDeg(state.lastExact.Longitude + state.velocity.lonPerMs*dtMs),
		Latitude:      transform.ClampLatDeg(state.lastExact.Latitude + state.velocity.latPerMs*dtMs),
		AltitudeKm:    alt,
		SpeedKmPerSec: state.lastExact.SpeedKmPerSec,
		BearingDeg:    state.lastExact.BearingDeg,
	}

	confidence := 1.0 - absFloat(dtMs)/float64(t.config.PredictionHorizon.Milliseconds())
	if confidence < 0 {
		confidence = 0
	}

	return Prediction{
		SatelliteID: state.satelliteID,
		Position:    pos,
		Confidence:  confidence,
		At:          at,
		Exact:       dtMs == 0,
	}
}

// cacheKey buckets a timestamp onto the update-interval grid.
func (t *Tracker) cacheKey(at time.Time) int64 {
	interval := t.config.UpdateInterval.Milliseconds()
	return at.UnixMilli() / interval
}

// fitVelocity derives the per-millisecond velocity vector from two exact
// samples separated by gap.
func fitVelocity(p0, p1 propagation.GeoPosition, gap time.Duration) velocityVector {
	return velocityBetween(p0, p1, float64(gap)/float64(time.Millisecond))
}

// velocityBetween computes (p1-p0)/elapsedMs with the longitude delta taken
// along the short way around, so a target crossing the antimeridian gets a
// small velocity, not a ±360°/step one.
func velocityBetween(p0, p1 propagation.GeoPosition, elapsedMs float64) velocityVector {
	dLon := p1.Longitude - p0.Longitude
	if dLon > 180 {
		dLon -= 360
	} else if dLon < -180 {
		dLon += 360
	}
	return velocityVector{
		lonPerMs: dLon / elapsedMs,
		latPerMs: (p1.Latitude - p0.Latitude) / elapsedMs,
		altPerMs: (p1.AltitudeKm - p0.AltitudeKm) / elapsedMs,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
