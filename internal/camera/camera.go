// Package camera smooths the viewport's pursuit of a moving target. The
// controller never jumps the view to the target's reported position; each
// frame it moves a fraction of the remaining distance toward a slightly
// leading point, which turns the tracker's discrete updates into continuous
// motion.
package camera

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/orbview/orbview/internal/propagation"
	"github.com/orbview/orbview/internal/sched"
	"github.com/orbview/orbview/internal/transform"
)

// Pose is a complete viewport state. Zoom, pitch and bearing are carried
// through untouched while tracking; only fly-to transitions change them.
type Pose struct {
	LonDeg     float64
	LatDeg     float64
	Zoom       float64
	PitchDeg   float64
	BearingDeg float64
}

// ViewportEngine is the host map surface the controller drives. Implemented
// by the embedding application; the controller only ever reads and writes
// poses through it.
type ViewportEngine interface {
	Pose() Pose
	SetPose(Pose)
}

// Config holds the smoothing constants.
type Config struct {
	BaseSmoothing    float64       // per-frame catch-up fraction at zero speed (default 0.08)
	VelocityBoost    float64       // extra fraction granted at MaxSpeed (default 0.1)
	MaxSmoothing     float64       // hard cap on the per-frame fraction (default 0.3)
	MaxSpeedKmPerSec float64       // speed at which the full boost applies (default 8)
	LeadTime         time.Duration // how far ahead of the target to aim (default 100ms)
	MinMoveDeg       float64       // skip the frame when the remaining delta is below this (default 1e-5)
}

func (c Config) withDefaults() Config {
	if c.BaseSmoothing <= 0 {
		c.BaseSmoothing = 0.08
	}
	if c.VelocityBoost <= 0 {
		c.VelocityBoost = 0.1
	}
	if c.MaxSmoothing <= 0 {
		c.MaxSmoothing = 0.3
	}
	if c.MaxSpeedKmPerSec <= 0 {
		c.MaxSpeedKmPerSec = 8
	}
	if c.LeadTime <= 0 {
		c.LeadTime = 100 * time.Millisecond
	}
	if c.MinMoveDeg <= 0 {
		c.MinMoveDeg = 1e-5
	}
	return c
}

// TargetSample is one observed target position with its timestamp. Samples
// must be delivered in time order; an older sample than the current one is
// coalesced away.
type TargetSample struct {
	Position propagation.GeoPosition
	At       time.Time
}

// targetState is the current pursuit target plus the velocity fit from the
// last two samples, in degrees per millisecond.
type targetState struct {
	sample   TargetSample
	lonPerMs float64
	latPerMs float64
}

// flight is an in-progress FlyTo transition.
type flight struct {
	from     Pose
	to       Pose
	start    time.Time
	duration time.Duration
	done     chan struct{}
}

// Controller drives a ViewportEngine toward a moving target. Methods are safe
// for concurrent use; the engine itself is only touched from Frame.
type Controller struct {
	engine ViewportEngine
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	tracking bool
	target   *targetState
	inFlight *flight

	loop sched.FrameLoop
}

// NewController binds a controller to the given viewport engine.
func NewController(engine ViewportEngine, config Config, logger *slog.Logger) *Controller {
	c := &Controller{
		engine: engine,
		config: config.withDefaults(),
		logger: logger,
	}
	c.loop.Bind(c.Frame)
	return c
}

// StartSmoothTracking begins pursuing target updates. The first UpdateTarget
// after this call sets the aim point; until then frames are no-ops.
func (c *Controller) StartSmoothTracking() {
	c.mu.Lock()
	c.tracking = true
	c.target = nil
	c.mu.Unlock()
}

// StopSmoothTracking halts pursuit and cancels any in-progress fly-to.
// Idempotent; safe from inside the frame callback.
func (c *Controller) StopSmoothTracking() {
	c.mu.Lock()
	c.tracking = false
	c.target = nil
	c.cancelFlightLocked()
	c.mu.Unlock()
}

// Tracking reports whether the controller is pursuing a target.
func (c *Controller) Tracking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracking
}

// UpdateTarget supplies the latest target position. Updates are coalesced:
// only the newest sample is pursued, and out-of-order samples are dropped.
// The target's apparent velocity is refit from each consecutive sample pair,
// with the longitude delta taken along the short way around.
func (c *Controller) UpdateTarget(sample TargetSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracking {
		return
	}

	prev := c.target
	next := &targetState{sample: sample}
	if prev != nil {
		elapsedMs := float64(sample.At.Sub(prev.sample.At)) / float64(time.Millisecond)
		if elapsedMs <= 0 {
			return
		}
		next.lonPerMs = shortestLonDelta(prev.sample.Position.Longitude, sample.Position.Longitude) / elapsedMs
		next.latPerMs = (sample.Position.Latitude - prev.sample.Position.Latitude) / elapsedMs
	}
	c.target = next
}

// Loop exposes the frame loop for self-timed operation. Host-driven embedders
// call Frame directly instead.
func (c *Controller) Loop() *sched.FrameLoop { return &c.loop }

// Frame advances the camera one frame at the given instant. A fly-to in
// progress takes precedence over tracking pursuit; with neither active the
// call is a no-op.
func (c *Controller) Frame(now time.Time) {
	c.mu.Lock()
	fl := c.inFlight
	c.mu.Unlock()

	if fl != nil {
		c.stepFlight(fl, now)
		return
	}

	c.mu.Lock()
	if !c.tracking || c.target == nil {
		c.mu.Unlock()
		return
	}
	target := *c.target
	cfg := c.config
	c.mu.Unlock()

	pose := c.engine.Pose()

	// Aim slightly ahead of the reported position so the view does not
	// perpetually trail the satellite.
	leadMs := float64(cfg.LeadTime) / float64(time.Millisecond)
	aimLon := transform.NormalizeLonDeg(target.sample.Position.Longitude + target.lonPerMs*leadMs)
	aimLat := transform.ClampLatDeg(target.sample.Position.Latitude + target.latPerMs*leadMs)

	dLon := shortestLonDelta(pose.LonDeg, aimLon)
	dLat := aimLat - pose.LatDeg
	if math.Abs(dLon) < cfg.MinMoveDeg && math.Abs(dLat) < cfg.MinMoveDeg {
		return
	}

	factor := cfg.BaseSmoothing + math.Min(cfg.VelocityBoost, cfg.VelocityBoost*target.sample.Position.SpeedKmPerSec/cfg.MaxSpeedKmPerSec)
	if factor > cfg.MaxSmoothing {
		factor = cfg.MaxSmoothing
	}

	pose.LonDeg = transform.NormalizeLonDeg(pose.LonDeg + dLon*factor)
	pose.LatDeg = transform.ClampLatDeg(pose.LatDeg + dLat*factor)
	c.engine.SetPose(pose)
}

// FlyTo animates the viewport to the given pose over the duration with cubic
// ease-in-out, then returns. Cancelled by ctx or StopSmoothTracking, in which
// case the view stays wherever the animation had reached.
func (c *Controller) FlyTo(ctx context.Context, to Pose, duration time.Duration) error {
	if duration <= 0 {
		c.engine.SetPose(to)
		return nil
	}

	fl := &flight{
		from:     c.engine.Pose(),
		to:       to,
		duration: duration,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	c.cancelFlightLocked()
	c.inFlight = fl
	c.mu.Unlock()

	select {
	case <-fl.done:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		if c.inFlight == fl {
			c.cancelFlightLocked()
		}
		c.mu.Unlock()
		return ctx.Err()
	}
}

// stepFlight advances a fly-to one frame, finishing it when the duration has
// elapsed.
func (c *Controller) stepFlight(fl *flight, now time.Time) {
	if fl.start.IsZero() {
		fl.start = now
	}

	progress := float64(now.Sub(fl.start)) / float64(fl.duration)
	if progress >= 1 {
		c.engine.SetPose(fl.to)
		c.mu.Lock()
		if c.inFlight == fl {
			c.inFlight = nil
			close(fl.done)
		}
		c.mu.Unlock()
		return
	}

	e := easeInOutCubic(progress)
	c.engine.SetPose(Pose{
		LonDeg:     transform.NormalizeLonDeg(fl.from.LonDeg + shortestLonDelta(fl.from.LonDeg, fl.to.LonDeg)*e),
		LatDeg:     fl.from.LatDeg + (fl.to.LatDeg-fl.from.LatDeg)*e,
		Zoom:       fl.from.Zoom + (fl.to.Zoom-fl.from.Zoom)*e,
		PitchDeg:   fl.from.PitchDeg + (fl.to.PitchDeg-fl.from.PitchDeg)*e,
		BearingDeg: fl.from.BearingDeg + (fl.to.BearingDeg-fl.from.BearingDeg)*e,
	})
}

// cancelFlightLocked ends the current flight, if any, releasing its waiter.
// Caller holds c.mu.
func (c *Controller) cancelFlightLocked() {
	if c.inFlight != nil {
		close(c.inFlight.done)
		c.inFlight = nil
	}
}

// shortestLonDelta returns the signed degrees from lon a to lon b along the
// short way around, so a pursuit across the antimeridian moves through ±180
// instead of sweeping the whole globe.
func shortestLonDelta(a, b float64) float64 {
	d := b - a
	for d > 180 {
		d -= 360
	}
	for d < -180 {
		d += 360
	}
	return d
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	f := -2*t + 2
	return 1 - f*f*f/2
}
