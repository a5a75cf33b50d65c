// Package propagation adapts the external SGP4 primitive into the contract
// the tracking core builds on: Compile turns an element pair into a reusable
// Handle, Evaluate turns a Handle and a timestamp into a GeoPosition.
//
// SGP4 library choice: github.com/joshuaferrara/go-satellite — pure Go,
// battle-tested, explicit TEME output. Propagate() takes its Satellite by
// value, so SGP4 error codes are not visible per call; failures are detected
// by checking the output for NaN/Inf and implausible magnitudes.
package propagation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/orbview/orbview/internal/tle"
	"github.com/orbview/orbview/internal/transform"
)

// Handle is a compiled per-element-set propagator, produced once by Compile
// and reused for evaluation at arbitrary timestamps. Immutable; safe for
// concurrent use.
type Handle struct {
	sat     satellite.Satellite
	key     uint64
	noradID int
	period  time.Duration
}

// Compile validates an element pair and initializes the SGP4 model for it.
// Returns *InvalidElementsError if the lines are malformed or the model
// rejects them.
//
// Validation runs before the library is called: go-satellite terminates the
// process on unparseable input, so garbage must never reach it.
func Compile(line1, line2 string) (*Handle, error) {
	if err := tle.ValidateLines(line1, line2); err != nil {
		return nil, &InvalidElementsError{Reason: err.Error()}
	}

	noradID, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return nil, &InvalidElementsError{Reason: fmt.Sprintf("unparseable catalog number %q", line1[2:7])}
	}

	meanMotion, err := tle.MeanMotionRevsPerDay(line2)
	if err != nil {
		return nil, &InvalidElementsError{Reason: err.Error()}
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, &InvalidElementsError{
			Reason: fmt.Sprintf("sgp4 init failed: code=%d %s", sat.Error, sat.ErrorStr),
		}
	}

	return &Handle{
		sat:     sat,
		key:     ElementsKey(line1, line2),
		noradID: noradID,
		period:  time.Duration(86400.0 / meanMotion * float64(time.Second)),
	}, nil
}

// NORADID returns the catalog number the handle was compiled from.
func (h *Handle) NORADID() int { return h.noradID }

// Key returns the content hash of the element lines.
func (h *Handle) Key() uint64 { return h.key }

// OrbitalPeriod returns the orbital period derived from the mean motion
// (2π / mean motion). The tracker uses it only as a refresh-interval hint.
func (h *Handle) OrbitalPeriod() time.Duration { return h.period }

// StateECEF evaluates the orbit at t and returns the ECEF state in km and
// km/s, plus the inertial speed. Sub-second timestamps are handled by
// propagating at the whole second and advancing the TEME state linearly by
// the propagated velocity; for LEO accelerations the error stays below ~5 m
// over a full second.
//
// Deterministic: depends only on the compiled elements and t.
func (h *Handle) StateECEF(t time.Time) (transform.StateECEF, float64, error) {
	t = t.UTC()
	whole := t.Truncate(time.Second)

	pos, vel := satellite.Propagate(
		h.sat,
		whole.Year(), int(whole.Month()), whole.Day(),
		whole.Hour(), whole.Minute(), whole.Second(),
	)

	if !finite(pos.X) || !finite(pos.Y) || !finite(pos.Z) ||
		!finite(vel.X) || !finite(vel.Y) || !finite(vel.Z) {
		return transform.StateECEF{}, 0, &PropagationError{
			Kind: KindNumerical, NORADID: h.noradID, Detail: "output is NaN/Inf",
		}
	}

	frac := t.Sub(whole).Seconds()
	teme := transform.StateTEME{
		X:  pos.X + vel.X*frac,
		Y:  pos.Y + vel.Y*frac,
		Z:  pos.Z + vel.Z*frac,
		VX: vel.X,
		VY: vel.Y,
		VZ: vel.Z,
	}

	mag := math.Sqrt(teme.X*teme.X + teme.Y*teme.Y + teme.Z*teme.Z)
	switch {
	case mag < 6478.0: // below ~100 km altitude
		return transform.StateECEF{}, 0, &PropagationError{
			Kind: KindDecayed, NORADID: h.noradID,
			Detail: fmt.Sprintf("position magnitude %.1f km is below a survivable orbit", mag),
		}
	case mag > 50000.0:
		return transform.StateECEF{}, 0, &PropagationError{
			Kind: KindNumerical, NORADID: h.noradID,
			Detail: fmt.Sprintf("implausible position magnitude %.1f km", mag),
		}
	}

	return transform.TEMEToECEF(teme, t), teme.SpeedKmPerSec(), nil
}

// Evaluate computes the sub-satellite GeoPosition at t. Bearing is the
// compass heading of the ground-relative velocity in the local East-North-Up
// frame at the computed geodetic point; the Earth-rotation correction is
// already applied by the TEME→ECEF transform.
func (h *Handle) Evaluate(t time.Time) (GeoPosition, error) {
	ecef, speed, err := h.StateECEF(t)
	if err != nil {
		return GeoPosition{}, err
	}

	geo := transform.ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z)
	bearing := transform.ECEFVelocityToENU(ecef, geo).Bearing()

	alt := geo.AltKm
	if alt < 0 {
		alt = 0
	}

	return GeoPosition{
		Longitude:     geo.LonDeg,
		Latitude:      transform.ClampLatDeg(geo.LatDeg),
		AltitudeKm:    alt,
		SpeedKmPerSec: speed,
		BearingDeg:    bearing,
	}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
