// Package passes predicts when satellites rise above a ground observer's
// horizon. A coarse 30 s scan finds candidate windows, a fine 1 s scan pins
// down rise, culmination and set.
package passes

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/orbview/orbview/internal/propagation"
	"github.com/orbview/orbview/internal/tle"
	"github.com/orbview/orbview/internal/transform"
)

// GroundTrackPoint is a sub-satellite position at a specific time during a pass.
type GroundTrackPoint struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	AltKm     float64   `json:"altitude_km"`
	Elevation float64   `json:"elevation"` // degrees above observer's horizon
}

// PassEvent describes a single satellite pass over an observer location.
type PassEvent struct {
	StartTime        time.Time          `json:"start_time"`
	MaxElevationTime time.Time          `json:"max_elevation_time"`
	EndTime          time.Time          `json:"end_time"`
	DurationSeconds  float64            `json:"duration_seconds"`
	MaxElevation     float64            `json:"max_elevation"`
	AzimuthAtMax     float64            `json:"azimuth_at_max"`
	StartAzimuth     float64            `json:"start_azimuth"`
	EndAzimuth       float64            `json:"end_azimuth"`
	GroundTrack      []GroundTrackPoint `json:"ground_track"`
}

// SatellitePasses holds the predicted passes for one satellite.
type SatellitePasses struct {
	SatelliteID string      `json:"satellite_id"`
	Passes      []PassEvent `json:"passes"`
	Error       string      `json:"error,omitempty"`
}

// Request holds the parameters for a pass prediction request.
type Request struct {
	Observer     transform.Observer
	Satellites   []tle.Satellite
	Start        time.Time
	HorizonHours float64
	MinElevation float64 // degrees
	MaxPasses    int
}

const (
	coarseStep      = 30 * time.Second
	fineStep        = time.Second
	groundTrackStep = 10 // seconds between ground track samples
	minPassDur      = 10 * time.Second
)

// Predict computes passes for every requested satellite. Each satellite is
// processed in its own goroutine, bounded by a semaphore.
func Predict(ctx context.Context, handles *propagation.HandleCache, req Request) []SatellitePasses {
	results := make([]SatellitePasses, len(req.Satellites))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, sat := range req.Satellites {
		wg.Add(1)
		go func(idx int, sat tle.Satellite) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = SatellitePasses{SatelliteID: sat.ID, Error: "cancelled"}
				return
			}

			handle, err := handles.Get(sat.Line1, sat.Line2)
			if err != nil {
				results[idx] = SatellitePasses{SatelliteID: sat.ID, Error: err.Error()}
				return
			}
			results[idx] = SatellitePasses{
				SatelliteID: sat.ID,
				Passes:      predictSatellite(ctx, handle, req),
			}
		}(i, sat)
	}

	wg.Wait()
	return results
}

// predictSatellite finds all passes for a single satellite within the horizon.
func predictSatellite(ctx context.Context, handle *propagation.Handle, req Request) []PassEvent {
	end := req.Start.Add(time.Duration(req.HorizonHours * float64(time.Hour)))
	var passes []PassEvent

	// Coarse scan: step through the range looking for elevation > 0.
	t := req.Start
	for t.Before(end) && len(passes) < req.MaxPasses {
		if ctx.Err() != nil {
			return passes
		}

		el, _, _, err := elevationAt(handle, req.Observer, t)
		if err != nil {
			t = t.Add(coarseStep)
			continue
		}

		if el > 0 {
			// Candidate window. Fine scan to find the full pass.
			pass, windowEnd := refinePass(ctx, handle, req.Observer, t, req.Start, end, req.MinElevation)
			if pass != nil && pass.EndTime.Sub(pass.StartTime) >= minPassDur {
				passes = append(passes, *pass)
			}
			t = windowEnd.Add(coarseStep)
		} else {
			t = t.Add(coarseStep)
		}
	}

	return passes
}

// refinePass scans around a coarse above-horizon hit at fine resolution. It
// backs up to find the actual rise, then forward to the set. Returns the pass
// event (nil if no complete pass was resolved) and the time the window ends.
func refinePass(ctx context.Context, handle *propagation.Handle, obs transform.Observer, coarseHit, windowStart, windowEnd time.Time, minElev float64) (*PassEvent, time.Time) {
	searchStart := coarseHit.Add(-coarseStep)
	if searchStart.Before(windowStart) {
		searchStart = windowStart
	}

	var (
		riseTime    time.Time
		setTime     time.Time
		riseAz      float64
		setAz       float64
		maxEl       float64
		maxElTime   time.Time
		maxElAz     float64
		wasAbove    bool
		foundRise   bool
		groundTrack []GroundTrackPoint
	)

	t := searchStart
	for t.Before(windowEnd) {
		if ctx.Err() != nil {
			break
		}

		el, la, ecef, err := elevationAt(handle, obs, t)
		if err != nil {
			t = t.Add(fineStep)
			continue
		}

		above := el >= minElev

		if above && !wasAbove {
			riseTime = t
			riseAz = la.AzimuthDeg
			foundRise = true
			maxEl = el
			maxElTime = t
			maxElAz = la.AzimuthDeg
		}

		if above && foundRise {
			if el > maxEl {
				maxEl = el
				maxElTime = t
				maxElAz = la.AzimuthDeg
			}
			if int(t.Sub(riseTime).Seconds())%groundTrackStep == 0 {
				geo := transform.ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z)
				groundTrack = append(groundTrack, GroundTrackPoint{
					Time:      t,
					Latitude:  geo.LatDeg,
					Longitude: geo.LonDeg,
					AltKm:     geo.AltKm,
					Elevation: el,
				})
			}
		}

		if !above && wasAbove && foundRise {
			setTime = t
			setAz = la.AzimuthDeg
			break
		}

		wasAbove = above
		t = t.Add(fineStep)
	}

	// Still above the horizon at windowEnd: close the pass there.
	if foundRise && setTime.IsZero() && wasAbove {
		el, la, _, err := elevationAt(handle, obs, t)
		if err == nil {
			setTime = t
			setAz = la.AzimuthDeg
			if el > maxEl {
				maxEl = el
				maxElTime = t
				maxElAz = la.AzimuthDeg
			}
		} else {
			setTime = t
		}
	}

	if !foundRise || setTime.IsZero() {
		return nil, t
	}

	return &PassEvent{
		StartTime:        riseTime,
		MaxElevationTime: maxElTime,
		EndTime:          setTime,
		DurationSeconds:  setTime.Sub(riseTime).Seconds(),
		MaxElevation:     maxEl,
		AzimuthAtMax:     maxElAz,
		StartAzimuth:     riseAz,
		EndAzimuth:       setAz,
		GroundTrack:      groundTrack,
	}, setTime
}

// elevationAt computes look angles and the satellite ECEF state at time t.
func elevationAt(handle *propagation.Handle, obs transform.Observer, t time.Time) (float64, transform.LookAngles, transform.StateECEF, error) {
	ecef, _, err := handle.StateECEF(t)
	if err != nil {
		return 0, transform.LookAngles{}, transform.StateECEF{}, err
	}
	la := transform.ECEFToLookAngles(obs, ecef.X, ecef.Y, ecef.Z)
	return la.ElevationDeg, la, ecef, nil
}
