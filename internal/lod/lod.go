// Package lod decides which satellites are worth computing and drawing at the
// current zoom. Sampling is deterministic (a stable hash of the entity ID
// against a zoom-derived skip factor), so the visible subset is identical
// frame to frame and never flickers.
package lod

import (
	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/orbview/orbview/internal/propagation"
	"github.com/orbview/orbview/internal/transform"
)

// Level is the discrete detail bucket derived from zoom.
type Level int

const (
	LevelUltraLow Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelUltraHigh
)

func (l Level) String() string {
	switch l {
	case LevelUltraLow:
		return "ultra-low"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return "ultra-high"
	}
}

// LevelForZoom buckets a zoom value into a detail level.
func LevelForZoom(zoom float64) Level {
	switch {
	case zoom < 2:
		return LevelUltraLow
	case zoom < 4:
		return LevelLow
	case zoom < 6:
		return LevelMedium
	case zoom < 9:
		return LevelHigh
	default:
		return LevelUltraHigh
	}
}

// PerfHint lets the host degrade detail under load. It multiplies the
// zoom-derived skip factor.
type PerfHint int

const (
	PerfFull    PerfHint = 1
	PerfReduced PerfHint = 2
	PerfMinimal PerfHint = 4
)

// Bounds is a geographic viewport rectangle. East < West means the viewport
// spans the antimeridian.
type Bounds struct {
	West  float64
	South float64
	East  float64
	North float64
}

// Viewport is the host map's current view.
type Viewport struct {
	Zoom      float64
	Bounds    Bounds
	CenterLon float64
	CenterLat float64
}

// Entity is one candidate satellite with its computed position. Followed and
// flagship entities bypass every filter.
type Entity struct {
	ID       string
	Position propagation.GeoPosition
	Followed bool
	Flagship bool
}

// Placement is a kept entity annotated with rendering hints.
type Placement struct {
	Entity
	Level    Level
	Icon     bool    // render a full icon rather than a dot
	Size     float64 // render size in relative units
	Priority int     // update priority, higher updates more often
}

// skipFactor is the sampling modulus per level: 1-in-N entities survive.
func skipFactor(level Level, hint PerfHint) uint64 {
	var base uint64
	switch level {
	case LevelUltraLow:
		base = 8
	case LevelLow:
		base = 4
	case LevelMedium:
		base = 2
	default:
		base = 1
	}
	return base * uint64(hint)
}

// marginDeg is the bounds expansion per level. Wider at low zoom so entities
// do not pop in at the viewport edge.
func marginDeg(level Level) float64 {
	switch level {
	case LevelUltraLow:
		return 30
	case LevelLow:
		return 20
	case LevelMedium:
		return 10
	case LevelHigh:
		return 5
	default:
		return 2
	}
}

// maxCenterDistanceDeg bounds how far from the viewport center an entity may
// sit at the coarsest zooms, where screen visibility is dominated by
// proximity to center. Zero disables the check.
func maxCenterDistanceDeg(level Level) float64 {
	switch level {
	case LevelUltraLow:
		return 80
	case LevelLow:
		return 120
	default:
		return 0
	}
}

// Sampled reports whether an entity ID survives hash sampling at the given
// level. Pure function of (id, level, hint): the same inputs always select
// the same subset. Used before batch computation to avoid propagating
// entities that would be culled anyway.
func Sampled(id string, level Level, hint PerfHint) bool {
	skip := skipFactor(level, hint)
	if skip <= 1 {
		return true
	}
	return xxhash.Sum64String(id)%skip == 0
}

// Filter applies the full pipeline: hash sampling, margin-expanded bounds
// containment, coarse-zoom center-distance culling, then maxCount truncation.
// Followed and flagship entities are always kept and never count against
// sampling; input order is preserved, so the output is stable across frames
// for identical inputs.
func Filter(entities []Entity, vp Viewport, hint PerfHint, maxCount int) []Placement {
	level := LevelForZoom(vp.Zoom)
	margin := marginDeg(level)
	maxDist := maxCenterDistanceDeg(level)

	capHint := len(entities)
	if maxCount > 0 && maxCount < capHint {
		capHint = maxCount
	}
	out := make([]Placement, 0, capHint)
	kept := 0
	for _, e := range entities {
		pinned := e.Followed || e.Flagship

		if !pinned {
			if maxCount > 0 && kept >= maxCount {
				continue
			}
			if !Sampled(e.ID, level, hint) {
				continue
			}
			if !containsLon(vp.Bounds, margin, e.Position.Longitude, e.Position.Latitude) {
				continue
			}
			if maxDist > 0 && centerDistanceDeg(vp, e.Position) > maxDist {
				continue
			}
			kept++
		}

		out = append(out, place(e, level))
	}
	return out
}

// place assigns rendering hints. Followed and flagship entities are pushed
// toward the high end regardless of zoom.
func place(e Entity, level Level) Placement {
	effective := level
	if e.Followed || e.Flagship {
		if effective < LevelHigh {
			effective = LevelHigh
		}
	}

	p := Placement{Entity: e, Level: effective}
	switch effective {
	case LevelUltraLow:
		p.Icon, p.Size, p.Priority = false, 2, 1
	case LevelLow:
		p.Icon, p.Size, p.Priority = false, 3, 2
	case LevelMedium:
		p.Icon, p.Size, p.Priority = true, 16, 3
	case LevelHigh:
		p.Icon, p.Size, p.Priority = true, 24, 4
	default:
		p.Icon, p.Size, p.Priority = true, 32, 5
	}
	if e.Followed {
		p.Priority++
	}
	return p
}

// containsLon tests margin-expanded containment, handling viewports that span
// the antimeridian (East < West). The non-wrapped case defers to orb's
// rectangle containment.
func containsLon(b Bounds, margin, lon, lat float64) bool {
	south := b.South - margin
	north := b.North + margin
	west := b.West - margin
	east := b.East + margin

	// Expansion past a full wrap means everything is inside.
	if east-west >= 360 {
		return lat >= south && lat <= north
	}

	west = transform.NormalizeLonDeg(west)
	east = transform.NormalizeLonDeg(east)

	if east < west {
		if lat < south || lat > north {
			return false
		}
		return lon >= west || lon <= east
	}

	bound := orb.Bound{
		Min: orb.Point{west, south},
		Max: orb.Point{east, north},
	}
	return bound.Contains(orb.Point{lon, lat})
}

// centerDistanceDeg is the planar degree distance from the viewport center,
// with the longitude delta taken the short way around.
func centerDistanceDeg(vp Viewport, pos propagation.GeoPosition) float64 {
	dLon := pos.Longitude - vp.CenterLon
	if dLon > 180 {
		dLon -= 360
	} else if dLon < -180 {
		dLon += 360
	}
	return planar.Distance(
		orb.Point{0, vp.CenterLat},
		orb.Point{dLon, pos.Latitude},
	)
}
