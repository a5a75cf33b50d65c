// Package tle manages the satellite catalog: parsing NORAD two-line element
// sets, holding the current catalog behind an atomic store, fetching from a
// remote source, caching datasets on disk, and watching locally-maintained
// catalog files for changes.
//
// The element lines themselves are opaque to this package beyond the minimal
// format invariants; orbital semantics live in internal/propagation.
package tle

import "time"

// Satellite is one catalog entry. ID is the stable string identity used
// throughout the core ("25544" for entries parsed from raw TLE text, or a
// caller-assigned alias like "iss"). Line1/Line2 are never mutated after
// creation.
type Satellite struct {
	ID       string
	NORADID  int
	Name     string
	Category string
	Flagship bool // always rendered regardless of LOD filtering
	Epoch    time.Time
	Line1    string
	Line2    string
}

// EpochRange is the minimum and maximum element epochs in a catalog.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Catalog is a complete satellite dataset from one source.
type Catalog struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Satellites []Satellite
}

// Lookup returns the satellite with the given ID, or false.
func (c *Catalog) Lookup(id string) (Satellite, bool) {
	for _, s := range c.Satellites {
		if s.ID == id {
			return s, true
		}
	}
	return Satellite{}, false
}
