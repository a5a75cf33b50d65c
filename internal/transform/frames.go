package transform

import (
	"math"
	"time"
)

// StateTEME is a satellite position and velocity in the TEME frame (km, km/s).
type StateTEME struct {
	X, Y, Z    float64
	VX, VY, VZ float64
}

// StateECEF is a satellite position and velocity in the ECEF frame (km, km/s).
type StateECEF struct {
	X, Y, Z    float64
	VX, VY, VZ float64
}

// SpeedKmPerSec returns the velocity magnitude in km/s.
func (s StateTEME) SpeedKmPerSec() float64 {
	return math.Sqrt(s.VX*s.VX + s.VY*s.VY + s.VZ*s.VZ)
}

// TEMEToECEF rotates a TEME state into ECEF at the given UTC time.
func TEMEToECEF(teme StateTEME, t time.Time) StateECEF {
	return TEMEToECEFWithGMST(teme, GMST(t))
}

// TEMEToECEFWithGMST rotates a TEME state into ECEF using a precomputed GMST
// angle (radians). Compute GMST once when transforming many satellites to the
// same instant.
//
// Position: r_ECEF = R3(θ) · r_TEME
// Velocity: v_ECEF = R3(θ) · v_TEME − ω × r_ECEF
//
// where R3(θ) rotates about the Z axis by GMST and ω = [0, 0, ω_earth].
// The ω × r term is what makes the ECEF velocity ground-relative; the bearing
// derivation in this package depends on it.
func TEMEToECEFWithGMST(teme StateTEME, gmst float64) StateECEF {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	x := teme.X*cosG + teme.Y*sinG
	y := -teme.X*sinG + teme.Y*cosG
	z := teme.Z

	vx := teme.VX*cosG + teme.VY*sinG
	vy := -teme.VX*sinG + teme.VY*cosG
	vz := teme.VZ

	// ω × r_ECEF = [-ω·y, ω·x, 0]
	return StateECEF{
		X: x, Y: y, Z: z,
		VX: vx + OmegaEarth*y,
		VY: vy - OmegaEarth*x,
		VZ: vz,
	}
}

// ValidStateECEF reports whether an ECEF position is physically plausible for
// an Earth-orbiting satellite: finite, and with a magnitude between ~6200 km
// (just under the surface) and 50000 km (beyond GEO).
func ValidStateECEF(s StateECEF) bool {
	if math.IsNaN(s.X) || math.IsNaN(s.Y) || math.IsNaN(s.Z) {
		return false
	}
	if math.IsInf(s.X, 0) || math.IsInf(s.Y, 0) || math.IsInf(s.Z, 0) {
		return false
	}
	mag := math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
	return mag >= 6200.0 && mag <= 50000.0
}
