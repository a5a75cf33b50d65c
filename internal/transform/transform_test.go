package transform

import (
	"math"
	"testing"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// TestJulianDate verifies the Julian Date calculation against known values.
func TestJulianDate(t *testing.T) {
	tests := []struct {
		name     string
		time     time.Time
		expected float64
	}{
		{
			name:     "J2000.0 epoch",
			time:     time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
			expected: 2451545.0,
		},
		{
			name:     "Unix epoch",
			time:     time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
			expected: 2440587.5,
		},
		{
			// Vallado Example 3-15: April 6, 2004, 07:51:28.386 UTC
			name:     "Vallado example date",
			time:     time.Date(2004, 4, 6, 7, 51, 28, 386009000, time.UTC),
			expected: 2453101.827411875,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JulianDate(tt.time)
			diff := math.Abs(got - tt.expected)
			if diff > 1e-6 {
				t.Errorf("JulianDate(%v) = %.10f, want %.10f (diff=%.2e)", tt.time, got, tt.expected, diff)
			}
		})
	}
}

// TestGMST validates the GMST calculation against go-satellite's
// GSTimeFromDate, which uses the same IAU-82 model.
func TestGMST(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
	}{
		{
			name: "J2000.0 epoch",
			time: time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "Vallado example date",
			time: time.Date(2004, 4, 6, 7, 51, 28, 0, time.UTC), // integer seconds for library compat
		},
		{
			name: "recent date 2026",
			time: time.Date(2026, 8, 25, 4, 1, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			our := GMST(tt.time)
			ref := satellite.GSTimeFromDate(
				tt.time.Year(), int(tt.time.Month()), tt.time.Day(),
				tt.time.Hour(), tt.time.Minute(), tt.time.Second(),
			)

			// 1e-8 radians ≈ 0.06 arcsec.
			if diff := math.Abs(our - ref); diff > 1e-8 {
				t.Errorf("GMST(%v) = %.12f rad, go-satellite = %.12f rad (diff=%.2e)", tt.time, our, ref, diff)
			}
		})
	}
}

// TestTEMEToECEF validates the TEME→ECEF position rotation against
// go-satellite's ECIToECEF using the same GMST. Both use GMST-only rotation,
// so they should agree to floating point precision.
func TestTEMEToECEF(t *testing.T) {
	tests := []struct {
		name string
		teme StateTEME
		time time.Time
	}{
		{
			// Vallado "Fundamentals of Astrodynamics" Example 3-15
			name: "Vallado example 3-15",
			teme: StateTEME{
				X: 5094.18016, Y: 6127.64465, Z: 6380.34453,
				VX: -4.746131487, VY: 0.786598499, VZ: 5.531931288,
			},
			time: time.Date(2004, 4, 6, 7, 51, 28, 0, time.UTC),
		},
		{
			name: "LEO equatorial",
			teme: StateTEME{
				X: 6778.0, Y: 0.0, Z: 0.0,
				VX: 0.0, VY: 7.5, VZ: 0.0,
			},
			time: time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "LEO polar",
			teme: StateTEME{
				X: 0.0, Y: 0.0, Z: 6978.0,
				VX: 7.4, VY: 0.0, VZ: 0.0,
			},
			time: time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gmst := satellite.GSTimeFromDate(
				tt.time.Year(), int(tt.time.Month()), tt.time.Day(),
				tt.time.Hour(), tt.time.Minute(), tt.time.Second(),
			)

			ours := TEMEToECEFWithGMST(tt.teme, gmst)
			ref := satellite.ECIToECEF(
				satellite.Vector3{X: tt.teme.X, Y: tt.teme.Y, Z: tt.teme.Z},
				gmst,
			)

			// Tolerance: 1 meter.
			const tolerance = 1e-3 // km
			if math.Abs(ours.X-ref.X) > tolerance ||
				math.Abs(ours.Y-ref.Y) > tolerance ||
				math.Abs(ours.Z-ref.Z) > tolerance {
				t.Errorf("position mismatch:\n  ours: [%.6f, %.6f, %.6f] km\n  ref:  [%.6f, %.6f, %.6f] km",
					ours.X, ours.Y, ours.Z, ref.X, ref.Y, ref.Z)
			}

			if !ValidStateECEF(ours) {
				t.Errorf("ECEF position failed validation: [%.1f, %.1f, %.1f] km", ours.X, ours.Y, ours.Z)
			}
		})
	}
}

// TestTEMEToECEFVelocity verifies the velocity transform includes the Earth
// rotation correction.
func TestTEMEToECEFVelocity(t *testing.T) {
	// Prograde equatorial satellite at longitude 0°.
	teme := StateTEME{
		X: 6778.0, Y: 0.0, Z: 0.0,
		VX: 0.0, VY: 7.5, VZ: 0.0,
	}
	gmst := 0.0 // GMST = 0 aligns the TEME X-axis with the ECEF X-axis.

	ecef := TEMEToECEFWithGMST(teme, gmst)

	if math.Abs(ecef.X-6778.0) > 1e-4 {
		t.Errorf("X position: got %.4f, want 6778.0", ecef.X)
	}

	// Earth rotation at this radius: ω·R = 7.292115e-5 · 6778 ≈ 0.4943 km/s.
	// Ground-relative VY = 7.5 − 0.4943.
	expectedVY := 7.5 - OmegaEarth*6778.0
	if math.Abs(ecef.VY-expectedVY) > 1e-4 {
		t.Errorf("VY: got %.4f km/s, want %.4f km/s", ecef.VY, expectedVY)
	}
}

// TestECEFToGeodetic round-trips points built from known geodetic locations
// through the observer ECEF formula.
func TestECEFToGeodetic(t *testing.T) {
	tests := []struct {
		name   string
		latDeg float64
		lonDeg float64
		altKm  float64
	}{
		{"equator prime meridian", 0, 0, 420},
		{"equator antimeridian", 0, 180, 420},
		{"mid latitude", 48.137, 11.575, 550},
		{"southern hemisphere", -33.86, 151.21, 420},
		{"near pole", 85, -120, 800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := NewObserver(tt.latDeg, tt.lonDeg, tt.altKm)
			got := ECEFToGeodetic(obs.ECEFx, obs.ECEFy, obs.ECEFz)

			if math.Abs(got.LatDeg-tt.latDeg) > 1e-6 {
				t.Errorf("lat = %.8f, want %.8f", got.LatDeg, tt.latDeg)
			}
			dLon := math.Abs(NormalizeLonDeg(got.LonDeg - tt.lonDeg))
			if dLon > 1e-6 {
				t.Errorf("lon = %.8f, want %.8f", got.LonDeg, tt.lonDeg)
			}
			if math.Abs(got.AltKm-tt.altKm) > 1e-3 {
				t.Errorf("alt = %.6f km, want %.6f km", got.AltKm, tt.altKm)
			}
		})
	}
}

// TestBearing checks the ENU bearing convention: 0 = North, clockwise.
func TestBearing(t *testing.T) {
	tests := []struct {
		name string
		v    ENUVelocity
		want float64
	}{
		{"due north", ENUVelocity{East: 0, North: 7.5}, 0},
		{"due east", ENUVelocity{East: 7.5, North: 0}, 90},
		{"due south", ENUVelocity{East: 0, North: -7.5}, 180},
		{"due west", ENUVelocity{East: -7.5, North: 0}, 270},
		{"northeast", ENUVelocity{East: 1, North: 1}, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.v.Bearing()
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Bearing(%+v) = %.6f, want %.6f", tt.v, got, tt.want)
			}
			if got < 0 || got >= 360 {
				t.Errorf("Bearing(%+v) = %.6f out of [0,360)", tt.v, got)
			}
		})
	}
}

func TestNormalizeLonDeg(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{180, 180},
		{-180, 180},
		{181, -179},
		{-181, 179},
		{360, 0},
		{540, 180},
		{-540, 180},
		{725, 5},
	}

	for _, tt := range tests {
		if got := NormalizeLonDeg(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeLonDeg(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClampLatDeg(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{90, 90},
		{-90, -90},
		{90.5, 90},
		{-123, -90},
	}

	for _, tt := range tests {
		if got := ClampLatDeg(tt.in); got != tt.want {
			t.Errorf("ClampLatDeg(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidStateECEF(t *testing.T) {
	tests := []struct {
		name  string
		state StateECEF
		valid bool
	}{
		{"LEO", StateECEF{X: 6778, Y: 0, Z: 0}, true},
		{"GEO", StateECEF{X: 42164, Y: 0, Z: 0}, true},
		{"too low", StateECEF{X: 5000, Y: 0, Z: 0}, false},
		{"too high", StateECEF{X: 60000, Y: 0, Z: 0}, false},
		{"NaN", StateECEF{X: math.NaN(), Y: 0, Z: 0}, false},
		{"Inf", StateECEF{X: math.Inf(1), Y: 0, Z: 0}, false},
		{"zero", StateECEF{X: 0, Y: 0, Z: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidStateECEF(tt.state); got != tt.valid {
				t.Errorf("ValidStateECEF(%v) = %v, want %v", tt.state, got, tt.valid)
			}
		})
	}
}

// TestLookAnglesZenith puts a satellite directly above the observer: the
// elevation must be ~90° and the range must equal the altitude difference.
func TestLookAnglesZenith(t *testing.T) {
	obs := NewObserver(0, 0, 0)
	// Straight up along the ECEF X axis from (0°, 0°).
	la := ECEFToLookAngles(obs, obs.ECEFx+420.0, 0, 0)

	if math.Abs(la.ElevationDeg-90) > 0.01 {
		t.Errorf("elevation = %.4f, want ~90", la.ElevationDeg)
	}
	if math.Abs(la.RangeKm-420.0) > 0.01 {
		t.Errorf("range = %.4f km, want ~420", la.RangeKm)
	}
}

// TestLookAnglesAzimuth checks the azimuth convention against a satellite due
// north of the observer at low elevation.
func TestLookAnglesAzimuth(t *testing.T) {
	obs := NewObserver(0, 0, 0)
	// A point north of the observer along the Z axis, still far away.
	north := NewObserver(10, 0, 400)
	la := ECEFToLookAngles(obs, north.ECEFx, north.ECEFy, north.ECEFz)

	if math.Abs(la.AzimuthDeg-0) > 1 && math.Abs(la.AzimuthDeg-360) > 1 {
		t.Errorf("azimuth = %.2f, want ~0 (north)", la.AzimuthDeg)
	}
	if la.ElevationDeg <= 0 || la.ElevationDeg >= 90 {
		t.Errorf("elevation = %.2f, want between 0 and 90", la.ElevationDeg)
	}
}
