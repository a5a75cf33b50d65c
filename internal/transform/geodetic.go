package transform

import "math"

// WGS-84 ellipsoid parameters (km).
const (
	wgs84A  = 6378.137              // semi-major axis
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// Geodetic is a sub-satellite point: longitude/latitude in degrees, altitude
// in km above the WGS-84 ellipsoid.
type Geodetic struct {
	LonDeg, LatDeg, AltKm float64
}

// ECEFToGeodetic converts an ECEF position (km) to geodetic coordinates using
// the iterative Bowring method. Converges in 2-3 iterations for Earth orbits.
// Longitude is returned in (-180, 180].
func ECEFToGeodetic(x, y, z float64) Geodetic {
	lon := math.Atan2(y, x)
	p := math.Sqrt(x*x + y*y)

	lat := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(z+wgs84E2*n*sinLat, p)
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		alt = math.Abs(z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return Geodetic{
		LonDeg: NormalizeLonDeg(lon * 180.0 / math.Pi),
		LatDeg: lat * 180.0 / math.Pi,
		AltKm:  alt,
	}
}

// ENUVelocity is a velocity expressed in the local East-North-Up frame at a
// geodetic point (km/s).
type ENUVelocity struct {
	East, North, Up float64
}

// ECEFVelocityToENU rotates an ECEF velocity into the local East-North-Up
// frame at the given geodetic point.
func ECEFVelocityToENU(s StateECEF, at Geodetic) ENUVelocity {
	lat := at.LatDeg * math.Pi / 180.0
	lon := at.LonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	sinLon := math.Sin(lon)
	cosLon := math.Cos(lon)

	return ENUVelocity{
		East:  -sinLon*s.VX + cosLon*s.VY,
		North: -sinLat*cosLon*s.VX - sinLat*sinLon*s.VY + cosLat*s.VZ,
		Up:    cosLat*cosLon*s.VX + cosLat*sinLon*s.VY + sinLat*s.VZ,
	}
}

// Bearing returns the compass heading of the horizontal velocity component:
// 0 = North, 90 = East, normalized into [0, 360).
func (v ENUVelocity) Bearing() float64 {
	b := math.Atan2(v.East, v.North) * 180.0 / math.Pi
	if b < 0 {
		b += 360.0
	}
	// Guard the atan2(0, -0) edge that can land exactly on 360.
	if b >= 360.0 {
		b -= 360.0
	}
	return b
}

// NormalizeLonDeg wraps a longitude in degrees into (-180, 180].
func NormalizeLonDeg(lon float64) float64 {
	lon = math.Mod(lon, 360.0)
	if lon > 180.0 {
		lon -= 360.0
	} else if lon <= -180.0 {
		lon += 360.0
	}
	return lon
}

// ClampLatDeg clamps a latitude in degrees into [-90, 90].
func ClampLatDeg(lat float64) float64 {
	if lat > 90.0 {
		return 90.0
	}
	if lat < -90.0 {
		return -90.0
	}
	return lat
}
