package transform

import "math"

// Observer holds a ground observer's location in both geodetic and ECEF
// frames. ECEF coordinates are precomputed once so they can be reused across
// many satellite lookups.
type Observer struct {
	LatRad, LonRad, AltKm float64
	ECEFx, ECEFy, ECEFz   float64 // km
}

// LookAngles holds azimuth, elevation, and range from observer to satellite.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeKm      float64
}

// NewObserver creates an Observer from geodetic coordinates. Latitude and
// longitude are in degrees, altitude in km above the WGS-84 ellipsoid.
func NewObserver(latDeg, lonDeg, altKm float64) Observer {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Observer{
		LatRad: lat,
		LonRad: lon,
		AltKm:  altKm,
		ECEFx:  (n + altKm) * cosLat * math.Cos(lon),
		ECEFy:  (n + altKm) * cosLat * math.Sin(lon),
		ECEFz:  (n*(1-wgs84E2) + altKm) * sinLat,
	}
}

// ECEFToLookAngles computes azimuth, elevation, and range from an observer to
// a satellite position in ECEF km, via the SEZ (South-East-Zenith) rotation
// (Vallado Section 4.4).
func ECEFToLookAngles(obs Observer, satX, satY, satZ float64) LookAngles {
	rx := satX - obs.ECEFx
	ry := satY - obs.ECEFy
	rz := satZ - obs.ECEFz

	sinLat := math.Sin(obs.LatRad)
	cosLat := math.Cos(obs.LatRad)
	sinLon := math.Sin(obs.LonRad)
	cosLon := math.Cos(obs.LonRad)

	south := sinLat*cosLon*rx + sinLat*sinLon*ry - cosLat*rz
	east := -sinLon*rx + cosLon*ry
	zenith := cosLat*cosLon*rx + cosLat*sinLon*ry + sinLat*rz

	rangeMag := math.Sqrt(south*south + east*east + zenith*zenith)

	el := math.Asin(zenith / rangeMag)

	// North = -South in SEZ, so azimuth = atan2(east, -south).
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az * 180.0 / math.Pi,
		ElevationDeg: el * 180.0 / math.Pi,
		RangeKm:      rangeMag,
	}
}
