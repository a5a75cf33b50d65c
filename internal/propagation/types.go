package propagation

// GeoPosition is a sub-satellite point with motion data, as served to every
// consumer of the core. Derived, never hand-edited.
//
// Invariants: Longitude ∈ (-180, 180], Latitude ∈ [-90, 90], AltitudeKm ≥ 0,
// SpeedKmPerSec ≥ 0, BearingDeg ∈ [0, 360).
type GeoPosition struct {
	Longitude     float64 `json:"longitude"`
	Latitude      float64 `json:"latitude"`
	AltitudeKm    float64 `json:"altitude_km"`
	SpeedKmPerSec float64 `json:"speed_km_s"`
	BearingDeg    float64 `json:"bearing_deg"`
}
