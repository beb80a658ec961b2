package geo

import "math"

const (
	earthRadiusMiles = 3958.8
	averageSpeedMph  = 35.0 // mixed highway/surface-street average for tow trucks
)

// HaversineMiles calculates the great-circle distance in statute miles between
// two WGS-84 coordinates.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMiles * c
}

// EstimateMinutes returns the estimated travel time in minutes for a distance
// in miles, assuming the fleet's average road speed.
func EstimateMinutes(miles float64) int {
	return int(math.Round((miles / averageSpeedMph) * 60))
}
