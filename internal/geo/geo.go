// Package geo provides the geospatial and time-of-day primitives used by
// the feature derivation stages.
package geo

import "math"

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0

// PartOfDay buckets an hour of day into a coarse label. Hours outside
// [0, 24) fall through to late_night like the late hours they wrap to.
func PartOfDay(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 21:
		return "evening"
	case hour >= 21 && hour < 23:
		return "night"
	default:
		return "late_night"
	}
}

// Haversine returns the great-circle distance in kilometers between two
// points given in decimal degrees. NaN inputs propagate to a NaN result.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlon1 := lon1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	rlon2 := lon2 * math.Pi / 180

	dlat := rlat2 - rlat1
	dlon := rlon2 - rlon1

	a := math.Pow(math.Sin(dlat/2), 2) + math.Cos(rlat1)*math.Cos(rlat2)*math.Pow(math.Sin(dlon/2), 2)
	return earthRadiusKm * 2 * math.Asin(math.Sqrt(a))
}

// HaversineBatch computes Haversine element-wise over equally sized
// slices, producing one distance per input tuple.
func HaversineBatch(lat1, lon1, lat2, lon2 []float64) []float64 {
	out := make([]float64, len(lat1))
	for i := range out {
		out[i] = Haversine(lat1[i], lon1[i], lat2[i], lon2[i])
	}
	return out
}
