package geo

import "math"

const earthRadiusMeters = 6_371_000.0

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = math.Pi / 180 * earthRadiusMeters

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*sinLon*sinLon

	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// EquirectangularDist returns an approximate distance in meters.
// Good enough to rank snapping candidates, not for link lengths.
func EquirectangularDist(lat1, lon1, lat2, lon2 float64) float64 {
	x := toRad(lon2-lon1) * math.Cos(toRad((lat1+lat2)/2))
	y := toRad(lat2 - lat1)
	return math.Hypot(x, y) * earthRadiusMeters
}

// SearchBox returns the lon/lat rectangle that contains every point within
// radius meters of (lat, lon). Points are ordered [lon, lat] to match the
// x/y convention of the spatial index.
func SearchBox(lat, lon, radius float64) (minPt, maxPt [2]float64) {
	dLat := radius / metersPerDegree
	cosLat := math.Cos(toRad(lat))
	dLon := 180.0
	if cosLat > 1e-9 {
		dLon = math.Min(180, dLat/cosLat)
	}
	return [2]float64{lon - dLon, lat - dLat}, [2]float64{lon + dLon, lat + dLat}
}
