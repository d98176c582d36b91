// README: Great-circle distance, bearing and the straight-line fallback route.
package maps

import (
	"math"

	"tabla/internal/types"
)

const earthRadiusKm = 6371.0

// Bearing returns the great-circle initial bearing from one point to another
// in degrees, normalised to [0, 360). Identical points yield 0.
func Bearing(fromLat, fromLng, toLat, toLng float64) float64 {
	if fromLat == toLat && fromLng == toLng {
		return 0
	}
	phi1 := toRadians(fromLat)
	phi2 := toRadians(toLat)
	dLambda := toRadians(toLng - fromLng)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	if x == 0 && y == 0 {
		return 0
	}
	deg := math.Mod(toDegrees(math.Atan2(y, x))+360, 360)
	if deg >= 360 || math.IsNaN(deg) {
		return 0
	}
	return deg
}

// DistanceKm returns the haversine distance between two points.
func DistanceKm(a, b types.Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// FallbackRoute is the straight segment used when no provider route exists.
// It always contains both endpoints.
func FallbackRoute(from, to types.Point) Route {
	dist := DistanceKm(from, to)
	return Route{
		Path:       []types.Point{from, to},
		DistanceKm: dist,
		Bearing:    Bearing(from.Lat, from.Lng, to.Lat, to.Lng),
		Fallback:   true,
	}
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180.0 }

func toDegrees(rad float64) float64 { return rad * 180.0 / math.Pi }
