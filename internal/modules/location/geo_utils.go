// Package location — geo_utils contains pure geographic computation helpers.
package location

import (
	"tabla/internal/maps"
	"tabla/internal/types"
)

// haversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return maps.DistanceKm(types.Point{Lat: lat1, Lng: lng1}, types.Point{Lat: lat2, Lng: lng2})
}

// sortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
