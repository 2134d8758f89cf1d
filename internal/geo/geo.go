// Package geo holds the geolocation-search collaborator boundary and the
// distance math the eligibility rules need.
package geo

import (
	"context"
	"math"
)

// Searcher answers whether a place of the given category exists within
// radiusKm of a point. Implementations must bound their calls; a timeout is
// a recoverable collaborator failure.
type Searcher interface {
	FindNearby(ctx context.Context, category string, lat, lon, radiusKm float64) (bool, error)
}

// Static is a fixed-answer Searcher for tests and for deployments without a
// places backend.
type Static struct {
	Found bool
	Err   error
}

func (s Static) FindNearby(ctx context.Context, category string, lat, lon, radiusKm float64) (bool, error) {
	return s.Found, s.Err
}

const earthRadiusM = 6371000.0

// DistanceMeters is the haversine great-circle distance between two points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
