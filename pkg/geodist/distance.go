// Package geodist computes great-circle distances between WGS84 coordinates.
package geodist

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius (IUGG).
const EarthRadiusKm = 6371.0088

// Unknown is returned by Distance when either point is not a valid
// coordinate. It is larger than any radius cutoff.
const Unknown = math.MaxFloat64

// Valid reports whether lat and lon are finite and within range.
func Valid(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Distance returns the haversine distance in kilometres between two points
// given in decimal degrees, or Unknown if either point is invalid.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if !Valid(lat1, lon1) || !Valid(lat2, lon2) {
		return Unknown
	}
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * EarthRadiusKm
}

// Cap returns the spherical cap of radiusKm around the point. It is used as a
// cheap pre-filter before exact distance checks.
func Cap(lat, lon, radiusKm float64) s2.Cap {
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	return s2.CapFromCenterAngle(center, s1.Angle(radiusKm/EarthRadiusKm))
}

// InCap reports whether the point lies inside c.
func InCap(c s2.Cap, lat, lon float64) bool {
	return c.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon)))
}
