// Package geo holds the single distance function used for scoring, routing
// and insertion costs.
package geo

import (
	"math"

	"riderdispatch/internal/model"
)

// EarthRadiusKm is the sphere radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in
// kilometres, rounded to 2 decimals.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return Round2(EarthRadiusKm * c)
}

// Distance is HaversineKm over two points.
func Distance(a, b model.GeoPoint) float64 {
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Centroid returns the arithmetic mean of the points. It is only meaningful
// for points that are close together, which is how clustering uses it.
func Centroid(points []model.GeoPoint) model.GeoPoint {
	if len(points) == 0 {
		return model.GeoPoint{}
	}
	var c model.GeoPoint
	for _, p := range points {
		c.Lat += p.Lat
		c.Lng += p.Lng
	}
	n := float64(len(points))
	return model.GeoPoint{Lat: c.Lat / n, Lng: c.Lng / n}
}

// Round2 rounds to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Valid reports whether p is a finite coordinate within lat/lng range.
func Valid(p model.GeoPoint) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
