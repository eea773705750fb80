package geo

import (
	"errors"
	"math"
)

// Point represents a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Earth's radius in meters, spherical approximation.
const earthRadiusMeters = 6371000

const (
	metersPerSecondToMph = 2.236936
	kmhToMphFactor       = 0.621371
)

// NewPoint creates a Point with coordinate validation.
func NewPoint(latitude, longitude float64) (Point, error) {
	p := Point{Latitude: latitude, Longitude: longitude}
	if !isValidCoordinate(p) {
		return Point{}, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	return p, nil
}

// Distance calculates the great-circle distance in meters between two points
// using the Haversine formula.
func Distance(p1, p2 Point) (float64, error) {
	if !isValidCoordinate(p1) || !isValidCoordinate(p2) {
		return 0, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}

	if p1.Latitude == p2.Latitude && p1.Longitude == p2.Longitude {
		return 0, nil
	}

	lat1 := p1.Latitude * math.Pi / 180
	lon1 := p1.Longitude * math.Pi / 180
	lat2 := p2.Latitude * math.Pi / 180
	lon2 := p2.Longitude * math.Pi / 180

	dlat := lat2 - lat1
	dlon := lon2 - lon1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c, nil
}

// DistanceFromCoords calculates distance between two coordinate pairs.
// Convenience wrapper for raw latitude/longitude values.
func DistanceFromCoords(lat1, lon1, lat2, lon2 float64) (float64, error) {
	return Distance(Point{Latitude: lat1, Longitude: lon1}, Point{Latitude: lat2, Longitude: lon2})
}

// MpsToMph converts meters per second to miles per hour.
func MpsToMph(mps float64) float64 {
	return mps * metersPerSecondToMph
}

// KmhToMph converts kilometers per hour to miles per hour.
func KmhToMph(kmh float64) float64 {
	return kmh * kmhToMphFactor
}

func isValidCoordinate(p Point) bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}
