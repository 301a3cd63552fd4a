package domain

import (
	"fmt"
	"math"
)

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometers between two
// WGS-84 coordinate pairs given in degrees. Symmetric, zero for identical
// points, and stable for antipodal and near-zero separations.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLng := (lng2 - lng1) * math.Pi / 180

	sinLat := math.Sin(deltaLat / 2)
	sinLng := math.Sin(deltaLng / 2)
	a := sinLat*sinLat + math.Cos(lat1Rad)*math.Cos(lat2Rad)*sinLng*sinLng

	// Floating-point overshoot can push a hair outside [0,1], which would
	// make the square roots below produce NaN for antipodal points.
	if a < 0 {
		a = 0
	}
	if a > 1 {
		a = 1
	}

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// BBox is a geographic bounding box in degrees.
type BBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

// Validate checks coordinate ranges and ordering.
func (b BBox) Validate() error {
	if b.West < -180 || b.East > 180 || b.South < -90 || b.North > 90 {
		return fmt.Errorf("bbox out of range: %s", b)
	}
	if b.West >= b.East || b.South >= b.North {
		return fmt.Errorf("bbox must be ordered west<east, south<north: %s", b)
	}
	return nil
}

// String renders the box as "west,south,east,north".
func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.West, b.South, b.East, b.North)
}
