// README: Shared identifiers and coordinates used across modules.
package types

import "math"

type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both coordinates are finite numbers.
func (p Point) Valid() bool {
	return Finite(p.Lat) && Finite(p.Lng)
}

func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// PointFrom pairs two optional coordinates. Both must be present and finite;
// a half position is never produced.
func PointFrom(lat, lng *float64) (Point, bool) {
	if lat == nil || lng == nil {
		return Point{}, false
	}
	p := Point{Lat: *lat, Lng: *lng}
	return p, p.Valid()
}
