// README: Route cache keyed by a quantized restaurant/customer fingerprint.
package routecache

import (
	"errors"
	"time"

	"fleetloc/internal/rtdb"
	"fleetloc/internal/types"
)

// DefaultTTL is how long a cached route stays readable when callers do not
// pick a TTL themselves.
const DefaultTTL = 7 * 24 * time.Hour

const routeCacheRoot = "routeCache"

// Field names of a routeCache/{key} node.
const (
	fieldPolyline  = "polyline"
	fieldDistance  = "distance"
	fieldDuration  = "duration"
	fieldCachedAt  = "cached_at"
	fieldExpiresAt = "expires_at"
)

var (
	ErrMiss         = errors.New("route cache miss")
	ErrInvalidInput = errors.New("invalid route cache input")
	ErrUnavailable  = rtdb.ErrUnavailable
)

// RouteData is what a route provider returns and what Put stores.
type RouteData struct {
	Polyline    string       `json:"polyline"`
	DistanceKm  types.Number `json:"distanceKm"`
	DurationMin types.Number `json:"durationMin"`
}

type Entry struct {
	Key         string     `json:"key"`
	Polyline    string     `json:"polyline"`
	DistanceKm  *float64   `json:"distanceKm,omitempty"`
	DurationMin *float64   `json:"durationMin,omitempty"`
	CachedAt    *time.Time `json:"cachedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Data returns the cached route in the shape Put accepts.
func (e Entry) Data() RouteData {
	d := RouteData{Polyline: e.Polyline}
	if e.DistanceKm != nil {
		d.DistanceKm = types.Num(*e.DistanceKm)
	}
	if e.DurationMin != nil {
		d.DurationMin = types.Num(*e.DurationMin)
	}
	return d
}
