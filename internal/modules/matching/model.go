// README: Nearest-worker query and result types.
package matching

import (
	"errors"

	"fleetloc/internal/types"
)

// DefaultMaxDistanceKm applies when a query leaves the radius unset.
const DefaultMaxDistanceKm = 50.0

var (
	ErrInvalidInput = errors.New("invalid match query")
	ErrNoCandidate  = errors.New("no nearby worker found")
)

type Query struct {
	Origin types.Point
	// MaxDistanceKm of zero means DefaultMaxDistanceKm.
	MaxDistanceKm float64
	// Exclude lists workers to skip, e.g. those who already declined.
	Exclude []types.ID
}

type Candidate struct {
	WorkerID   types.ID    `json:"workerId"`
	DistanceKm float64     `json:"distanceKm"`
	Position   types.Point `json:"position"`
}
