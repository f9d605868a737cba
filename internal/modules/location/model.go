// README: Worker presence records kept in the realtime store.
package location

import (
	"time"

	"fleetloc/internal/types"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Field names of a presence/{workerId} node.
const (
	fieldStatus      = "status"
	fieldLat         = "lat"
	fieldLng         = "lng"
	fieldLastUpdated = "last_updated"
	fieldClaimedBy   = "claimed_by"
	fieldClaimedAt   = "claimed_at"
)

// WorkerPresence is the latest known state of one delivery worker.
type WorkerPresence struct {
	WorkerID    types.ID     `json:"workerId"`
	Status      Status       `json:"status"`
	Position    *types.Point `json:"position,omitempty"`
	LastUpdated time.Time    `json:"lastUpdated"`
	// ClaimedBy is the order currently holding the worker, empty when free.
	ClaimedBy types.ID   `json:"claimedBy,omitempty"`
	ClaimedAt *time.Time `json:"claimedAt,omitempty"`
}

// Locatable reports whether the record carries a usable position.
func (p WorkerPresence) Locatable() bool {
	return p.Position != nil && p.Position.Valid()
}

// Available reports whether the worker may be offered a new order.
func (p WorkerPresence) Available() bool {
	return p.Status == StatusOnline && p.ClaimedBy == "" && p.Locatable()
}

// PresenceUpdate is one telemetry ping. Lat and Lng are optional and only
// ever written together.
type PresenceUpdate struct {
	WorkerID string   `json:"workerId"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
	Online   bool     `json:"isOnline"`
}

// Snapshot is a presence ping that carried a position, handed to the history recorder.
type Snapshot struct {
	WorkerID   types.ID    `json:"workerId"`
	Status     Status      `json:"status"`
	Position   types.Point `json:"position"`
	RecordedAt time.Time   `json:"recordedAt"`
}
