// README: Dispatch assigns orders to the nearest available worker and releases them on completion.
package dispatch

import (
	"errors"

	"fleetloc/internal/modules/routecache"
	"fleetloc/internal/types"
)

// StatusDelivered is written to the tracker on completion.
const StatusDelivered = "delivered"

var (
	ErrInvalidInput = errors.New("invalid dispatch command")
	// ErrNoWorker wraps the matcher's or claim's reason when nobody could be assigned.
	ErrNoWorker = errors.New("no worker could be assigned")
)

type AssignCommand struct {
	OrderID    types.ID     `json:"orderId"`
	Restaurant types.Point  `json:"restaurant"`
	Customer   *types.Point `json:"customer,omitempty"`
	// MaxDistanceKm of zero uses the matcher's default radius.
	MaxDistanceKm float64 `json:"maxDistanceKm"`
	// Exclude lists workers that must not be offered this order.
	Exclude []types.ID `json:"exclude,omitempty"`
}

type Assignment struct {
	OrderID        types.ID          `json:"orderId"`
	WorkerID       types.ID          `json:"workerId"`
	DistanceKm     float64           `json:"distanceKm"`
	WorkerPosition types.Point       `json:"workerPosition"`
	Route          *routecache.Entry `json:"route,omitempty"`
	// Attempts counts the candidates tried, including the one that was claimed.
	Attempts int `json:"attempts"`
}

type CompleteCommand struct {
	OrderID types.ID `json:"orderId"`
	// WorkerID may be empty; the tracker's record is consulted then.
	WorkerID types.ID `json:"workerId,omitempty"`
}
