// README: Live per-order delivery state read by tracking screens.
package tracking

import (
	"time"

	"fleetloc/internal/types"
)

// DefaultStatus is written when an update omits the status.
const DefaultStatus = "assigned"

// Field names of an activeOrders/{orderId} node.
const (
	fieldStatus        = "status"
	fieldWorkerID      = "boy_id"
	fieldWorkerLat     = "boy_lat"
	fieldWorkerLng     = "boy_lng"
	fieldPolyline      = "polyline"
	fieldRestaurantLat = "restaurant_lat"
	fieldRestaurantLng = "restaurant_lng"
	fieldCustomerLat   = "customer_lat"
	fieldCustomerLng   = "customer_lng"
	fieldDistance      = "distance"
	fieldDuration      = "duration"
	fieldCreatedAt     = "created_at"
	fieldLastUpdated   = "last_updated"
)

// ActiveOrderUpdate is a partial update. Empty strings and unset Numbers mean
// "leave the stored value alone"; Status is the exception and is always
// written.
type ActiveOrderUpdate struct {
	OrderID       string       `json:"orderId"`
	Status        string       `json:"status"`
	WorkerID      string       `json:"boyId"`
	WorkerLat     types.Number `json:"boyLat"`
	WorkerLng     types.Number `json:"boyLng"`
	Polyline      string       `json:"polyline"`
	RestaurantLat types.Number `json:"restaurantLat"`
	RestaurantLng types.Number `json:"restaurantLng"`
	CustomerLat   types.Number `json:"customerLat"`
	CustomerLng   types.Number `json:"customerLng"`
	DistanceKm    types.Number `json:"distanceKm"`
	DurationMin   types.Number `json:"durationMin"`
	// CreatedAt is milliseconds since the epoch.
	CreatedAt types.Number `json:"createdAt"`
}

type ActiveDelivery struct {
	OrderID        types.ID     `json:"orderId"`
	Status         string       `json:"status"`
	WorkerID       types.ID     `json:"boyId,omitempty"`
	WorkerPosition *types.Point `json:"boyPosition,omitempty"`
	Polyline       string       `json:"polyline,omitempty"`
	Restaurant     *types.Point `json:"restaurant,omitempty"`
	Customer       *types.Point `json:"customer,omitempty"`
	DistanceKm     *float64     `json:"distanceKm,omitempty"`
	DurationMin    *float64     `json:"durationMin,omitempty"`
	CreatedAt      *time.Time   `json:"createdAt,omitempty"`
	LastUpdated    time.Time    `json:"lastUpdated"`
}
