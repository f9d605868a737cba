// README: Domain events emitted by dispatch, published to a RabbitMQ topic exchange.
package events

import (
	"context"
	"time"

	"fleetloc/internal/types"
)

// Routing keys.
const (
	DeliveryAssigned  = "delivery.assigned"
	DeliveryCompleted = "delivery.completed"
)

type Event struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	OrderID    types.ID     `json:"orderId"`
	WorkerID   types.ID     `json:"workerId"`
	DistanceKm *float64     `json:"distanceKm,omitempty"`
	Position   *types.Point `json:"position,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
