// README: Active-delivery tracker with merge-update semantics.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fleetloc/internal/rtdb"
	"fleetloc/internal/types"
)

const activeOrdersRoot = "activeOrders"

var (
	ErrInvalidInput = errors.New("invalid tracking input")
	ErrNotFound     = errors.New("active order not found")
	ErrUnavailable  = rtdb.ErrUnavailable
)

type Store struct {
	client rtdb.Client
	log    *slog.Logger
	now    func() time.Time
}

func NewStore(client rtdb.Client, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{client: client, log: log, now: time.Now}
}

// UpdateActiveOrder merges the provided fields into the order's node. Status
// (DefaultStatus when empty) and last_updated are always written; every other
// field only when present and valid, so sequential partial updates never
// erase each other's data.
func (s *Store) UpdateActiveOrder(ctx context.Context, u ActiveOrderUpdate) (err error) {
	defer rtdb.Recover(&err, s.log, "update active order")

	id, ok := rtdb.CleanKey(u.OrderID)
	if !ok {
		return ErrInvalidInput
	}
	if s.client == nil {
		s.log.Warn("active order update skipped: store not initialised", "order_id", id)
		return ErrUnavailable
	}

	status := strings.TrimSpace(u.Status)
	if status == "" {
		status = DefaultStatus
	}
	fields := rtdb.Record{
		fieldStatus:      status,
		fieldLastUpdated: s.now().UnixMilli(),
	}
	if p, ok := types.PairFrom(u.WorkerLat, u.WorkerLng); ok {
		fields[fieldWorkerLat] = p.Lat
		fields[fieldWorkerLng] = p.Lng
	}
	if w := strings.TrimSpace(u.WorkerID); w != "" {
		fields[fieldWorkerID] = w
	}
	if strings.TrimSpace(u.Polyline) != "" {
		fields[fieldPolyline] = u.Polyline
	}
	if p, ok := types.PairFrom(u.RestaurantLat, u.RestaurantLng); ok {
		fields[fieldRestaurantLat] = p.Lat
		fields[fieldRestaurantLng] = p.Lng
	}
	if p, ok := types.PairFrom(u.CustomerLat, u.CustomerLng); ok {
		fields[fieldCustomerLat] = p.Lat
		fields[fieldCustomerLng] = p.Lng
	}
	if v, ok := u.DistanceKm.Float(); ok {
		fields[fieldDistance] = v
	}
	if v, ok := u.DurationMin.Float(); ok {
		fields[fieldDuration] = v
	}
	if v, ok := u.CreatedAt.Float(); ok {
		fields[fieldCreatedAt] = int64(v)
	}

	if err := s.client.Update(ctx, rtdb.Join(activeOrdersRoot, id), fields); err != nil {
		s.log.Warn("active order update failed", "order_id", id, "err", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ActiveOrder reads the tracking record polled by customer and restaurant views.
func (s *Store) ActiveOrder(ctx context.Context, orderID types.ID) (d ActiveDelivery, err error) {
	defer rtdb.Recover(&err, s.log, "get active order")

	id, ok := rtdb.CleanKey(string(orderID))
	if !ok {
		return ActiveDelivery{}, ErrInvalidInput
	}
	if s.client == nil {
		return ActiveDelivery{}, ErrUnavailable
	}
	rec, err := s.client.Get(ctx, rtdb.Join(activeOrdersRoot, id))
	if err != nil {
		s.log.Warn("active order read failed", "order_id", id, "err", err)
		return ActiveDelivery{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if rec == nil {
		return ActiveDelivery{}, ErrNotFound
	}
	return decode(types.ID(id), rec), nil
}

func decode(id types.ID, rec rtdb.Record) ActiveDelivery {
	d := ActiveDelivery{
		OrderID:        id,
		Status:         rec.String(fieldStatus),
		WorkerID:       types.ID(rec.String(fieldWorkerID)),
		Polyline:       rec.String(fieldPolyline),
		WorkerPosition: point(rec, fieldWorkerLat, fieldWorkerLng),
		Restaurant:     point(rec, fieldRestaurantLat, fieldRestaurantLng),
		Customer:       point(rec, fieldCustomerLat, fieldCustomerLng),
		DistanceKm:     rec.FloatPtr(fieldDistance),
		DurationMin:    rec.FloatPtr(fieldDuration),
	}
	if ms, ok := rec.Int64(fieldCreatedAt); ok {
		t := time.UnixMilli(ms)
		d.CreatedAt = &t
	}
	if ms, ok := rec.Int64(fieldLastUpdated); ok {
		d.LastUpdated = time.UnixMilli(ms)
	}
	return d
}

func point(rec rtdb.Record, latKey, lngKey string) *types.Point {
	lat, ok1 := rec.Float(latKey)
	lng, ok2 := rec.Float(lngKey)
	if !ok1 || !ok2 {
		return nil
	}
	return &types.Point{Lat: lat, Lng: lng}
}
