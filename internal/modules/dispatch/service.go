package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fleetloc/internal/events"
	"fleetloc/internal/modules/location"
	"fleetloc/internal/modules/matching"
	"fleetloc/internal/modules/routecache"
	"fleetloc/internal/modules/tracking"
	"fleetloc/internal/rtdb"
	"fleetloc/internal/types"
)

// DefaultClaimAttempts applies when the service is built with no limit.
const DefaultClaimAttempts = 5

type Matcher interface {
	FindNearest(ctx context.Context, q matching.Query) (matching.Candidate, error)
}

type Claimer interface {
	ClaimWorker(ctx context.Context, workerID, orderID types.ID) error
	ReleaseWorker(ctx context.Context, workerID, orderID types.ID) error
	Presence(ctx context.Context, workerID types.ID) (location.WorkerPresence, error)
}

type Tracker interface {
	UpdateActiveOrder(ctx context.Context, u tracking.ActiveOrderUpdate) error
	ActiveOrder(ctx context.Context, orderID types.ID) (tracking.ActiveDelivery, error)
}

type RouteResolver interface {
	Resolve(ctx context.Context, restaurant, customer *types.Point) (routecache.Entry, bool, error)
}

type Notifier interface {
	NotifyAssignment(ctx context.Context, a Assignment, cmd AssignCommand) error
}

type Service struct {
	matcher   Matcher
	claims    Claimer
	tracker   Tracker
	routes    RouteResolver
	notifier  Notifier
	publisher events.Publisher
	attempts  int
	log       *slog.Logger
	now       func() time.Time
}

type Deps struct {
	Matcher Matcher
	Claims  Claimer
	Tracker Tracker
	// Routes, Notifier and Publisher are optional.
	Routes    RouteResolver
	Notifier  Notifier
	Publisher events.Publisher
}

func NewService(deps Deps, attempts int, log *slog.Logger) *Service {
	if attempts <= 0 {
		attempts = DefaultClaimAttempts
	}
	if log == nil {
		log = slog.Default()
	}
	pub := deps.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		matcher:   deps.Matcher,
		claims:    deps.Claims,
		tracker:   deps.Tracker,
		routes:    deps.Routes,
		notifier:  deps.Notifier,
		publisher: pub,
		attempts:  attempts,
		log:       log,
		now:       time.Now,
	}
}

// Assign finds the nearest available worker and claims it for the order.
// A candidate lost to a concurrent claim is excluded and the next nearest is
// tried, up to the configured number of attempts.
func (s *Service) Assign(ctx context.Context, cmd AssignCommand) (Assignment, error) {
	id, ok := rtdb.CleanKey(string(cmd.OrderID))
	if !ok || !cmd.Restaurant.Valid() || (cmd.Customer != nil && !cmd.Customer.Valid()) {
		return Assignment{}, ErrInvalidInput
	}
	cmd.OrderID = types.ID(id)

	if a, ok, err := s.existingAssignment(ctx, cmd); err != nil || ok {
		return a, err
	}

	exclude := append([]types.ID(nil), cmd.Exclude...)
	var (
		cand    matching.Candidate
		claimed bool
		tries   int
	)
	for tries < s.attempts {
		tries++
		c, err := s.matcher.FindNearest(ctx, matching.Query{
			Origin:        cmd.Restaurant,
			MaxDistanceKm: cmd.MaxDistanceKm,
			Exclude:       exclude,
		})
		switch {
		case errors.Is(err, matching.ErrInvalidInput):
			return Assignment{}, ErrInvalidInput
		case err != nil:
			return Assignment{}, fmt.Errorf("%w: %w", ErrNoWorker, err)
		}

		err = s.claims.ClaimWorker(ctx, c.WorkerID, cmd.OrderID)
		if err == nil {
			cand, claimed = c, true
			break
		}
		if !errors.Is(err, location.ErrClaimConflict) && !errors.Is(err, location.ErrNotFound) {
			return Assignment{}, fmt.Errorf("claim worker %s: %w", c.WorkerID, err)
		}
		s.log.Info("candidate lost to another order, trying next", "order_id", cmd.OrderID, "worker_id", c.WorkerID)
		exclude = append(exclude, c.WorkerID)
	}
	if !claimed {
		return Assignment{}, fmt.Errorf("%w: %d candidates already claimed", ErrNoWorker, tries)
	}

	a := Assignment{
		OrderID:        cmd.OrderID,
		WorkerID:       cand.WorkerID,
		DistanceKm:     cand.DistanceKm,
		WorkerPosition: cand.Position,
		Attempts:       tries,
	}
	if s.routes != nil && cmd.Customer != nil {
		restaurant := cmd.Restaurant
		if e, _, err := s.routes.Resolve(ctx, &restaurant, cmd.Customer); err != nil {
			s.log.Warn("route lookup failed, assigning without route", "order_id", cmd.OrderID, "err", err)
		} else {
			a.Route = &e
		}
	}

	if err := s.tracker.UpdateActiveOrder(ctx, activeUpdate(a, cmd, s.now())); err != nil {
		if rerr := s.claims.ReleaseWorker(ctx, a.WorkerID, a.OrderID); rerr != nil {
			s.log.Warn("release after failed tracking write failed", "order_id", a.OrderID, "worker_id", a.WorkerID, "err", rerr)
		}
		return Assignment{}, fmt.Errorf("record assignment: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyAssignment(ctx, a, cmd); err != nil {
			s.log.Warn("worker notification failed", "order_id", a.OrderID, "worker_id", a.WorkerID, "err", err)
		}
	}
	dist := a.DistanceKm
	pos := a.WorkerPosition
	s.publish(ctx, events.Event{
		Type:       events.DeliveryAssigned,
		OrderID:    a.OrderID,
		WorkerID:   a.WorkerID,
		DistanceKm: &dist,
		Position:   &pos,
	})

	s.log.Info("order assigned", "order_id", a.OrderID, "worker_id", a.WorkerID, "distance_km", a.DistanceKm, "attempts", a.Attempts)
	return a, nil
}

// existingAssignment returns the worker already holding the order, so a
// retried dispatch neither claims a second worker nor strands the first.
func (s *Service) existingAssignment(ctx context.Context, cmd AssignCommand) (Assignment, bool, error) {
	d, err := s.tracker.ActiveOrder(ctx, cmd.OrderID)
	switch {
	case errors.Is(err, tracking.ErrNotFound):
		return Assignment{}, false, nil
	case err != nil:
		return Assignment{}, false, fmt.Errorf("load active order: %w", err)
	}
	if d.WorkerID == "" || d.Status == StatusDelivered {
		return Assignment{}, false, nil
	}
	p, err := s.claims.Presence(ctx, d.WorkerID)
	switch {
	case errors.Is(err, location.ErrNotFound):
		return Assignment{}, false, nil
	case err != nil:
		return Assignment{}, false, fmt.Errorf("load worker %s: %w", d.WorkerID, err)
	}
	if p.ClaimedBy != cmd.OrderID {
		return Assignment{}, false, nil
	}

	a := Assignment{OrderID: cmd.OrderID, WorkerID: d.WorkerID}
	switch {
	case p.Locatable():
		a.WorkerPosition = *p.Position
	case d.WorkerPosition != nil:
		a.WorkerPosition = *d.WorkerPosition
	}
	a.DistanceKm = location.HaversineKm(cmd.Restaurant.Lat, cmd.Restaurant.Lng, a.WorkerPosition.Lat, a.WorkerPosition.Lng)
	if d.Polyline != "" {
		e := routecache.Entry{Polyline: d.Polyline, DistanceKm: d.DistanceKm, DurationMin: d.DurationMin}
		if key, ok := routecache.BuildKey(d.Restaurant, d.Customer); ok {
			e.Key = key
		}
		a.Route = &e
	}
	s.log.Info("order already assigned", "order_id", a.OrderID, "worker_id", a.WorkerID)
	return a, true, nil
}

func activeUpdate(a Assignment, cmd AssignCommand, now time.Time) tracking.ActiveOrderUpdate {
	u := tracking.ActiveOrderUpdate{
		OrderID:       string(a.OrderID),
		Status:        tracking.DefaultStatus,
		WorkerID:      string(a.WorkerID),
		WorkerLat:     types.Num(a.WorkerPosition.Lat),
		WorkerLng:     types.Num(a.WorkerPosition.Lng),
		RestaurantLat: types.Num(cmd.Restaurant.Lat),
		RestaurantLng: types.Num(cmd.Restaurant.Lng),
		CreatedAt:     types.Num(float64(now.UnixMilli())),
	}
	if cmd.Customer != nil {
		u.CustomerLat = types.Num(cmd.Customer.Lat)
		u.CustomerLng = types.Num(cmd.Customer.Lng)
	}
	if a.Route != nil {
		u.Polyline = a.Route.Polyline
		if a.Route.DistanceKm != nil {
			u.DistanceKm = types.Num(*a.Route.DistanceKm)
		}
		if a.Route.DurationMin != nil {
			u.DurationMin = types.Num(*a.Route.DurationMin)
		}
	}
	return u
}

// Complete marks the order delivered and frees its worker. Releasing a
// worker the order no longer holds is not an error, so retries are safe.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) error {
	id, ok := rtdb.CleanKey(string(cmd.OrderID))
	if !ok {
		return ErrInvalidInput
	}
	cmd.OrderID = types.ID(id)
	workerID := cmd.WorkerID
	if workerID == "" {
		d, err := s.tracker.ActiveOrder(ctx, cmd.OrderID)
		if err != nil {
			return fmt.Errorf("load active order: %w", err)
		}
		workerID = d.WorkerID
	}

	if err := s.tracker.UpdateActiveOrder(ctx, tracking.ActiveOrderUpdate{
		OrderID: string(cmd.OrderID),
		Status:  StatusDelivered,
	}); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}

	if workerID != "" {
		err := s.claims.ReleaseWorker(ctx, workerID, cmd.OrderID)
		switch {
		case err == nil:
		case errors.Is(err, location.ErrClaimConflict), errors.Is(err, location.ErrNotFound):
			s.log.Info("worker already released", "order_id", cmd.OrderID, "worker_id", workerID)
		default:
			return fmt.Errorf("release worker %s: %w", workerID, err)
		}
	}

	s.publish(ctx, events.Event{Type: events.DeliveryCompleted, OrderID: cmd.OrderID, WorkerID: workerID})
	return nil
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("event publish failed", "type", ev.Type, "order_id", ev.OrderID, "err", err)
	}
}
