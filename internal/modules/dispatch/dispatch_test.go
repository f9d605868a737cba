package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/require"

	"fleetloc/internal/config"
	"fleetloc/internal/events"
	"fleetloc/internal/modules/location"
	"fleetloc/internal/modules/matching"
	"fleetloc/internal/modules/routecache"
	"fleetloc/internal/modules/tracking"
	"fleetloc/internal/rtdb"
	"fleetloc/internal/types"
)

var restaurant = types.Point{Lat: 12.9716, Lng: 77.5946}

func f(v float64) *float64 { return &v }

type harness struct {
	presence  *location.Store
	tracker   *tracking.Store
	matcher   *matching.Service
	published *publishRecorder
	notified  *notifyRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := rtdb.NewMemoryClient()
	presence := location.NewStore(client, nil)
	return &harness{
		presence:  presence,
		tracker:   tracking.NewStore(client, nil),
		matcher:   matching.NewService(presence, nil, config.MatchingConfig{}, nil),
		published: &publishRecorder{},
		notified:  &notifyRecorder{},
	}
}

func (h *harness) service(claims Claimer, routes RouteResolver) *Service {
	if claims == nil {
		claims = h.presence
	}
	return NewService(Deps{
		Matcher:   h.matcher,
		Claims:    claims,
		Tracker:   h.tracker,
		Routes:    routes,
		Notifier:  h.notified,
		Publisher: h.published,
	}, 3, nil)
}

func (h *harness) online(t *testing.T, id string, lat, lng float64) {
	t.Helper()
	require.NoError(t, h.presence.UpdatePresence(context.Background(), location.PresenceUpdate{
		WorkerID: id, Lat: f(lat), Lng: f(lng), Online: true,
	}))
}

type publishRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *publishRecorder) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type notifyRecorder struct {
	mu   sync.Mutex
	sent []Assignment
	err  error
}

func (n *notifyRecorder) NotifyAssignment(_ context.Context, a Assignment, _ AssignCommand) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, a)
	return n.err
}

// racingClaimer loses the first n claims to a phantom order.
type racingClaimer struct {
	Claimer
	lose int
	lost []types.ID
}

func (r *racingClaimer) ClaimWorker(ctx context.Context, workerID, orderID types.ID) error {
	if len(r.lost) < r.lose {
		r.lost = append(r.lost, workerID)
		return location.ErrClaimConflict
	}
	return r.Claimer.ClaimWorker(ctx, workerID, orderID)
}

type stubRoutes struct {
	entry routecache.Entry
	err   error
}

func (s stubRoutes) Resolve(context.Context, *types.Point, *types.Point) (routecache.Entry, bool, error) {
	return s.entry, false, s.err
}

func TestAssign_ClaimsNearestAndRecordsOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.online(t, "near", 12.9720, 77.5950)
	h.online(t, "far", 12.99, 77.62)

	km, mins := 5.2, 18.0
	routes := stubRoutes{entry: routecache.Entry{Polyline: "enc", DistanceKm: &km, DurationMin: &mins}}
	customer := &types.Point{Lat: 12.9352, Lng: 77.6245}

	a, err := h.service(nil, routes).Assign(ctx, AssignCommand{OrderID: "o1", Restaurant: restaurant, Customer: customer})
	require.NoError(t, err)
	require.Equal(t, types.ID("near"), a.WorkerID)
	require.Equal(t, 1, a.Attempts)
	require.NotNil(t, a.Route)

	p, err := h.presence.Presence(ctx, "near")
	require.NoError(t, err)
	require.Equal(t, types.ID("o1"), p.ClaimedBy)

	d, err := h.tracker.ActiveOrder(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, tracking.DefaultStatus, d.Status)
	require.Equal(t, types.ID("near"), d.WorkerID)
	require.Equal(t, "enc", d.Polyline)
	require.Equal(t, customer, d.Customer)
	require.Equal(t, 5.2, *d.DistanceKm)

	require.Len(t, h.notified.sent, 1)
	require.Len(t, h.published.events, 1)
	require.Equal(t, events.DeliveryAssigned, h.published.events[0].Type)
}

func TestAssign_RetriesNextCandidateOnConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.online(t, "a", 12.9717, 77.5946)
	h.online(t, "b", 12.9730, 77.5946)

	claims := &racingClaimer{Claimer: h.presence, lose: 1}
	a, err := h.service(claims, nil).Assign(ctx, AssignCommand{OrderID: "o1", Restaurant: restaurant})
	require.NoError(t, err)
	require.Equal(t, []types.ID{"a"}, claims.lost)
	require.Equal(t, types.ID("b"), a.WorkerID)
	require.Equal(t, 2, a.Attempts)
}

func TestAssign_RepeatedForSameOrderKeepsWorker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.online(t, "near", 12.9720, 77.5950)
	h.online(t, "far", 12.99, 77.62)
	km := 5.2
	customer := &types.Point{Lat: 12.9352, Lng: 77.6245}
	svc := h.service(nil, stubRoutes{entry: routecache.Entry{Polyline: "enc", DistanceKm: &km}})
	cmd := AssignCommand{OrderID: "o1", Restaurant: restaurant, Customer: customer}

	first, err := svc.Assign(ctx, cmd)
	require.NoError(t, err)
	require.Equal(t, types.ID("near"), first.WorkerID)

	again, err := svc.Assign(ctx, cmd)
	require.NoError(t, err)
	require.Equal(t, types.ID("near"), again.WorkerID)
	require.InDelta(t, first.DistanceKm, again.DistanceKm, 1e-9)
	require.NotNil(t, again.Route)
	require.Equal(t, "enc", again.Route.Polyline)
	require.Len(t, h.notified.sent, 1)
	require.Len(t, h.published.events, 1)

	far, err := h.presence.Presence(ctx, "far")
	require.NoError(t, err)
	require.Empty(t, far.ClaimedBy)

	require.NoError(t, svc.Complete(ctx, CompleteCommand{OrderID: "o1"}))
	near, err := h.presence.Presence(ctx, "near")
	require.NoError(t, err)
	require.Empty(t, near.ClaimedBy)
}

func TestAssign_RematchesWhenClaimWasLost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.online(t, "near", 12.9720, 77.5950)
	h.online(t, "far", 12.99, 77.62)
	svc := h.service(nil, nil)

	_, err := svc.Assign(ctx, AssignCommand{OrderID: "o1", Restaurant: restaurant})
	require.NoError(t, err)
	require.NoError(t, h.presence.ReleaseWorker(ctx, "near", "o1"))
	require.NoError(t, h.presence.ClaimWorker(ctx, "near", "o2"))

	a, err := svc.Assign(ctx, AssignCommand{OrderID: "o1", Restaurant: restaurant})
	require.NoError(t, err)
	require.Equal(t, types.ID("far"), a.WorkerID)
	require.Equal(t, 1, a.Attempts)
}

func TestAssign_GivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		h.online(t, id, 12.9717, 77.5946)
	}

	claims := &racingClaimer{Claimer: h.presence, lose: 10}
	_, err := h.service(claims, nil).Assign(ctx, AssignCommand{OrderID: "o1", Restaurant: restaurant})
	require.ErrorIs(t, err, ErrNoWorker)
	require.Len(t, claims.lost, 3)
	require.Empty(t, h.published.events)
}

func TestAssign_NoCandidate(t *testing.T) {
	h := newHarness(t)
	_, err := h.service(nil, nil).Assign(context.Background(), AssignCommand{OrderID: "o1", Restaurant: restaurant})
	require.ErrorIs(t, err, ErrNoWorker)
	require.ErrorIs(t, err, matching.ErrNoCandidate)
}

func TestAssign_InvalidInput(t *testing.T) {
	h := newHarness(t)
	svc := h.service(nil, nil)
	_, err := svc.Assign(context.Background(), AssignCommand{Restaurant: restaurant})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Assign(context.Background(), AssignCommand{OrderID: "o1", Restaurant: restaurant, MaxDistanceKm: -1})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAssign_ConcurrentOrdersNeverShareWorker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.online(t, "only", 12.9717, 77.5946)
	svc := h.service(nil, nil)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, id := range []types.ID{"o1", "o2"} {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := svc.Assign(ctx, AssignCommand{OrderID: id, Restaurant: restaurant})
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	ok, failed := 0, 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrNoWorker)
		failed++
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, failed)
}

func TestAssign_NotificationFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.online(t, "w1", 12.9717, 77.5946)
	h.notified.err = errors.New("fcm down")

	_, err := h.service(nil, stubRoutes{err: errors.New("maps down")}).Assign(context.Background(), AssignCommand{
		OrderID: "o1", Restaurant: restaurant, Customer: &types.Point{Lat: 1, Lng: 1},
	})
	require.NoError(t, err)
}

func TestComplete_ReleasesWorker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.online(t, "w1", 12.9717, 77.5946)
	svc := h.service(nil, nil)

	_, err := svc.Assign(ctx, AssignCommand{OrderID: "o1", Restaurant: restaurant})
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, CompleteCommand{OrderID: "o1"}))

	p, err := h.presence.Presence(ctx, "w1")
	require.NoError(t, err)
	require.True(t, p.Available())

	d, err := h.tracker.ActiveOrder(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, d.Status)
	require.Equal(t, types.ID("w1"), d.WorkerID)

	// A second completion finds the worker already free.
	require.NoError(t, svc.Complete(ctx, CompleteCommand{OrderID: "o1", WorkerID: "w1"}))
	require.Equal(t, events.DeliveryCompleted, h.published.events[len(h.published.events)-1].Type)
}

func TestComplete_UnknownOrder(t *testing.T) {
	h := newHarness(t)
	err := h.service(nil, nil).Complete(context.Background(), CompleteCommand{OrderID: "nope"})
	require.ErrorIs(t, err, tracking.ErrNotFound)
}

type senderFunc func(ctx context.Context, m *messaging.Message) (string, error)

func (f senderFunc) Send(ctx context.Context, m *messaging.Message) (string, error) { return f(ctx, m) }

func TestFCMNotifier_SendsToWorkerTopic(t *testing.T) {
	var got *messaging.Message
	n := NewFCMNotifier(senderFunc(func(_ context.Context, m *messaging.Message) (string, error) {
		got = m
		return "msg-1", nil
	}), nil)

	err := n.NotifyAssignment(context.Background(),
		Assignment{OrderID: "o1", WorkerID: "w9", DistanceKm: 1.234, Route: &routecache.Entry{Polyline: "enc"}},
		AssignCommand{OrderID: "o1", Restaurant: restaurant, Customer: &types.Point{Lat: 1, Lng: 2}},
	)
	require.NoError(t, err)
	require.Equal(t, "worker_w9", got.Topic)
	require.Equal(t, "o1", got.Data["order_id"])
	require.Equal(t, "1.23", got.Data["distance_km"])
	require.Equal(t, "enc", got.Data["polyline"])
	require.Equal(t, "1.000000", got.Data["customer_lat"])
	require.Equal(t, "high", got.Android.Priority)
}

func TestFCMNotifier_WrapsSendError(t *testing.T) {
	n := NewFCMNotifier(senderFunc(func(context.Context, *messaging.Message) (string, error) {
		return "", errors.New("unregistered")
	}), nil)
	err := n.NotifyAssignment(context.Background(), Assignment{WorkerID: "w1"}, AssignCommand{})
	require.ErrorContains(t, err, "worker_w1")
}
