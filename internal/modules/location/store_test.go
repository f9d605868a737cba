package location

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetloc/internal/rtdb"
	"fleetloc/internal/types"
)

func f(v float64) *float64 { return &v }

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *rtdb.MemoryClient, *fixedClock) {
	t.Helper()
	client := rtdb.NewMemoryClient()
	clock := &fixedClock{t: time.UnixMilli(1_700_000_000_000)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewStore(client, nil, opts...), client, clock
}

func TestUpdatePresence_WritesStatusPositionAndTimestamp(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t)

	err := store.UpdatePresence(ctx, PresenceUpdate{WorkerID: " w1 ", Lat: f(12.9), Lng: f(77.6), Online: true})
	require.NoError(t, err)

	p, err := store.Presence(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, StatusOnline, p.Status)
	require.Equal(t, &types.Point{Lat: 12.9, Lng: 77.6}, p.Position)
	require.Equal(t, clock.Now().UnixMilli(), p.LastUpdated.UnixMilli())
}

func TestUpdatePresence_MissingPositionKeepsStoredOne(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t)

	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Lat: f(12.9), Lng: f(77.6), Online: true}))
	clock.Advance(time.Minute)
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Online: true}))

	p, err := store.Presence(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, &types.Point{Lat: 12.9, Lng: 77.6}, p.Position)
	require.Equal(t, clock.Now().UnixMilli(), p.LastUpdated.UnixMilli())
}

func TestUpdatePresence_NeverWritesHalfPosition(t *testing.T) {
	ctx := context.Background()
	store, client, _ := newTestStore(t)

	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Lat: f(12.9), Online: true}))
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w2", Lat: f(math.NaN()), Lng: f(77.6), Online: false}))
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w3", Lat: f(12.9), Lng: f(math.Inf(1)), Online: true}))

	for _, id := range []string{"w1", "w2", "w3"} {
		rec, err := client.Get(ctx, "presence/"+id)
		require.NoError(t, err)
		require.NotContains(t, rec, "lat", id)
		require.NotContains(t, rec, "lng", id)
	}
	p, err := store.Presence(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, StatusOffline, p.Status)
}

func TestUpdatePresence_RejectsEmptyID(t *testing.T) {
	store, _, _ := newTestStore(t)
	err := store.UpdatePresence(context.Background(), PresenceUpdate{WorkerID: "   ", Online: true})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdatePresence_StoreUnavailable(t *testing.T) {
	ctx := context.Background()

	nilStore := NewStore(nil, nil)
	require.ErrorIs(t, nilStore.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Online: true}), ErrUnavailable)

	store, client, _ := newTestStore(t)
	require.NoError(t, client.Close())
	err := store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Online: true})
	require.ErrorIs(t, err, ErrUnavailable)
	require.NotErrorIs(t, err, ErrInvalidInput)
}

type panicClient struct{ rtdb.Client }

func (panicClient) Update(context.Context, string, rtdb.Record) error { panic("connection reset") }

func TestUpdatePresence_PanickingClientIsAbsorbed(t *testing.T) {
	store := NewStore(panicClient{}, nil)
	err := store.UpdatePresence(context.Background(), PresenceUpdate{WorkerID: "w1", Online: true})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestOnlineWorkers_FiltersByStatus(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "a", Lat: f(1), Lng: f(1), Online: true}))
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "b", Lat: f(1), Lng: f(1), Online: false}))
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "c", Online: true}))

	online, err := store.OnlineWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, online, 2)
	require.True(t, online["a"].Available())
	require.False(t, online["c"].Locatable())
}

func TestClaimWorker_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Lat: f(1), Lng: f(1), Online: true}))
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "off", Lat: f(1), Lng: f(1), Online: false}))

	require.NoError(t, store.ClaimWorker(ctx, "w1", "o1"))
	require.NoError(t, store.ClaimWorker(ctx, "w1", "o1"), "same order re-claims idempotently")
	require.ErrorIs(t, store.ClaimWorker(ctx, "w1", "o2"), ErrClaimConflict)
	require.ErrorIs(t, store.ClaimWorker(ctx, "off", "o2"), ErrClaimConflict)
	require.ErrorIs(t, store.ClaimWorker(ctx, "ghost", "o2"), ErrNotFound)

	p, err := store.Presence(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, types.ID("o1"), p.ClaimedBy)
	require.False(t, p.Available())
}

func TestClaimWorker_SurvivesPings(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Lat: f(1), Lng: f(1), Online: true}))
	require.NoError(t, store.ClaimWorker(ctx, "w1", "o1"))

	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Lat: f(1.1), Lng: f(1.1), Online: true}))

	p, err := store.Presence(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, types.ID("o1"), p.ClaimedBy)
}

func TestClaimWorker_OnlyOneConcurrentWinner(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Lat: f(1), Lng: f(1), Online: true}))

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- store.ClaimWorker(ctx, "w1", types.ID("order"+string(rune('a'+n))))
		}(i)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrClaimConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, success)
}

func TestReleaseWorker(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Lat: f(1), Lng: f(1), Online: true}))
	require.NoError(t, store.ClaimWorker(ctx, "w1", "o1"))

	require.ErrorIs(t, store.ReleaseWorker(ctx, "w1", "o2"), ErrClaimConflict)
	require.NoError(t, store.ReleaseWorker(ctx, "w1", "o1"))

	p, err := store.Presence(ctx, "w1")
	require.NoError(t, err)
	require.True(t, p.Available())
	require.Nil(t, p.ClaimedAt)
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) RecordPresence(_ context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
	return nil
}

func TestUpdatePresence_FeedsIndexAndHistory(t *testing.T) {
	ctx := context.Background()
	idx := NewGridIndex(0)
	hist := &recorder{}
	store, _, _ := newTestStore(t, WithIndex(idx), WithHistory(hist))

	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Lat: f(12.9), Lng: f(77.6), Online: true}))
	require.Equal(t, 1, idx.Len())
	require.Len(t, hist.snaps, 1)

	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Online: false}))
	require.Equal(t, 0, idx.Len())
	require.Len(t, hist.snaps, 1, "pings without a position are not recorded")

	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "w1", Online: true}))
	require.Equal(t, 1, idx.Len(), "going online re-indexes the stored position")
}

func TestWarmIndex_LoadsLocatableOnlineWorkers(t *testing.T) {
	ctx := context.Background()
	store, client, _ := newTestStore(t)
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "a", Lat: f(1), Lng: f(1), Online: true}))
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "b", Online: true}))
	require.NoError(t, store.UpdatePresence(ctx, PresenceUpdate{WorkerID: "c", Lat: f(2), Lng: f(2), Online: false}))

	idx := NewGridIndex(0)
	warm := NewStore(client, nil, WithIndex(idx))
	n, err := warm.WarmIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, idx.Len())

	n, err = store.WarmIndex(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
