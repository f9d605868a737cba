// README: Presence store over the realtime key-value store, with optional
// spatial index and history hooks.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"fleetloc/internal/rtdb"
	"fleetloc/internal/types"
)

// presenceRoot is the namespace holding one node per worker.
const presenceRoot = "presence"

var (
	ErrInvalidInput  = errors.New("invalid presence input")
	ErrNotFound      = errors.New("worker presence not found")
	ErrClaimConflict = errors.New("worker already claimed or not online")
	ErrUnavailable   = rtdb.ErrUnavailable
)

// SpatialIndex bounds nearest-worker searches to nearby cells.
type SpatialIndex interface {
	Upsert(ctx context.Context, id types.ID, p types.Point) error
	Remove(ctx context.Context, id types.ID) error
	// Nearby returns ids indexed within radiusKm of origin, nearest first.
	Nearby(ctx context.Context, origin types.Point, radiusKm float64) ([]types.ID, error)
}

type HistoryRecorder interface {
	RecordPresence(ctx context.Context, snap Snapshot) error
}

type Store struct {
	client  rtdb.Client
	index   SpatialIndex
	history HistoryRecorder
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Store)

func WithIndex(idx SpatialIndex) Option {
	return func(s *Store) { s.index = idx }
}

func WithHistory(h HistoryRecorder) Option {
	return func(s *Store) { s.history = h }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore builds a presence store. A nil client yields a store whose every
// operation reports ErrUnavailable.
func NewStore(client rtdb.Client, log *slog.Logger, opts ...Option) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{client: client, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Index() SpatialIndex { return s.index }

// UpdatePresence upserts a worker's status and, when both coordinates are
// present and finite, its position. Invalid coordinates are dropped silently;
// the status write still happens.
func (s *Store) UpdatePresence(ctx context.Context, u PresenceUpdate) (err error) {
	defer rtdb.Recover(&err, s.log, "update presence")

	id, ok := rtdb.CleanKey(u.WorkerID)
	if !ok {
		return ErrInvalidInput
	}
	if s.client == nil {
		s.log.Warn("presence update skipped: store not initialised", "worker_id", id)
		return ErrUnavailable
	}

	status := StatusOffline
	if u.Online {
		status = StatusOnline
	}
	now := s.now()
	fields := rtdb.Record{
		fieldStatus:      string(status),
		fieldLastUpdated: now.UnixMilli(),
	}
	pos, hasPos := types.PointFrom(u.Lat, u.Lng)
	if hasPos {
		fields[fieldLat] = pos.Lat
		fields[fieldLng] = pos.Lng
	}

	if err := s.client.Update(ctx, rtdb.Join(presenceRoot, id), fields); err != nil {
		s.log.Warn("presence update failed", "worker_id", id, "err", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.syncIndex(ctx, types.ID(id), status, pos, hasPos)
	if hasPos && s.history != nil {
		snap := Snapshot{WorkerID: types.ID(id), Status: status, Position: pos, RecordedAt: now}
		if err := s.history.RecordPresence(ctx, snap); err != nil {
			s.log.Warn("presence history append failed", "worker_id", id, "err", err)
		}
	}
	return nil
}

// syncIndex is best effort; the matcher re-validates every index hit.
func (s *Store) syncIndex(ctx context.Context, id types.ID, status Status, pos types.Point, hasPos bool) {
	if s.index == nil {
		return
	}
	var err error
	switch {
	case status != StatusOnline:
		err = s.index.Remove(ctx, id)
	case hasPos:
		err = s.index.Upsert(ctx, id, pos)
	default:
		// Online without a fresh fix: index whatever position is stored.
		var p WorkerPresence
		p, err = s.Presence(ctx, id)
		if err == nil && p.Locatable() {
			err = s.index.Upsert(ctx, id, *p.Position)
		}
	}
	if err != nil {
		s.log.Warn("spatial index sync failed", "worker_id", id, "err", err)
	}
}

// Presence reads one worker's record.
func (s *Store) Presence(ctx context.Context, workerID types.ID) (p WorkerPresence, err error) {
	defer rtdb.Recover(&err, s.log, "get presence")

	id, ok := rtdb.CleanKey(string(workerID))
	if !ok {
		return WorkerPresence{}, ErrInvalidInput
	}
	if s.client == nil {
		return WorkerPresence{}, ErrUnavailable
	}
	rec, err := s.client.Get(ctx, rtdb.Join(presenceRoot, id))
	if err != nil {
		s.log.Warn("presence read failed", "worker_id", id, "err", err)
		return WorkerPresence{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if rec == nil {
		return WorkerPresence{}, ErrNotFound
	}
	return decodePresence(types.ID(id), rec), nil
}

// OnlineWorkers scans every record whose status is online, including those
// without a position.
func (s *Store) OnlineWorkers(ctx context.Context) (out map[types.ID]WorkerPresence, err error) {
	defer rtdb.Recover(&err, s.log, "scan online presence")

	if s.client == nil {
		return nil, ErrUnavailable
	}
	data, err := s.client.QueryEqual(ctx, presenceRoot, fieldStatus, string(StatusOnline))
	if err != nil {
		s.log.Warn("online presence scan failed", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out = make(map[types.ID]WorkerPresence, len(data))
	for id, rec := range data {
		if rec == nil {
			continue
		}
		out[types.ID(id)] = decodePresence(types.ID(id), rec)
	}
	return out, nil
}

// WarmIndex loads every locatable online worker into the spatial index. An
// in-process index starts empty, so this runs once at startup.
func (s *Store) WarmIndex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	online, err := s.OnlineWorkers(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for id, p := range online {
		if !p.Locatable() {
			continue
		}
		if err := s.index.Upsert(ctx, id, *p.Position); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ClaimWorker atomically reserves an online, unclaimed worker for an order.
// Claiming again for the same order is a no-op. The claim lives in its own
// field so that high-frequency pings, which merge only status and position,
// never erase it.
func (s *Store) ClaimWorker(ctx context.Context, workerID, orderID types.ID) (err error) {
	defer rtdb.Recover(&err, s.log, "claim worker")

	id, ok := rtdb.CleanKey(string(workerID))
	if !ok || orderID == "" {
		return ErrInvalidInput
	}
	if s.client == nil {
		return ErrUnavailable
	}
	now := s.now()
	err = s.client.Transaction(ctx, rtdb.Join(presenceRoot, id), func(cur rtdb.Record) (rtdb.Record, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		claimedBy := cur.String(fieldClaimedBy)
		if claimedBy == string(orderID) {
			return cur, nil
		}
		if claimedBy != "" || cur.String(fieldStatus) != string(StatusOnline) {
			return nil, ErrClaimConflict
		}
		cur[fieldClaimedBy] = string(orderID)
		cur[fieldClaimedAt] = now.UnixMilli()
		return cur, nil
	})
	return s.txError(err, "claim", id)
}

// ReleaseWorker clears a claim held by orderID.
func (s *Store) ReleaseWorker(ctx context.Context, workerID, orderID types.ID) (err error) {
	defer rtdb.Recover(&err, s.log, "release worker")

	id, ok := rtdb.CleanKey(string(workerID))
	if !ok || orderID == "" {
		return ErrInvalidInput
	}
	if s.client == nil {
		return ErrUnavailable
	}
	err = s.client.Transaction(ctx, rtdb.Join(presenceRoot, id), func(cur rtdb.Record) (rtdb.Record, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		if cur.String(fieldClaimedBy) != string(orderID) {
			return nil, ErrClaimConflict
		}
		delete(cur, fieldClaimedBy)
		delete(cur, fieldClaimedAt)
		return cur, nil
	})
	return s.txError(err, "release", id)
}

func (s *Store) txError(err error, op, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrClaimConflict):
		return err
	default:
		s.log.Warn("presence transaction failed", "op", op, "worker_id", id, "err", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// StaleWorkers lists workers whose last update is before cutoff, oldest first.
func (s *Store) StaleWorkers(ctx context.Context, cutoff time.Time) (ids []types.ID, err error) {
	defer rtdb.Recover(&err, s.log, "scan stale presence")

	if s.client == nil {
		return nil, ErrUnavailable
	}
	data, err := s.client.List(ctx, presenceRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	type aged struct {
		id types.ID
		ts int64
	}
	var stale []aged
	limit := cutoff.UnixMilli()
	for id, rec := range data {
		ts, ok := rec.Int64(fieldLastUpdated)
		if !ok || ts < limit {
			stale = append(stale, aged{id: types.ID(id), ts: ts})
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if stale[i].ts != stale[j].ts {
			return stale[i].ts < stale[j].ts
		}
		return stale[i].id < stale[j].id
	})
	ids = make([]types.ID, len(stale))
	for i, a := range stale {
		ids[i] = a.id
	}
	return ids, nil
}

// errKeep aborts a conditional removal without reporting a failure.
var errKeep = errors.New("presence record kept")

// RemoveIfStale deletes a worker's record only if it is still older than
// cutoff and unclaimed at commit time, so a ping racing the reaper survives.
func (s *Store) RemoveIfStale(ctx context.Context, workerID types.ID, cutoff time.Time) (removed bool, err error) {
	defer rtdb.Recover(&err, s.log, "remove stale presence")

	id, ok := rtdb.CleanKey(string(workerID))
	if !ok {
		return false, ErrInvalidInput
	}
	if s.client == nil {
		return false, ErrUnavailable
	}
	limit := cutoff.UnixMilli()
	err = s.client.Transaction(ctx, rtdb.Join(presenceRoot, id), func(cur rtdb.Record) (rtdb.Record, error) {
		if cur == nil {
			return nil, errKeep
		}
		if ts, ok := cur.Int64(fieldLastUpdated); ok && ts >= limit {
			return nil, errKeep
		}
		if cur.String(fieldClaimedBy) != "" {
			return nil, errKeep
		}
		return nil, nil
	})
	if errors.Is(err, errKeep) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if s.index != nil {
		if err := s.index.Remove(ctx, types.ID(id)); err != nil {
			s.log.Warn("spatial index remove failed", "worker_id", id, "err", err)
		}
	}
	return true, nil
}

func decodePresence(id types.ID, rec rtdb.Record) WorkerPresence {
	p := WorkerPresence{
		WorkerID:  id,
		Status:    Status(rec.String(fieldStatus)),
		ClaimedBy: types.ID(rec.String(fieldClaimedBy)),
	}
	if ms, ok := rec.Int64(fieldLastUpdated); ok {
		p.LastUpdated = time.UnixMilli(ms)
	}
	if ms, ok := rec.Int64(fieldClaimedAt); ok {
		t := time.UnixMilli(ms)
		p.ClaimedAt = &t
	}
	lat, latOK := rec.Float(fieldLat)
	lng, lngOK := rec.Float(fieldLng)
	if latOK && lngOK {
		pt := types.Point{Lat: lat, Lng: lng}
		if pt.Valid() {
			p.Position = &pt
		}
	}
	return p
}
