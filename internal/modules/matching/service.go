// README: Matcher finds the closest available worker to an origin.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"fleetloc/internal/config"
	"fleetloc/internal/modules/location"
	"fleetloc/internal/types"
)

type PresenceReader interface {
	OnlineWorkers(ctx context.Context) (map[types.ID]location.WorkerPresence, error)
	Presence(ctx context.Context, id types.ID) (location.WorkerPresence, error)
}

type Service struct {
	presence PresenceReader
	index    location.SpatialIndex
	cfg      config.MatchingConfig
	log      *slog.Logger
}

// NewService builds a matcher. With a nil index every query is a full scan of
// the online workers.
func NewService(presence PresenceReader, index location.SpatialIndex, cfg config.MatchingConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = DefaultMaxDistanceKm
	}
	return &Service{presence: presence, index: index, cfg: cfg, log: log}
}

// FindNearest returns the closest online, positioned, unclaimed worker within
// the radius that is not excluded. It only reads; the caller must claim the
// worker before treating it as assigned.
func (s *Service) FindNearest(ctx context.Context, q Query) (Candidate, error) {
	if !q.Origin.Valid() || q.MaxDistanceKm < 0 || !types.Finite(q.MaxDistanceKm) {
		return Candidate{}, ErrInvalidInput
	}
	maxKm := q.MaxDistanceKm
	if maxKm == 0 {
		maxKm = s.cfg.DefaultRadiusKm
	}
	excluded := make(map[types.ID]struct{}, len(q.Exclude))
	for _, id := range q.Exclude {
		excluded[id] = struct{}{}
	}

	if s.index != nil {
		c, err := s.nearestIndexed(ctx, q.Origin, maxKm, excluded)
		switch {
		case err == nil:
			return c, nil
		case errors.Is(err, ErrNoCandidate):
			// The index may be cold or miss workers written by another process.
			s.log.Debug("spatial index had no candidate, scanning")
		default:
			s.log.Warn("spatial index lookup failed, falling back to scan", "err", err)
		}
	}
	return s.nearestScan(ctx, q.Origin, maxKm, excluded)
}

func (s *Service) nearestScan(ctx context.Context, origin types.Point, maxKm float64, excluded map[types.ID]struct{}) (Candidate, error) {
	online, err := s.presence.OnlineWorkers(ctx)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %w", ErrNoCandidate, err)
	}

	// Children come back keyed by id; scanning in key order keeps the
	// first-encountered tie-break deterministic.
	ids := make([]types.ID, 0, len(online))
	for id := range online {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var best Candidate
	found := false
	for _, id := range ids {
		if _, skip := excluded[id]; skip {
			continue
		}
		c, ok := evaluate(online[id], origin, maxKm)
		if !ok {
			continue
		}
		if !found || c.DistanceKm < best.DistanceKm {
			best, found = c, true
		}
	}
	if !found {
		return Candidate{}, ErrNoCandidate
	}
	return best, nil
}

// nearestIndexed re-validates every index hit against its stored record and
// ranks them by the recomputed distance. Index positions may lag the store,
// so index order alone does not decide the winner.
func (s *Service) nearestIndexed(ctx context.Context, origin types.Point, maxKm float64, excluded map[types.ID]struct{}) (Candidate, error) {
	ids, err := s.index.Nearby(ctx, origin, maxKm)
	if err != nil {
		return Candidate{}, err
	}
	var best Candidate
	found := false
	for _, id := range ids {
		if _, skip := excluded[id]; skip {
			continue
		}
		p, err := s.presence.Presence(ctx, id)
		if errors.Is(err, location.ErrNotFound) {
			continue
		}
		if err != nil {
			return Candidate{}, err
		}
		c, ok := evaluate(p, origin, maxKm)
		if !ok {
			continue
		}
		if !found || c.DistanceKm < best.DistanceKm || (c.DistanceKm == best.DistanceKm && c.WorkerID < best.WorkerID) {
			best, found = c, true
		}
	}
	if !found {
		return Candidate{}, ErrNoCandidate
	}
	return best, nil
}

func evaluate(p location.WorkerPresence, origin types.Point, maxKm float64) (Candidate, bool) {
	if !p.Available() {
		return Candidate{}, false
	}
	d := location.HaversineKm(origin.Lat, origin.Lng, p.Position.Lat, p.Position.Lng)
	if !types.Finite(d) || d > maxKm {
		return Candidate{}, false
	}
	return Candidate{WorkerID: p.WorkerID, DistanceKm: d, Position: *p.Position}, true
}
