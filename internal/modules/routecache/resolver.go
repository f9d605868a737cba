package routecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"fleetloc/internal/types"
)

var ErrNoRoute = errors.New("route provider returned no route")

// providerTimeout bounds one shared provider call.
const providerTimeout = 15 * time.Second

// RouteProvider computes a route between two points, e.g. Google Directions.
type RouteProvider interface {
	Route(ctx context.Context, origin, destination types.Point) (RouteData, error)
}

// Lookup outcomes reported to a LookupObserver.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeError = "error"
)

type LookupObserver interface {
	ObserveLookup(outcome string)
}

// Resolver is a cache-aside front for a RouteProvider. Concurrent misses for
// the same key share one provider call.
type Resolver struct {
	cache    *Cache
	provider RouteProvider
	ttl      time.Duration
	observer LookupObserver
	log      *slog.Logger
	group    singleflight.Group
}

// NewResolver falls back to DefaultTTL when ttl is not positive.
func NewResolver(cache *Cache, provider RouteProvider, ttl time.Duration, observer LookupObserver, log *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{cache: cache, provider: provider, ttl: ttl, observer: observer, log: log}
}

// Resolve returns the cached route for the pair or computes and caches it.
// cached reports whether the provider was skipped. A cache write failure does
// not fail the call; the computed route is still returned.
func (r *Resolver) Resolve(ctx context.Context, restaurant, customer *types.Point) (e Entry, cached bool, err error) {
	key, ok := BuildKey(restaurant, customer)
	if !ok {
		return Entry{}, false, ErrInvalidInput
	}
	if e, err := r.cache.Get(ctx, restaurant, customer); err == nil {
		r.observe(OutcomeHit)
		return e, true, nil
	}
	if r.provider == nil {
		r.observe(OutcomeMiss)
		return Entry{}, false, ErrMiss
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		// Coalesced callers share this call, so one of them cancelling must not fail the rest.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), providerTimeout)
		defer cancel()
		data, err := r.provider.Route(ctx, *restaurant, *customer)
		if err != nil {
			return nil, err
		}
		if data.Polyline == "" {
			return nil, ErrNoRoute
		}
		entry := Entry{
			Key:         key,
			Polyline:    data.Polyline,
			DistanceKm:  data.DistanceKm.Ptr(),
			DurationMin: data.DurationMin.Ptr(),
		}
		if _, err := r.cache.Put(ctx, restaurant, customer, data, r.ttl); err != nil {
			r.log.Warn("route cache fill failed", "key", key, "err", err)
			return entry, nil
		}
		now := time.UnixMilli(r.cache.now().UnixMilli())
		exp := now.Add(r.ttl)
		entry.CachedAt, entry.ExpiresAt = &now, &exp
		return entry, nil
	})
	if err != nil {
		r.observe(OutcomeError)
		return Entry{}, false, fmt.Errorf("resolve route %s: %w", key, err)
	}
	r.observe(OutcomeMiss)
	return v.(Entry), false, nil
}

func (r *Resolver) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveLookup(outcome)
	}
}
