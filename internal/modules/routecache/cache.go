package routecache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fleetloc/internal/rtdb"
	"fleetloc/internal/types"
)

type Cache struct {
	client rtdb.Client
	log    *slog.Logger
	now    func() time.Time
}

func NewCache(client rtdb.Client, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{client: client, log: log, now: time.Now}
}

// Get returns the live entry for the pair. Store failures are logged and
// reported as a miss wrapped around ErrUnavailable so callers that only care
// about hit/miss can test for ErrMiss alone.
func (c *Cache) Get(ctx context.Context, restaurant, customer *types.Point) (e Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("route cache read panicked", "panic", r)
			e, err = Entry{}, fmt.Errorf("%w: %w", ErrMiss, ErrUnavailable)
		}
	}()

	key, ok := BuildKey(restaurant, customer)
	if !ok {
		return Entry{}, ErrMiss
	}
	if c.client == nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrMiss, ErrUnavailable)
	}
	rec, err := c.client.Get(ctx, rtdb.Join(routeCacheRoot, key))
	if err != nil {
		c.log.Warn("route cache read failed", "key", key, "err", err)
		return Entry{}, fmt.Errorf("%w: %w", ErrMiss, ErrUnavailable)
	}
	if rec == nil {
		return Entry{}, ErrMiss
	}
	polyline := rec.String(fieldPolyline)
	if polyline == "" {
		return Entry{}, ErrMiss
	}
	e = Entry{
		Key:         key,
		Polyline:    polyline,
		DistanceKm:  rec.FloatPtr(fieldDistance),
		DurationMin: rec.FloatPtr(fieldDuration),
	}
	if ms, ok := rec.Int64(fieldCachedAt); ok {
		t := time.UnixMilli(ms)
		e.CachedAt = &t
	}
	if ms, ok := rec.Int64(fieldExpiresAt); ok {
		t := time.UnixMilli(ms)
		if !t.After(c.now()) {
			return Entry{}, ErrMiss
		}
		e.ExpiresAt = &t
	}
	return e, nil
}

// Put overwrites the entry for the pair and returns its key. The entry
// expires ttl after now; a ttl of zero or less stores an already expired entry.
func (c *Cache) Put(ctx context.Context, restaurant, customer *types.Point, data RouteData, ttl time.Duration) (key string, err error) {
	defer rtdb.Recover(&err, c.log, "put route")

	key, ok := BuildKey(restaurant, customer)
	if !ok || strings.TrimSpace(data.Polyline) == "" {
		return "", ErrInvalidInput
	}
	if c.client == nil {
		return "", ErrUnavailable
	}
	if ttl < 0 {
		ttl = 0
	}
	now := c.now()
	rec := rtdb.Record{
		fieldPolyline:  data.Polyline,
		fieldCachedAt:  now.UnixMilli(),
		fieldExpiresAt: now.Add(ttl).UnixMilli(),
	}
	if v, ok := data.DistanceKm.Float(); ok {
		rec[fieldDistance] = v
	}
	if v, ok := data.DurationMin.Float(); ok {
		rec[fieldDuration] = v
	}
	if err := c.client.Set(ctx, rtdb.Join(routeCacheRoot, key), rec); err != nil {
		c.log.Warn("route cache write failed", "key", key, "err", err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return key, nil
}
