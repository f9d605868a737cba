package location

import (
	"context"

	"github.com/redis/go-redis/v9"

	"fleetloc/internal/types"
)

const defaultGeoKey = "fleetloc:presence:geo"

// RedisGeoIndex keeps online workers in a Redis GEO set.
type RedisGeoIndex struct {
	redis *redis.Client
	key   string
}

func NewRedisGeoIndex(rdb *redis.Client, key string) *RedisGeoIndex {
	if key == "" {
		key = defaultGeoKey
	}
	return &RedisGeoIndex{redis: rdb, key: key}
}

func (i *RedisGeoIndex) Upsert(ctx context.Context, id types.ID, p types.Point) error {
	return i.redis.GeoAdd(ctx, i.key, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (i *RedisGeoIndex) Remove(ctx context.Context, id types.ID) error {
	return i.redis.ZRem(ctx, i.key, string(id)).Err()
}

func (i *RedisGeoIndex) Nearby(ctx context.Context, origin types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := i.redis.GeoSearch(ctx, i.key, &redis.GeoSearchQuery{
		Longitude:  origin.Lng,
		Latitude:   origin.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for n, r := range results {
		ids[n] = types.ID(r)
	}
	return ids, nil
}
