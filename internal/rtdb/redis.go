package rtdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "rtdb:"
	maxTxRetries       = 8
	scanBatch          = 200
)

// RedisClient stores every node as a JSON document under prefix+path.
// Merges and transactions use WATCH/MULTI so concurrent writers to the same
// node never lose each other's fields.
type RedisClient struct {
	redis  *redis.Client
	prefix string
}

func NewRedisClient(rdb *redis.Client, prefix string) *RedisClient {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisClient{redis: rdb, prefix: prefix}
}

func (c *RedisClient) key(path string) string {
	return c.prefix + path
}

func (c *RedisClient) Get(ctx context.Context, path string) (Record, error) {
	rec, err := decodeRecord(c.redis.Get(ctx, c.key(path)).Bytes())
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", path, err)
	}
	return rec, nil
}

func (c *RedisClient) Update(ctx context.Context, path string, fields Record) error {
	return c.Transaction(ctx, path, func(current Record) (Record, error) {
		if current == nil {
			current = make(Record, len(fields))
		}
		for k, v := range fields {
			if v == nil {
				delete(current, k)
				continue
			}
			current[k] = v
		}
		return current, nil
	})
}

func (c *RedisClient) Set(ctx context.Context, path string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis set %s: %w", path, err)
	}
	if err := c.redis.Set(ctx, c.key(path), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", path, err)
	}
	return nil
}

func (c *RedisClient) Delete(ctx context.Context, path string) error {
	if err := c.redis.Del(ctx, c.key(path)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", path, err)
	}
	return nil
}

func (c *RedisClient) List(ctx context.Context, path string) (map[string]Record, error) {
	base := c.key(path) + "/"
	var keys []string
	iter := c.redis.Scan(ctx, 0, escapeGlob(base)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if strings.Contains(k[len(base):], "/") {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", path, err)
	}

	out := make(map[string]Record, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		vals, err := c.redis.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget %s: %w", path, err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			var rec Record
			if err := json.Unmarshal([]byte(s), &rec); err != nil || rec == nil {
				continue
			}
			out[keys[start+i][len(base):]] = rec
		}
	}
	return out, nil
}

func (c *RedisClient) QueryEqual(ctx context.Context, path, child, value string) (map[string]Record, error) {
	all, err := c.List(ctx, path)
	if err != nil {
		return nil, err
	}
	for k, rec := range all {
		if rec.String(child) != value {
			delete(all, k)
		}
	}
	return all, nil
}

func (c *RedisClient) Transaction(ctx context.Context, path string, fn TxFunc) error {
	key := c.key(path)
	txf := func(tx *redis.Tx) error {
		current, err := decodeRecord(tx.Get(ctx, key).Bytes())
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			data, err := json.Marshal(next)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := c.redis.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis transaction %s: %w", path, ErrAborted)
}

// Close is a no-op: the *redis.Client is shared with the GEO index and is
// closed by whoever created it.
func (c *RedisClient) Close() error {
	return nil
}

func decodeRecord(data []byte, err error) (Record, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
