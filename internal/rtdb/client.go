// Package rtdb abstracts the hierarchical key-value store that backs the
// presence, tracking and route-cache namespaces. Records are flat JSON
// objects addressed by slash separated paths such as "presence/w1".
package rtdb

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

var (
	// ErrUnavailable is returned when the store is not initialised or a call
	// to it fails. Callers degrade to "no data" instead of failing a request.
	ErrUnavailable = errors.New("location store unavailable")
	// ErrAborted is returned when a transaction could not be committed.
	ErrAborted = errors.New("transaction aborted")
)

// Record is one flat node. Numbers decode as float64 in every backend.
type Record map[string]any

// TxFunc receives the current node (nil when absent) and returns the node that
// replaces it. Returning an error aborts the transaction with that error.
type TxFunc func(current Record) (Record, error)

type Client interface {
	// Get returns nil without error when the node does not exist.
	Get(ctx context.Context, path string) (Record, error)
	// Update merges fields into the node, creating it when absent.
	Update(ctx context.Context, path string, fields Record) error
	// Set replaces the node.
	Set(ctx context.Context, path string, rec Record) error
	Delete(ctx context.Context, path string) error
	// List returns the direct children of path keyed by child name.
	List(ctx context.Context, path string) (map[string]Record, error)
	// QueryEqual returns the children of path whose string field child equals value.
	QueryEqual(ctx context.Context, path, child, value string) (map[string]Record, error)
	Transaction(ctx context.Context, path string, fn TxFunc) error
	Close() error
}

// Join builds a node path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// CleanKey trims a caller supplied id and reports whether it can be used as a
// single path segment. RTDB keys may not contain . $ # [ ] or /.
func CleanKey(raw string) (string, bool) {
	key := strings.TrimSpace(raw)
	if key == "" || len(key) > 768 {
		return "", false
	}
	if strings.ContainsAny(key, ".$#[]/") {
		return "", false
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return "", false
		}
	}
	return key, true
}

// Recover converts a panic raised inside a store call into ErrUnavailable so
// the calling request path keeps running. Use as: defer rtdb.Recover(&err, log, "op").
func Recover(errp *error, log *slog.Logger, op string) {
	if r := recover(); r != nil {
		if log != nil {
			log.Warn("store call panicked", "op", op, "panic", r)
		}
		*errp = ErrUnavailable
	}
}

func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Float reads a numeric field, accepting the representations the backends
// produce after decoding.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// FloatPtr is Float returning nil when the field is absent or not numeric.
func (r Record) FloatPtr(key string) *float64 {
	v, ok := r.Float(key)
	if !ok {
		return nil
	}
	return &v
}

func (r Record) Int64(key string) (int64, bool) {
	v, ok := r.Float(key)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

func (r Record) clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
