package rtdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MemoryClient is an in-process store with the same semantics as the remote
// backends. Values are normalised through JSON so numbers read back as
// float64, exactly as they would from Firebase or Redis.
type MemoryClient struct {
	mu     sync.RWMutex
	nodes  map[string]Record
	closed bool
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{nodes: make(map[string]Record)}
}

func (c *MemoryClient) Get(_ context.Context, path string) (Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrUnavailable
	}
	return c.nodes[path].clone(), nil
}

func (c *MemoryClient) Update(_ context.Context, path string, fields Record) error {
	norm, err := normalize(fields)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrUnavailable
	}
	node := c.nodes[path]
	if node == nil {
		node = make(Record, len(norm))
	}
	for k, v := range norm {
		if v == nil {
			delete(node, k)
			continue
		}
		node[k] = v
	}
	c.nodes[path] = node
	return nil
}

func (c *MemoryClient) Set(_ context.Context, path string, rec Record) error {
	norm, err := normalize(rec)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrUnavailable
	}
	c.put(path, norm)
	return nil
}

func (c *MemoryClient) Delete(_ context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrUnavailable
	}
	delete(c.nodes, path)
	return nil
}

func (c *MemoryClient) List(_ context.Context, path string) (map[string]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrUnavailable
	}
	prefix := path + "/"
	out := make(map[string]Record)
	for p, rec := range c.nodes {
		name, ok := strings.CutPrefix(p, prefix)
		if !ok || strings.Contains(name, "/") {
			continue
		}
		out[name] = rec.clone()
	}
	return out, nil
}

func (c *MemoryClient) QueryEqual(ctx context.Context, path, child, value string) (map[string]Record, error) {
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

func (c *MemoryClient) Transaction(_ context.Context, path string, fn TxFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrUnavailable
	}
	next, err := fn(c.nodes[path].clone())
	if err != nil {
		return err
	}
	norm, err := normalize(next)
	if err != nil {
		return err
	}
	c.put(path, norm)
	return nil
}

// Close makes every later call fail with ErrUnavailable.
func (c *MemoryClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) put(path string, rec Record) {
	if len(rec) == 0 {
		delete(c.nodes, path)
		return
	}
	c.nodes[path] = rec
}

func normalize(rec Record) (Record, error) {
	if rec == nil {
		return nil, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("memory store encode: %w", err)
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("memory store decode: %w", err)
	}
	return out, nil
}
