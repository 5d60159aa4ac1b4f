// Package cache provides decision cache backends: an in-process map for
// single-replica deployments and tests, and Redis for sharing resolved
// decisions across replicas.
package cache

import (
	"context"
	"sync"

	"aegis/internal/authz"
)

// Memory is the in-process decision cache. sync.Map gives the concurrent
// read / insert safety the resolver requires; version-stamped keys mean
// entries are never updated in place, only superseded.
type Memory struct {
	entries sync.Map
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{}
}

func (c *Memory) Get(_ context.Context, key authz.CacheKey) (authz.CachedDecision, bool) {
	value, ok := c.entries.Load(key)
	if !ok {
		return authz.CachedDecision{}, false
	}
	return value.(authz.CachedDecision), true
}

func (c *Memory) Set(_ context.Context, key authz.CacheKey, decision authz.CachedDecision) {
	c.entries.LoadOrStore(key, decision)
}

// Len reports the number of cached decisions, for tests and metrics.
func (c *Memory) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool { n++; return true })
	return n
}

// recordingCache is kept here so multiple test packages can observe cache
// traffic without each defining its own fake.
type Recording struct {
	Memory
	mu     sync.Mutex
	Gets   []authz.CacheKey
	Sets   []authz.CacheKey
	Misses int
}

// NewRecording wraps the in-process cache with call recording for tests.
func NewRecording() *Recording {
	return &Recording{}
}

func (c *Recording) Get(ctx context.Context, key authz.CacheKey) (authz.CachedDecision, bool) {
	c.mu.Lock()
	c.Gets = append(c.Gets, key)
	c.mu.Unlock()
	decision, ok := c.Memory.Get(ctx, key)
	if !ok {
		c.mu.Lock()
		c.Misses++
		c.mu.Unlock()
	}
	return decision, ok
}

func (c *Recording) Set(ctx context.Context, key authz.CacheKey, decision authz.CachedDecision) {
	c.mu.Lock()
	c.Sets = append(c.Sets, key)
	c.mu.Unlock()
	c.Memory.Set(ctx, key, decision)
}
