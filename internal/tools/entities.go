package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// EntityLister returns candidate gene or protein names mentioned by a paper.
type EntityLister interface {
	Entities(ctx context.Context, paperID string) ([]string, error)
}

// StaticLister serves entity lists loaded up front, keyed by paper id.
type StaticLister struct {
	entities map[string][]string
}

func NewStaticLister(entities map[string][]string) *StaticLister {
	return &StaticLister{entities: entities}
}

// LoadStaticLister reads a JSON object mapping paper id to a list of names.
func LoadStaticLister(path string) (*StaticLister, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading entity list %s: %w", path, err)
	}
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing entity list %s: %w", path, err)
	}
	return NewStaticLister(m), nil
}

func (l *StaticLister) Entities(_ context.Context, paperID string) ([]string, error) {
	return append([]string(nil), l.entities[paperID]...), nil
}

// CachedLister memoises another lister for the lifetime of the process, or
// until Reset is called. It is safe for concurrent use.
type CachedLister struct {
	inner EntityLister

	mu    sync.Mutex
	cache map[string][]string
}

func NewCachedLister(inner EntityLister) *CachedLister {
	return &CachedLister{inner: inner, cache: map[string][]string{}}
}

func (c *CachedLister) Entities(ctx context.Context, paperID string) ([]string, error) {
	c.mu.Lock()
	if v, ok := c.cache[paperID]; ok {
		c.mu.Unlock()
		return append([]string(nil), v...), nil
	}
	c.mu.Unlock()

	v, err := c.inner.Entities(ctx, paperID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[paperID] = v
	c.mu.Unlock()
	return append([]string(nil), v...), nil
}

// Reset drops every cached list.
func (c *CachedLister) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.cache)
}
