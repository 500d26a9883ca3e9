package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// PlanCache holds prepared statements keyed by the structural shape of a
// query: resource, view, the names of the filters present and whether an
// offset was given. Values never take part in the key, so two calls that
// differ only in filter values share one statement.
//
// Safe for concurrent use. Concurrent first builds of one key prepare the
// statement once.
type PlanCache struct {
	mu    sync.RWMutex
	plans map[string]*plan
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

type plan struct {
	text string
	stmt *sql.Stmt
}

// NewPlanCache creates an empty cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{plans: make(map[string]*plan)}
}

// planKey builds the cache key for one call shape.
func planKey(resource string, view View, names []string, offset bool) string {
	return fmt.Sprintf("%s|%s|%s|offset=%t", resource, view, strings.Join(names, ","), offset)
}

// stmt returns the prepared statement for key, preparing text on a miss.
func (c *PlanCache) stmt(ctx context.Context, db *sql.DB, key, text string) (*sql.Stmt, error) {
	c.mu.RLock()
	p, ok := c.plans[key]
	c.mu.RUnlock()
	if ok {
		if p.text != text {
			return nil, fmt.Errorf("plan %q: shape produced different SQL", key)
		}
		c.hits.Add(1)
		return p.stmt, nil
	}

	prepared := false
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		p, ok := c.plans[key]
		c.mu.RUnlock()
		if ok {
			return p, nil
		}
		// The statement outlives the request that happened to prepare it.
		st, err := db.PrepareContext(context.WithoutCancel(ctx), text)
		if err != nil {
			return nil, fmt.Errorf("prepare plan %q: %w", key, err)
		}
		p = &plan{text: text, stmt: st}
		c.mu.Lock()
		c.plans[key] = p
		c.mu.Unlock()
		prepared = true
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	if prepared {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	return v.(*plan).stmt, nil
}

// Len is the number of cached plans.
func (c *PlanCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}

// Stats reports cache hits and misses since creation.
func (c *PlanCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close closes every cached statement and empties the cache.
func (c *PlanCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for key, p := range c.plans {
		if err := p.stmt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close plan %q: %w", key, err))
		}
		delete(c.plans, key)
	}
	return errors.Join(errs...)
}
