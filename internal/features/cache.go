package features

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// sharedExtractTimeout bounds an extraction that outlives the caller who started it
const sharedExtractTimeout = 2 * time.Minute

// CachedExtractor memoises vectors by content hash. Concurrent requests for identical bytes
// share one extraction. Errors are never cached.
type CachedExtractor struct {
	next    Extractor
	cache   *cache.Cache
	group   singleflight.Group
	maxSize int
	observe func(hit bool)
}

type cachedResult struct {
	vec  Vector
	diag *Diagnostics
}

// NewCachedExtractor wraps next. maxSize 0 means no entry limit.
func NewCachedExtractor(next Extractor, ttl time.Duration, maxSize int) *CachedExtractor {
	return &CachedExtractor{
		next:    next,
		cache:   cache.New(ttl, 2*ttl),
		maxSize: maxSize,
	}
}

// Observe registers fn to be called with the result of every cache lookup. Call before
// first use.
func (c *CachedExtractor) Observe(fn func(hit bool)) {
	c.observe = fn
}

func (c *CachedExtractor) record(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}

// Extract implements Extractor. Returned values are copies and may be modified freely.
func (c *CachedExtractor) Extract(ctx context.Context, data []byte) (Vector, *Diagnostics, error) {
	key := ContentHash(data)

	if v, ok := c.cache.Get(key); ok {
		res := v.(cachedResult)
		c.record(true)
		return res.vec.Clone(), res.diag.Clone(), nil
	}
	c.record(false)

	// The shared run must not die with whichever caller started it. Each caller still
	// stops waiting when its own ctx ends.
	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedExtractTimeout)
		defer cancel()
		vec, diag, err := c.next.Extract(shared, data)
		if err != nil {
			return nil, err
		}
		res := cachedResult{vec: vec.Clone(), diag: diag.Clone()}
		if c.maxSize <= 0 || c.cache.ItemCount() < c.maxSize {
			c.cache.SetDefault(key, res)
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, nil, r.Err
		}
		res := r.Val.(cachedResult)
		return res.vec.Clone(), res.diag.Clone(), nil
	}
}

// Len returns the number of cached entries
func (c *CachedExtractor) Len() int {
	return c.cache.ItemCount()
}
