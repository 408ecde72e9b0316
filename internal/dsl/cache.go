package dsl

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Cache memoizes compiled programs by canonical document text.
type Cache struct {
	programs *cache.Cache
	opts     []Option
}

// NewCache creates a cache whose entries expire ttl after insertion. A ttl of
// zero keeps entries until the process exits.
func NewCache(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := ttl
	if ttl == cache.NoExpiration {
		cleanup = 0
	}
	return &Cache{
		programs: cache.New(ttl, cleanup),
		opts:     opts,
	}
}

// Compile returns the cached program for expr, compiling on a miss. Failed
// compilations are not cached.
func (c *Cache) Compile(expr *Expression) (*Program, error) {
	key := expr.Canonical()
	if p, ok := c.programs.Get(key); ok {
		return p.(*Program), nil
	}
	p, err := Compile(expr, c.opts...)
	if err != nil {
		return nil, err
	}
	c.programs.SetDefault(key, p)
	return p, nil
}

// Len returns the number of cached programs.
func (c *Cache) Len() int { return c.programs.ItemCount() }
