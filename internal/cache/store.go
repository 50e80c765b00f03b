// Package cache is the read-through cache in front of order, customer and
// product lookups.
//
// Reads may run concurrently. Writes are made visible by invalidating the
// affected keys after the write completes. Every key carries a generation
// number that invalidation bumps; a load only populates the cache when the
// generation it started under is still current, so a read never observes a
// value older than the latest completed write to the same key.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Config sizes a Store.
type Config struct {
	Size        int           `default:"1024" usage:"Maximum cached entries per store"`
	TTL         time.Duration `default:"5m"   usage:"Cached entry lifetime"`
	LoadTimeout time.Duration `default:"10s"  usage:"Upper bound of a shared load"`
}

// Store is a typed read-through cache.
type Store[V any] struct {
	lru         *expirable.LRU[string, V]
	group       singleflight.Group
	loadTimeout time.Duration

	mu   sync.Mutex
	gens map[string]*generation
}

// generation tracks a key that has loads in flight.
type generation struct {
	n    uint64
	refs int
}

// New creates a Store.
func New[V any](cfg Config) *Store[V] {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Second
	}
	return &Store[V]{
		lru:         expirable.NewLRU[string, V](cfg.Size, nil, cfg.TTL),
		loadTimeout: cfg.LoadTimeout,
		gens:        make(map[string]*generation),
	}
}

// Get returns the cached value for key.
func (s *Store[V]) Get(key string) (V, bool) {
	return s.lru.Get(key)
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result. Concurrent misses on the same key share one load. Errors are not
// cached.
//
// The shared load is detached from the cancellation of whichever caller
// started it and is bounded by the store's load timeout instead. A caller
// whose ctx is done returns ctx.Err() without waiting for the load.
func (s *Store[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := s.lru.Get(key); ok {
		return v, nil
	}

	gen := s.begin(key)
	ch := s.group.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		s.commit(key, gen, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		// Hold the generation until the load settles so a concurrent
		// invalidation still blocks its commit.
		go func() {
			<-ch
			s.end(key)
		}()
		return zero, ctx.Err()
	case res := <-ch:
		s.end(key)
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

// Set stores value under key, invalidating loads in flight for it.
func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bump(key)
	s.lru.Add(key, value)
}

// Invalidate drops keys. Loads of these keys started before the call do
// not populate the cache.
func (s *Store[V]) Invalidate(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.bump(key)
		s.lru.Remove(key)
	}
}

// InvalidatePrefix drops every key starting with prefix.
func (s *Store[V]) InvalidatePrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.gens {
		if strings.HasPrefix(key, prefix) {
			s.bump(key)
		}
	}
	for _, key := range s.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.lru.Remove(key)
		}
	}
}

// Len reports the number of cached entries.
func (s *Store[V]) Len() int {
	return s.lru.Len()
}

func (s *Store[V]) begin(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[key]
	if !ok {
		g = &generation{}
		s.gens[key] = g
	}
	g.refs++
	return g.n
}

func (s *Store[V]) end(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[key]
	if !ok {
		return
	}
	g.refs--
	if g.refs <= 0 {
		delete(s.gens, key)
	}
}

func (s *Store[V]) commit(key string, gen uint64, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gens[key]; ok && g.n != gen {
		return
	}
	s.lru.Add(key, v)
}

// bump must be called with mu held.
func (s *Store[V]) bump(key string) {
	if g, ok := s.gens[key]; ok {
		g.n++
	}
}
