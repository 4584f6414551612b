package embed

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores dense embeddings by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, v []float32, ttl time.Duration)
}

// cacheKey derives a stable key from the model, the query/document side,
// and the text.
func cacheKey(model string, isQuery bool, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	if isQuery {
		h.Write([]byte("|q|"))
	} else {
		h.Write([]byte("|d|"))
	}
	h.Write([]byte(text))
	return "emb:" + hex.EncodeToString(h.Sum(nil))
}

// LocalLRU is an in-process LRU cache with per-entry TTL.
type LocalLRU struct {
	mu   sync.Mutex
	cap  int
	list *list.List // front = most recent
	m    map[string]*list.Element
}

type lruEntry struct {
	key string
	vec []float32
	exp time.Time
}

// NewLocalLRU creates an LRU cache holding at most capacity entries.
func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 2048
	}
	return &LocalLRU{
		cap:  capacity,
		list: list.New(),
		m:    make(map[string]*list.Element, capacity),
	}
}

func (l *LocalLRU) Get(_ context.Context, key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.m[key]
	if !ok {
		return nil, false
	}

	ent := el.Value.(lruEntry)
	if ent.exp.Before(time.Now()) {
		l.list.Remove(el)
		delete(l.m, key)
		return nil, false
	}

	l.list.MoveToFront(el)
	return ent.vec, true
}

func (l *LocalLRU) Set(_ context.Context, key string, v []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.m[key]; ok {
		el.Value = lruEntry{key: key, vec: v, exp: time.Now().Add(ttl)}
		l.list.MoveToFront(el)
		return
	}

	l.m[key] = l.list.PushFront(lruEntry{key: key, vec: v, exp: time.Now().Add(ttl)})

	for l.list.Len() > l.cap {
		oldest := l.list.Back()
		ent := oldest.Value.(lruEntry)
		delete(l.m, ent.key)
		l.list.Remove(oldest)
	}
}

// Size returns the current number of cached entries.
func (l *LocalLRU) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Len()
}

// RedisCache is a shared embedding cache backed by Redis. Vectors travel
// as little-endian float32 bytes. Redis failures degrade to cache misses.
type RedisCache struct {
	cli *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{cli: cli}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := r.cli.Get(ctx, key).Bytes()
	if err != nil || len(b)%4 != 0 {
		return nil, false
	}

	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}

func (r *RedisCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	r.cli.Set(ctx, key, b, ttl)
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.cli.Close()
}

// LayeredCache checks the local LRU first and falls back to a shared
// cache. Shared hits are promoted into the LRU.
type LayeredCache struct {
	lru    *LocalLRU
	shared Cache
	ttl    time.Duration
}

// NewLayeredCache wires the LRU in front of an optional shared cache.
// shared may be nil.
func NewLayeredCache(lru *LocalLRU, shared Cache, ttl time.Duration) *LayeredCache {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &LayeredCache{lru: lru, shared: shared, ttl: ttl}
}

func (c *LayeredCache) Get(ctx context.Context, key string) ([]float32, bool) {
	if v, ok := c.lru.Get(ctx, key); ok {
		return v, true
	}
	if c.shared != nil {
		if v, ok := c.shared.Get(ctx, key); ok {
			c.lru.Set(ctx, key, v, c.ttl)
			return v, true
		}
	}
	return nil, false
}

func (c *LayeredCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}
	c.lru.Set(ctx, key, v, ttl)
	if c.shared != nil {
		c.shared.Set(ctx, key, v, ttl)
	}
}
