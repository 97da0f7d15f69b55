// Package embedcache caches embeddings in Redis so re-indexing the same
// documents does not call the embedding service again.
package embedcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/meetmem/pkg/llm"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
)

// DefaultTTL bounds how long a cached vector lives.
const DefaultTTL = 30 * 24 * time.Hour

const keyPrefix = "meetmem:embed:"

// KV is the subset of a key-value store the cache needs. MGet returns one
// entry per key, nil for a miss.
type KV interface {
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	SetMany(ctx context.Context, values map[string][]byte, ttl time.Duration) error
}

// Embedder wraps another embedder with a read-through cache. Cache failures
// are logged and fall through to the wrapped embedder.
type Embedder struct {
	next   llm.Embedder
	kv     KV
	ttl    time.Duration
	logger logging.Logger
}

var _ llm.Embedder = (*Embedder)(nil)

// Option configures the cache.
type Option func(*Embedder)

// WithTTL sets the entry lifetime; zero keeps entries forever.
func WithTTL(ttl time.Duration) Option {
	return func(e *Embedder) {
		e.ttl = ttl
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Embedder) {
		e.logger = logger
	}
}

// New wraps next with a cache on kv.
func New(next llm.Embedder, kv KV, opts ...Option) *Embedder {
	e := &Embedder{
		next:   next,
		kv:     kv,
		ttl:    DefaultTTL,
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logging.F("component", "embedcache"))
	return e
}

// Model returns the wrapped embedder's model.
func (e *Embedder) Model() string { return e.next.Model() }

// Key returns the cache key for text under model.
func Key(model, text string) string {
	return fmt.Sprintf("%s%s:%016x", keyPrefix, model, xxhash.Sum64String(text))
}

// Embed implements llm.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	model := e.next.Model()
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = Key(model, t)
	}

	out := make([][]float32, len(texts))
	cached, err := e.kv.MGet(ctx, keys)
	if err != nil {
		e.logger.Warn("Embedding cache read failed", logging.Err(err))
		cached = nil
	}

	var missIdx []int
	for i := range texts {
		if i < len(cached) && cached[i] != nil {
			if v, ok := decode(cached[i]); ok {
				out[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
	}

	e.logger.Debug("Embedding cache lookup",
		logging.F("hits", len(texts)-len(missIdx)),
		logging.F("misses", len(missIdx)))

	if len(missIdx) == 0 {
		return out, nil
	}

	missing := make([]string, len(missIdx))
	for j, i := range missIdx {
		missing[j] = texts[i]
	}
	vectors, err := e.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(vectors), len(missing))
	}

	fresh := make(map[string][]byte, len(missIdx))
	for j, i := range missIdx {
		out[i] = vectors[j]
		fresh[keys[i]] = encode(vectors[j])
	}
	if err := e.kv.SetMany(ctx, fresh, e.ttl); err != nil {
		e.logger.Warn("Embedding cache write failed", logging.Err(err))
	}
	return out, nil
}

func encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decode(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	client redis.UniversalClient
}

// NewRedisKV wraps client.
func NewRedisKV(client redis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

// Connect opens a client for addr and verifies it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("testing connection: %w", err)
	}
	return client, nil
}

// MGet implements KV.
func (r *RedisKV) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// SetMany implements KV with one pipelined round trip.
func (r *RedisKV) SetMany(ctx context.Context, values map[string][]byte, ttl time.Duration) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, k, v, ttl)
		}
		return nil
	})
	return err
}
