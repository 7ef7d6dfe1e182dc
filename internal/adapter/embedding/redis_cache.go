package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xiaot623/lectern/internal/logging"
)

const cacheTTL = 30 * 24 * time.Hour

// RedisCache wraps an Embedder with a shared Redis vector cache. Redis
// failures degrade to calling the wrapped embedder directly.
type RedisCache struct {
	client *redis.Client
	inner  Embedder
	logger *slog.Logger
}

var _ Embedder = (*RedisCache)(nil)

// ConnectRedisCache establishes a connection to Redis and wraps inner.
func ConnectRedisCache(ctx context.Context, addr string, inner Embedder, logger *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
		MaxRetries:  -1,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisCache(client, inner, logger), nil
}

// NewRedisCache wraps inner with an existing client.
func NewRedisCache(client *redis.Client, inner Embedder, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, inner: inner, logger: logging.Or(logger)}
}

// Model implements Embedder.
func (r *RedisCache) Model() string {
	return r.inner.Model()
}

// Embed implements Embedder.
func (r *RedisCache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = r.key(text)
	}

	out := make([][]float32, len(texts))
	cached, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		r.logger.Warn("embedding cache read failed", "error", err)
		cached = nil
	}
	var missIdx []int
	var missTexts []string
	for i := range texts {
		if i < len(cached) {
			if s, ok := cached[i].(string); ok && len(s) > 0 && len(s)%4 == 0 {
				out[i] = decode([]byte(s))
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := r.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	pipe := r.client.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		pipe.Set(ctx, keys[i], encode(fresh[j]), cacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("embedding cache write failed", "error", err)
	}
	return out, nil
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "lectern:emb:" + r.inner.Model() + ":" + hex.EncodeToString(sum[:])
}

func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decode(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
