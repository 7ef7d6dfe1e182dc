// Package embedding provides the text-to-vector capability used by the index.
package embedding

import (
	"context"
	"log/slog"
	"time"
)

// Embedder turns texts into dense vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model identifies the vector space; vectors from different models never mix.
	Model() string
}

// Options selects and configures an Embedder.
type Options struct {
	Provider  string // "hashing" or "openai"
	BaseURL   string
	APIKey    string
	Model     string
	Dims      int
	Timeout   time.Duration
	RedisAddr string
}

// New builds the configured embedder, wrapping it in a Redis cache when an
// address is given and reachable.
func New(ctx context.Context, opts Options, logger *slog.Logger) Embedder {
	var base Embedder
	switch opts.Provider {
	case "openai":
		base = NewClient(opts.BaseURL, opts.APIKey, opts.Model, opts.Dims, opts.Timeout)
	default:
		base = NewHashingEmbedder(opts.Dims)
	}

	if opts.RedisAddr == "" {
		return base
	}
	cache, err := ConnectRedisCache(ctx, opts.RedisAddr, base, logger)
	if err != nil {
		if logger != nil {
			logger.Warn("embedding cache disabled", "redis_addr", opts.RedisAddr, "error", err)
		}
		return base
	}
	return cache
}
