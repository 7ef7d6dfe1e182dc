package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/xiaot623/lectern/internal/adapter/embedding"
	"github.com/xiaot623/lectern/internal/adapter/llm"
	"github.com/xiaot623/lectern/internal/config"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/repository"
	"github.com/xiaot623/lectern/internal/service"
	"github.com/xiaot623/lectern/policy"
)

// skipConfigAnnotation marks commands that never read the configuration.
const skipConfigAnnotation = "lectern/skip-config"

type commandContext struct {
	configFlag *string
	config     *config.Config
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.config != nil {
		return c.config, nil
	}
	path := ""
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.config = cfg
	return cfg, nil
}

// ensureLogger builds the process logger. Logs always go to stderr so that
// stdout stays clean for command output and the MCP stream.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	c.logger = logger
	return logger, nil
}

// runtime is an opened service together with what must be released after it.
type runtime struct {
	service *service.Service
	config  *config.Config
	logger  *slog.Logger
	closers []io.Closer
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openService locks the database, opens it and wires the service.
func (c *commandContext) openService(ctx context.Context) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}

	rt := &runtime{config: cfg, logger: logger}
	if path := lockPath(cfg.DatabaseURL); path != "" {
		lock := flock.New(path)
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("database is in use by another lectern process (lock %s)", path)
		}
		rt.closers = append(rt.closers, unlocker{lock})
	}

	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.closers = append(rt.closers, db)

	embedder := embedding.New(ctx, embedding.Options{
		Provider:  cfg.EmbeddingProvider,
		BaseURL:   cfg.EmbeddingBaseURL,
		APIKey:    cfg.EmbeddingAPIKey,
		Model:     cfg.EmbeddingModel,
		Dims:      cfg.EmbeddingDims,
		Timeout:   cfg.GenerationTimeout,
		RedisAddr: cfg.RedisAddr,
	}, logger)
	if closer, ok := embedder.(io.Closer); ok {
		rt.closers = append(rt.closers, closer)
	}

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init policy engine: %w", err)
	}

	llmClient := llm.NewLLMClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.GenerationTimeout, logger)
	rt.service = service.New(db, embedder, llmClient, cfg, policyEngine, logger)
	return rt, nil
}

type unlocker struct{ lock *flock.Flock }

func (u unlocker) Close() error { return u.lock.Unlock() }

// lockPath returns the lock file guarding the database named by dsn, or ""
// for in-memory databases.
func lockPath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
}
