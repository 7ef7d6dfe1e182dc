// Package config provides configuration for lectern.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvConfigPath names the environment variable pointing at a TOML config file.
const EnvConfigPath = "LECTERN_CONFIG"

// Config holds the lectern configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Generation capability (OpenAI-compatible)
	LLMBaseURL        string
	LLMAPIKey         string
	LLMModel          string
	GenerationTimeout time.Duration

	// Embedding capability
	EmbeddingProvider string
	EmbeddingBaseURL  string
	EmbeddingAPIKey   string
	EmbeddingModel    string
	EmbeddingDims     int
	RedisAddr         string

	// Transcript and retrieval tuning, in seconds of video time
	MinSegmentDuration  float64
	PauseWindow         float64
	StruggleWindow      float64
	RetrievalTopK       int
	HistoryWindow       int
	Glossary            []string
	TopicShiftThreshold float64

	// Sessions
	SessionIdleTimeout time.Duration
	SessionLockWait    time.Duration
	TurnTimeout        time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Embedding providers.
const (
	EmbeddingProviderHashing = "hashing"
	EmbeddingProviderOpenAI  = "openai"
)

// DefaultGlossary seeds concept detection when no glossary is configured.
var DefaultGlossary = []string{
	"derivative",
	"chain rule",
	"integral",
	"limit",
	"gradient",
	"function",
	"slope",
	"matrix",
	"vector",
	"probability",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:            8080,
		DatabaseURL:         "file:lectern.db?cache=shared&mode=rwc",
		LLMBaseURL:          "http://localhost:4000",
		LLMModel:            "gpt-4o-mini",
		GenerationTimeout:   30 * time.Second,
		EmbeddingProvider:   EmbeddingProviderHashing,
		EmbeddingBaseURL:    "http://localhost:4000",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDims:       256,
		MinSegmentDuration:  2,
		PauseWindow:         30,
		StruggleWindow:      10,
		RetrievalTopK:       5,
		HistoryWindow:       6,
		Glossary:            append([]string(nil), DefaultGlossary...),
		TopicShiftThreshold: 0.15,
		SessionIdleTimeout:  2 * time.Hour,
		SessionLockWait:     10 * time.Second,
		TurnTimeout:         60 * time.Second,
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// fileConfig mirrors Config for TOML decoding. Durations are milliseconds.
type fileConfig struct {
	HTTPPort             *int     `toml:"http_port"`
	DatabaseURL          *string  `toml:"database_url"`
	LLMBaseURL           *string  `toml:"llm_base_url"`
	LLMAPIKey            *string  `toml:"llm_api_key"`
	LLMModel             *string  `toml:"llm_model"`
	GenerationTimeoutMs  *int     `toml:"generation_timeout_ms"`
	EmbeddingProvider    *string  `toml:"embedding_provider"`
	EmbeddingBaseURL     *string  `toml:"embedding_base_url"`
	EmbeddingAPIKey      *string  `toml:"embedding_api_key"`
	EmbeddingModel       *string  `toml:"embedding_model"`
	EmbeddingDims        *int     `toml:"embedding_dims"`
	RedisAddr            *string  `toml:"redis_addr"`
	MinSegmentDuration   *float64 `toml:"min_segment_duration"`
	PauseWindow          *float64 `toml:"pause_window"`
	StruggleWindow       *float64 `toml:"struggle_window"`
	RetrievalTopK        *int     `toml:"retrieval_top_k"`
	HistoryWindow        *int     `toml:"history_window"`
	Glossary             []string `toml:"glossary"`
	TopicShiftThreshold  *float64 `toml:"topic_shift_threshold"`
	SessionIdleTimeoutMs *int     `toml:"session_idle_timeout_ms"`
	SessionLockWaitMs    *int     `toml:"session_lock_wait_ms"`
	TurnTimeoutMs        *int     `toml:"turn_timeout_ms"`
	LogLevel             *string  `toml:"log_level"`
	LogFormat            *string  `toml:"log_format"`
}

// Load builds the configuration from defaults, an optional TOML file and the
// environment, in that order of precedence (environment wins). An empty path
// falls back to $LECTERN_CONFIG.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var fc fileConfig
	decoder := toml.NewDecoder(file)
	if err := decoder.Decode(&fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	fc.apply(c)
	return nil
}

func (fc *fileConfig) apply(c *Config) {
	setInt(&c.HTTPPort, fc.HTTPPort)
	setString(&c.DatabaseURL, fc.DatabaseURL)
	setString(&c.LLMBaseURL, fc.LLMBaseURL)
	setString(&c.LLMAPIKey, fc.LLMAPIKey)
	setString(&c.LLMModel, fc.LLMModel)
	setMillis(&c.GenerationTimeout, fc.GenerationTimeoutMs)
	setString(&c.EmbeddingProvider, fc.EmbeddingProvider)
	setString(&c.EmbeddingBaseURL, fc.EmbeddingBaseURL)
	setString(&c.EmbeddingAPIKey, fc.EmbeddingAPIKey)
	setString(&c.EmbeddingModel, fc.EmbeddingModel)
	setInt(&c.EmbeddingDims, fc.EmbeddingDims)
	setString(&c.RedisAddr, fc.RedisAddr)
	setFloat(&c.MinSegmentDuration, fc.MinSegmentDuration)
	setFloat(&c.PauseWindow, fc.PauseWindow)
	setFloat(&c.StruggleWindow, fc.StruggleWindow)
	setInt(&c.RetrievalTopK, fc.RetrievalTopK)
	setInt(&c.HistoryWindow, fc.HistoryWindow)
	if len(fc.Glossary) > 0 {
		c.Glossary = normalizeGlossary(fc.Glossary)
	}
	setFloat(&c.TopicShiftThreshold, fc.TopicShiftThreshold)
	setMillis(&c.SessionIdleTimeout, fc.SessionIdleTimeoutMs)
	setMillis(&c.SessionLockWait, fc.SessionLockWaitMs)
	setMillis(&c.TurnTimeout, fc.TurnTimeoutMs)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.LLMBaseURL = getEnv("LLM_BASE_URL", c.LLMBaseURL)
	c.LLMAPIKey = getEnv("LLM_API_KEY", c.LLMAPIKey)
	c.LLMModel = getEnv("LLM_MODEL", c.LLMModel)
	c.GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT_MS", c.GenerationTimeout)
	c.EmbeddingProvider = getEnv("EMBEDDING_PROVIDER", c.EmbeddingProvider)
	c.EmbeddingBaseURL = getEnv("EMBEDDING_BASE_URL", c.EmbeddingBaseURL)
	c.EmbeddingAPIKey = getEnv("EMBEDDING_API_KEY", c.EmbeddingAPIKey)
	c.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDims = getEnvInt("EMBEDDING_DIMS", c.EmbeddingDims)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.MinSegmentDuration = getEnvFloat("MIN_SEGMENT_DURATION", c.MinSegmentDuration)
	c.PauseWindow = getEnvFloat("PAUSE_WINDOW", c.PauseWindow)
	c.StruggleWindow = getEnvFloat("STRUGGLE_WINDOW", c.StruggleWindow)
	c.RetrievalTopK = getEnvInt("RETRIEVAL_TOP_K", c.RetrievalTopK)
	c.HistoryWindow = getEnvInt("HISTORY_WINDOW", c.HistoryWindow)
	if val := os.Getenv("GLOSSARY"); val != "" {
		c.Glossary = normalizeGlossary(strings.Split(val, ","))
	}
	c.TopicShiftThreshold = getEnvFloat("TOPIC_SHIFT_THRESHOLD", c.TopicShiftThreshold)
	c.SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT_MS", c.SessionIdleTimeout)
	c.SessionLockWait = getEnvDuration("SESSION_LOCK_WAIT_MS", c.SessionLockWait)
	c.TurnTimeout = getEnvDuration("TURN_TIMEOUT_MS", c.TurnTimeout)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port: %d out of range", c.HTTPPort))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("database_url: must be set"))
	}
	if c.GenerationTimeout <= 0 {
		errs = append(errs, errors.New("generation_timeout: must be positive"))
	}
	switch c.EmbeddingProvider {
	case EmbeddingProviderHashing, EmbeddingProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("embedding_provider: unsupported value %q", c.EmbeddingProvider))
	}
	if c.EmbeddingDims <= 0 {
		errs = append(errs, errors.New("embedding_dims: must be positive"))
	}
	if c.MinSegmentDuration < 0 {
		errs = append(errs, errors.New("min_segment_duration: must not be negative"))
	}
	if c.PauseWindow <= 0 {
		errs = append(errs, errors.New("pause_window: must be positive"))
	}
	if c.StruggleWindow <= 0 {
		errs = append(errs, errors.New("struggle_window: must be positive"))
	}
	if c.RetrievalTopK <= 0 {
		errs = append(errs, errors.New("retrieval_top_k: must be positive"))
	}
	if c.HistoryWindow < 0 {
		errs = append(errs, errors.New("history_window: must not be negative"))
	}
	if c.TopicShiftThreshold <= 0 || c.TopicShiftThreshold > 1 {
		errs = append(errs, errors.New("topic_shift_threshold: must be in (0, 1]"))
	}
	if c.SessionIdleTimeout <= 0 {
		errs = append(errs, errors.New("session_idle_timeout: must be positive"))
	}
	if c.SessionLockWait <= 0 {
		errs = append(errs, errors.New("session_lock_wait: must be positive"))
	}
	if c.TurnTimeout <= 0 {
		errs = append(errs, errors.New("turn_timeout: must be positive"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: unsupported value %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func normalizeGlossary(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.Join(strings.Fields(term), " "))
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setMillis(dst *time.Duration, src *int) {
	if src != nil {
		*dst = time.Duration(*src) * time.Millisecond
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
