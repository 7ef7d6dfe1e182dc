package llm

import (
	"log/slog"
	"os"
	"time"
)

const (
	// EnvMode is the environment variable name for mode selection.
	EnvMode = "LECTERN_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// IsMockMode reports whether LECTERN_MODE selects the offline mocks.
func IsMockMode() bool {
	return os.Getenv(EnvMode) == ModeMock
}

// NewLLMClient creates an LLM client based on the LECTERN_MODE environment variable.
// If LECTERN_MODE=MOCK, returns a MockClient; otherwise returns a real Client.
func NewLLMClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) LLMClient {
	if IsMockMode() {
		if logger != nil {
			logger.Info("LECTERN_MODE=MOCK detected, using mock LLM client")
		}
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
