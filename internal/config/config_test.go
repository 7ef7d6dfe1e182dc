package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 30.0, cfg.PauseWindow)
	assert.Equal(t, 10.0, cfg.StruggleWindow)
	assert.Equal(t, 5, cfg.RetrievalTopK)
	assert.Equal(t, 6, cfg.HistoryWindow)
	assert.Equal(t, EmbeddingProviderHashing, cfg.EmbeddingProvider)
	assert.Contains(t, cfg.Glossary, "chain rule")
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lectern.toml")
	content := `
http_port = 9090
pause_window = 45.0
generation_timeout_ms = 1500
glossary = ["Eigen  Value", "eigen value", "Jacobian"]
log_format = "json"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("RETRIEVAL_TOP_K", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.HTTPPort, "environment overrides the file")
	assert.Equal(t, 45.0, cfg.PauseWindow)
	assert.Equal(t, 1500*time.Millisecond, cfg.GenerationTimeout)
	assert.Equal(t, []string{"eigen value", "jacobian"}, cfg.Glossary)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 3, cfg.RetrievalTopK)
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lectern.toml")
	require.NoError(t, os.WriteFile(path, []byte(`struggle_window = 4.5`), 0o644))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4.5, cfg.StruggleWindow)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte(`http_port = "eighty"`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.PauseWindow = 0
	cfg.SessionLockWait = -time.Second
	cfg.EmbeddingProvider = "onnx"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pause_window")
	assert.Contains(t, err.Error(), "session_lock_wait")
	assert.Contains(t, err.Error(), "embedding_provider")
}
