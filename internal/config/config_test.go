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
	for _, k := range []string{"ENVIRONMENT", "PORT", "AGENT_MAX_TURNS", "AGENT_CALL_DELAY_MS", "SAMPLE_RATE", "SCHEDULER_LOOKAHEAD_MS", "SCHEDULER_INTERVAL_MS", "STORAGE_TYPE", "CONFIG_FILE", "AUDIO_OUTPUT", "MAX_RENDER_SECONDS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 40, cfg.AgentMaxTurns)
	assert.Equal(t, 120*time.Millisecond, cfg.CallDelay())
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 100*time.Millisecond, cfg.Lookahead())
	assert.Equal(t, 25*time.Millisecond, cfg.SchedulerInterval())
	assert.Equal(t, "none", cfg.AudioOutput)
	assert.Equal(t, "local", cfg.StorageType)
	assert.Equal(t, 10*time.Minute, cfg.MaxRender())
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("AGENT_MAX_TURNS", "12")
	t.Setenv("SAMPLE_RATE", "not-a-number")
	t.Setenv("LANGFUSE_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 12, cfg.AgentMaxTurns)
	assert.Equal(t, 44100, cfg.SampleRate, "invalid numbers fall back to the default")
	assert.True(t, cfg.LangfuseEnabled)
}

func TestYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "composer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
llm_model: gemini-2.5-flash
agent_max_turns: 25
storage_type: gcs
gcs_bucket: runs-bucket
langfuse_enabled: true
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7000")
	t.Setenv("ENVIRONMENT", "staging")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port, "file values win")
	assert.Equal(t, "staging", cfg.Environment, "missing file values keep the environment")
	assert.Equal(t, "gemini-2.5-flash", cfg.LLMModel)
	assert.Equal(t, 25, cfg.AgentMaxTurns)
	assert.Equal(t, "gcs", cfg.StorageType)
	assert.Equal(t, "runs-bucket", cfg.GCSBucket)
	assert.True(t, cfg.LangfuseEnabled)
}

func TestYAMLOverlayErrors(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("port: [unterminated"), 0o644))
	t.Setenv("CONFIG_FILE", bad)
	_, err = Load()
	assert.Error(t, err)
}
