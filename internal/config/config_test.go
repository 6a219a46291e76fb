package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/model_provisioner/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("HF_TOKEN", "hf_abc")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxParallel)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.RetryMaxBackoff)
	assert.Equal(t, 5*time.Minute, cfg.LockTimeout)
	assert.Equal(t, "/.noprovisioning", cfg.SkipFlagPath)
	assert.Equal(t, "https://huggingface.co/api/whoami-v2", cfg.Provider.HubIdentityURL)
	assert.Equal(t, "hf_abc", cfg.Token(transfer.KindHub))
	assert.Empty(t, cfg.Token(transfer.KindGeneric))
}

func TestLoadConfig_RejectsZeroParallel(t *testing.T) {
	t.Setenv("MAX_PARALLEL", "0")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_NestedTelemetry(t *testing.T) {
	t.Setenv("TELEMETRY_ENABLED", "true")
	t.Setenv("TELEMETRY_METRICS_ADDRESS", "127.0.0.1:9464")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "127.0.0.1:9464", cfg.Telemetry.MetricsAddress)
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"Warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	} {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}

func TestOverride(t *testing.T) {
	cfg := &Config{HFModels: "a|b", CivitaiModels: "c|d", WgetDownloads: "e|f"}

	assert.Equal(t, "a|b", cfg.Override(transfer.KindHub))
	assert.Equal(t, "c|d", cfg.Override(transfer.KindRegistry))
	assert.Equal(t, "e|f", cfg.Override(transfer.KindGeneric))
	assert.Equal(t, "CIVITAI_MODELS", OverrideEnv(transfer.KindRegistry))
}

func TestDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.txt")
	content := `# built-in entries
hub https://huggingface.co/o/r/resolve/main/vae.safetensors|/workspace/models/VAE/vae.safetensors

civitai https://civitai.com/api/download/models/1|/workspace/models/Stable-diffusion/
wget https://example.com/file.bin|/workspace/models/other/file.bin
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := &Config{DefaultsFile: path}

	defaults, err := cfg.Defaults()
	require.NoError(t, err)

	require.Len(t, defaults[transfer.KindHub], 1)
	require.Len(t, defaults[transfer.KindRegistry], 1)
	require.Len(t, defaults[transfer.KindGeneric], 1)
	assert.Equal(t, "https://example.com/file.bin|/workspace/models/other/file.bin", defaults[transfer.KindGeneric][0])
}

func TestDefaults_InvalidKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.txt")
	require.NoError(t, os.WriteFile(path, []byte("s3 s3://bucket/key|/tmp/key\n"), 0o644))

	_, err := (&Config{DefaultsFile: path}).Defaults()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaults.txt:1")
}

func TestDefaults_NoFile(t *testing.T) {
	defaults, err := (&Config{}).Defaults()
	require.NoError(t, err)
	assert.Empty(t, defaults)
}
