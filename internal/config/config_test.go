package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsInvalidWithoutCredentials(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresCredentialsAndBaseURL(t *testing.T) {
	cfg := Default()
	cfg.ClientID = "c1"
	cfg.AuthToken = "tok"
	assert.Error(t, cfg.Validate(), "missing base_url")

	cfg.BaseURL = "https://engine.example.com"
	assert.NoError(t, cfg.Validate())
}

func TestValidatePortRange(t *testing.T) {
	cfg := Default()
	cfg.ClientID, cfg.AuthToken, cfg.BaseURL = "c1", "tok", "https://engine.example.com"

	cfg.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg.Port = 443
	assert.NoError(t, cfg.Validate())
}

func TestStepTimeoutDisabledNearMaxInt(t *testing.T) {
	cfg := Default()
	cfg.StepTimeoutMillis = math.MaxInt32
	assert.Equal(t, int64(0), cfg.StepTimeout().Milliseconds())

	cfg.StepTimeoutMillis = 5000
	assert.Equal(t, int64(5000), cfg.StepTimeout().Milliseconds())

	cfg.StepTimeoutMillis = 0
	assert.Equal(t, int64(0), cfg.StepTimeout().Milliseconds())
}

func TestLoadOverlaysYAMLOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	yaml := `
client_id: demo-client
auth_token: demo-token
base_url: https://engine.example.com
fixed_thread_pool_size: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo-client", cfg.ClientID)
	assert.Equal(t, 4, cfg.FixedThreadPoolSize)
	// untouched fields keep their defaults
	assert.Equal(t, 100, cfg.WorkRequestBatchSize)
	assert.Equal(t, DefaultPermanentErrorKeywords, cfg.PermanentErrorKeywords)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: https://x\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
