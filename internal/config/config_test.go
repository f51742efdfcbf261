package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
gateway:
  base_url: "https://gateway.test"
  secret_key: "sk_test_123"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "GBP", cfg.Gateway.Currency)
	assert.Equal(t, "50", cfg.Billing.DepositThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Billing.ReconcileInterval)
	assert.Equal(t, "info", cfg.Logger.Level)

	threshold, err := cfg.Billing.DepositThresholdAmount()
	require.NoError(t, err)
	assert.Equal(t, "50", threshold.String())
}

func TestLoadRejectsMissingGatewayCredentials(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadDepositThreshold(t *testing.T) {
	path := writeConfig(t, `
gateway:
  base_url: "https://gateway.test"
  secret_key: "sk_test_123"
billing:
  deposit_threshold: "fifty"
`)

	_, err := Load(path)
	assert.Error(t, err)
}
