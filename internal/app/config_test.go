package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "INV-", cfg.Recurring.NumberPrefix)
	assert.Equal(t, 5, cfg.Recurring.NumberWidth)
	assert.Equal(t, 30, cfg.Recurring.DefaultPaymentTerms)
	assert.Equal(t, "*/15 * * * *", cfg.Recurring.SweepCron)
	assert.Equal(t, 200, cfg.Recurring.SweepBatch)
	assert.Equal(t, 5*time.Minute, cfg.Recurring.SweepLockTTL)
	assert.Equal(t, ":9091", cfg.WorkerMetricsAddr)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("RECURRING_NUMBER_PREFIX", "ACME/")
	t.Setenv("RECURRING_NUMBER_WIDTH", "7")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ACME/", cfg.Recurring.NumberPrefix)
	assert.Equal(t, 7, cfg.Recurring.NumberWidth)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"width too wide":  {"RECURRING_NUMBER_WIDTH", "13"},
		"width zero":      {"RECURRING_NUMBER_WIDTH", "0"},
		"prefix too long": {"RECURRING_NUMBER_PREFIX", "ABCDEFGHIJKLMNOPQRSTU"},
		"zero batch":      {"RECURRING_SWEEP_BATCH", "0"},
		"negative terms":  {"RECURRING_DEFAULT_PAYMENT_TERMS", "-1"},
		"bad duration":    {"RECURRING_SWEEP_LOCK_TTL", "soon"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
