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
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "Asia/Jerusalem", cfg.App.Timezone)
	assert.Equal(t, 3, cfg.Scheduler.MaxInstances)
	assert.Equal(t, 180*time.Second, cfg.Scheduler.MisfireGrace)
	assert.Equal(t, "07:58", cfg.Scheduler.DailySetup)

	assert.Equal(t, "America/New_York", cfg.Market.SourceTimezone)
	assert.Equal(t, "09:30", cfg.Market.OpenTime)
	assert.Equal(t, "16:00", cfg.Market.CloseTime)
	assert.Equal(t, 90, cfg.Market.HorizonDays)
	assert.Equal(t, 30, cfg.Market.RefreshDays)

	assert.Equal(t, "08:00", cfg.Economic.RefreshTime)
	assert.Equal(t, 5*time.Minute, cfg.Economic.WarningLead)
	assert.Equal(t, time.Second, cfg.Economic.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.Economic.MaxWait)
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
app:
  timezone: "Europe/London"
scheduler:
  max_instances: 5
economic:
  warning_lead: 10m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "Europe/London", cfg.App.Timezone)
	assert.Equal(t, 5, cfg.Scheduler.MaxInstances)
	assert.Equal(t, 10*time.Minute, cfg.Economic.WarningLead)

	// Untouched keys keep their defaults.
	assert.Equal(t, "07:58", cfg.Scheduler.DailySetup)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("app: ["), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
