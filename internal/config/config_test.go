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
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 72*time.Hour, cfg.Redis.SessionTTL)
	assert.Equal(t, 30, cfg.Booking.MaxRentalDays)
	assert.Equal(t, 0.7, cfg.Tools.RiskThreshold)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roam.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: production
http:
  addr: ":9090"
booking:
  max_rental_days: 14
  time_zone: America/Los_Angeles
`), 0o600))
	t.Setenv("ROAM_HTTP_ADDR", ":7070")
	t.Setenv("ROAM_AI_GEMINI_KEY", "k")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":7070", cfg.HTTP.Addr, "env wins over file")
	assert.Equal(t, "k", cfg.AI.GeminiKey)
	assert.Equal(t, 14, cfg.Booking.MaxRentalDays)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", loc.String())
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("booking:\n  time_zone: Mars/Olympus\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")
}
