package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, ".rooms", cfg.RoomsDir)
	assert.Equal(t, ".assets", cfg.AssetsDir)
	assert.Equal(t, 7*24*time.Hour, cfg.RoomRetention)
	assert.Equal(t, 30*24*time.Hour, cfg.AssetRetention)
	assert.Equal(t, 6*time.Hour, cfg.CleanupInterval)
	assert.True(t, cfg.CleanupEnabled)
	assert.Equal(t, int64(64)<<20, cfg.MaxUploadBytes)
	assert.Equal(t, 500*time.Millisecond, cfg.FlushDebounce)
	assert.Equal(t, 5*time.Second, cfg.MaintTick)
	assert.Equal(t, 30*time.Second, cfg.IdleGrace)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("ROOM_RETENTION_DAYS", "2")
	t.Setenv("CLEANUP_ENABLED", "false")
	t.Setenv("ROOMS_DIR", "/tmp/rooms")
	t.Setenv("UNFURL_TIMEOUT", "3s")

	cfg := FromEnv()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2*24*time.Hour, cfg.RoomRetention)
	assert.False(t, cfg.CleanupEnabled)
	assert.Equal(t, "/tmp/rooms", cfg.RoomsDir)
	assert.Equal(t, 3*time.Second, cfg.UnfurlTimeout)
}

func TestParseIntInvalidFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	assert.Equal(t, 3001, ParseInt("PORT", 3001))
}

func TestParseBoolVariants(t *testing.T) {
	t.Setenv("FLAG", "0")
	assert.False(t, ParseBool("FLAG", true))
	t.Setenv("FLAG", "yes")
	assert.True(t, ParseBool("FLAG", false))
	t.Setenv("FLAG", "maybe")
	assert.True(t, ParseBool("FLAG", true))
}

func TestParseDurationInvalidFallsBack(t *testing.T) {
	t.Setenv("UNFURL_TIMEOUT", "soon")
	assert.Equal(t, 10*time.Second, ParseDuration("UNFURL_TIMEOUT", 10*time.Second))
}
