// Package config loads the daemon configuration from environment variables.
// Precedence is ENV > built-in defaults; there is no config file.
package config

import "time"

// Config carries all runtime settings for the inkhub daemon.
type Config struct {
	Port      int    // HTTP + WebSocket listen port
	RoomsDir  string // directory holding one snapshot file per room
	AssetsDir string // directory holding one file per uploaded asset

	RoomRetention   time.Duration // delete room snapshots older than this
	AssetRetention  time.Duration // delete assets older than this
	CleanupInterval time.Duration // steady-state sweep period
	CleanupEnabled  bool

	MaxUploadBytes int64         // asset upload cap; requests over it get 413
	UnfurlTimeout  time.Duration // outbound fetch budget for link unfurling

	LogLevel string

	// Engine tunables. Not environment-exposed; tests shorten them.
	FlushDebounce time.Duration // quiet period before a dirty room is flushed
	MaintTick     time.Duration // backup-flush and cleanup cadence per room
	IdleGrace     time.Duration // how long an empty room survives for reconnects
	PingInterval  time.Duration // WebSocket keepalive ping cadence
	SweepWarmup   time.Duration // delay before the first retention sweep
}

// FromEnv builds a Config from the process environment.
func FromEnv() Config {
	return Config{
		Port:            ParseInt("PORT", 3001),
		RoomsDir:        ParseString("ROOMS_DIR", ".rooms"),
		AssetsDir:       ParseString("ASSETS_DIR", ".assets"),
		RoomRetention:   time.Duration(ParseInt("ROOM_RETENTION_DAYS", 7)) * 24 * time.Hour,
		AssetRetention:  time.Duration(ParseInt("ASSET_RETENTION_DAYS", 30)) * 24 * time.Hour,
		CleanupInterval: time.Duration(ParseInt("CLEANUP_INTERVAL_HOURS", 6)) * time.Hour,
		CleanupEnabled:  ParseBool("CLEANUP_ENABLED", true),
		MaxUploadBytes:  int64(ParseInt("MAX_UPLOAD_MB", 64)) << 20,
		UnfurlTimeout:   ParseDuration("UNFURL_TIMEOUT", 10*time.Second),
		LogLevel:        ParseString("LOG_LEVEL", "info"),

		FlushDebounce: 500 * time.Millisecond,
		MaintTick:     5 * time.Second,
		IdleGrace:     30 * time.Second,
		PingInterval:  30 * time.Second,
		SweepWarmup:   30 * time.Second,
	}
}
