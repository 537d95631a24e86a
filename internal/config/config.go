package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every externally tunable knob of the coordination service.
// Timing values deliberately have no fallbacks buried in logic paths; tests
// construct a Config directly and override whatever they need.
type Config struct {
	Addr string

	// LockTTL is how long a field lock survives without renewal.
	LockTTL time.Duration

	// HeartbeatInterval is the expected client heartbeat cadence. A
	// collaborator silent for 3x this interval is treated as disconnected.
	HeartbeatInterval time.Duration

	// DisconnectGrace is how long an offline collaborator may reconnect
	// before being removed and having its locks released.
	DisconnectGrace time.Duration

	// DrainGrace is how long an empty project coordinator lingers before
	// the hub destroys it.
	DrainGrace time.Duration

	// TickInterval drives lock expiry, heartbeat checks and drain timers.
	TickInterval time.Duration

	// AllowUnlockedEdits accepts update-field on fields nobody has locked,
	// ordered last-write-wins by sequence number. When false such updates
	// are rejected back to the sender.
	AllowUnlockedEdits bool

	LogLevel string
}

func Default() Config {
	return Config{
		Addr:               ":8080",
		LockTTL:            30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		DisconnectGrace:    15 * time.Second,
		DrainGrace:         60 * time.Second,
		TickInterval:       time.Second,
		AllowUnlockedEdits: true,
		LogLevel:           "info",
	}
}

// Load reads a .env file if present, then applies COLLAB_* environment
// variables on top of the defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	var err error

	cfg.Addr = envString("COLLAB_ADDR", cfg.Addr)
	cfg.LogLevel = envString("COLLAB_LOG_LEVEL", cfg.LogLevel)

	if cfg.LockTTL, err = envDuration("COLLAB_LOCK_TTL", cfg.LockTTL); err != nil {
		return Config{}, err
	}
	if cfg.HeartbeatInterval, err = envDuration("COLLAB_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval); err != nil {
		return Config{}, err
	}
	if cfg.DisconnectGrace, err = envDuration("COLLAB_DISCONNECT_GRACE", cfg.DisconnectGrace); err != nil {
		return Config{}, err
	}
	if cfg.DrainGrace, err = envDuration("COLLAB_DRAIN_GRACE", cfg.DrainGrace); err != nil {
		return Config{}, err
	}
	if cfg.TickInterval, err = envDuration("COLLAB_TICK_INTERVAL", cfg.TickInterval); err != nil {
		return Config{}, err
	}
	if cfg.AllowUnlockedEdits, err = envBool("COLLAB_ALLOW_UNLOCKED_EDITS", cfg.AllowUnlockedEdits); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
