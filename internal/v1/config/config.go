package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the daemon's validated configuration. Values come from three
// layers, later layers winning: built-in defaults, the TOML config file, and
// PARLORD_* environment variables.
type Config struct {
	// Chat protocol settings.
	Address           string `toml:"address"`
	TickMs            int    `toml:"tick_ms"`
	BlackoutToPingMs  int    `toml:"blackout_to_ping_ms"`
	BlackoutToKickMs  int    `toml:"blackout_to_kick_ms"`
	MaxUserNameLength int    `toml:"max_user_name_length"`
	MaxRoomNameLength int    `toml:"max_room_name_length"`
	LobbyName         string `toml:"lobby_name"`
	Welcome           string `toml:"welcome"`
	ByteLimit         int    `toml:"byte_limit"`
	BytesPerTick      int    `toml:"bytes_per_tick"`

	// Listener settings.
	HandshakeTimeoutMs int `toml:"handshake_timeout_ms"`
	AcceptsPerSec      int `toml:"accepts_per_sec"`
	ReadSize           int `toml:"read_size"`

	// Process settings.
	LogFile    string `toml:"log_file"`
	LogLevel   int    `toml:"log_level"`
	PidFile    string `toml:"pid_file"`
	OpsAddress string `toml:"ops_address"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Address:            "127.0.0.1:51516",
		TickMs:             500,
		BlackoutToPingMs:   10_000,
		BlackoutToKickMs:   20_000,
		MaxUserNameLength:  24,
		MaxRoomNameLength:  24,
		LobbyName:          "Lobby",
		Welcome:            "Welcome to the server.",
		ByteLimit:          512,
		BytesPerTick:       6,
		HandshakeTimeoutMs: 5_000,
		AcceptsPerSec:      32,
		ReadSize:           1024,
		LogFile:            "parlord.log",
		LogLevel:           3,
		PidFile:            "d.pid",
		OpsAddress:         "",
	}
}

// DefaultPath returns the conventional per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(dir, "parlord", "parlord.toml"), nil
}

// Load builds the configuration from defaults, the TOML file at path (the
// conventional per-user location when path is empty; a missing file is not an
// error), and PARLORD_* environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("no config file found, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var errs []string
	cfg.applyEnv(&errs)
	cfg.validate(&errs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg, path)
	return cfg, nil
}

// MinTick is the minimum main-loop period.
func (c *Config) MinTick() time.Duration { return time.Duration(c.TickMs) * time.Millisecond }

// BlackoutToPing is the silence span after which the server pings a user.
func (c *Config) BlackoutToPing() time.Duration {
	return time.Duration(c.BlackoutToPingMs) * time.Millisecond
}

// BlackoutToKick is the silence span after which the server disconnects a user.
func (c *Config) BlackoutToKick() time.Duration {
	return time.Duration(c.BlackoutToKickMs) * time.Millisecond
}

// HandshakeTimeout bounds the wait for the initial Name message.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// applyEnv overlays PARLORD_* environment variables onto the config.
func (c *Config) applyEnv(errs *[]string) {
	overrideString(&c.Address, "PARLORD_ADDRESS")
	overrideInt(&c.TickMs, "PARLORD_TICK_MS", errs)
	overrideInt(&c.BlackoutToPingMs, "PARLORD_BLACKOUT_TO_PING_MS", errs)
	overrideInt(&c.BlackoutToKickMs, "PARLORD_BLACKOUT_TO_KICK_MS", errs)
	overrideInt(&c.MaxUserNameLength, "PARLORD_MAX_USER_NAME_LENGTH", errs)
	overrideInt(&c.MaxRoomNameLength, "PARLORD_MAX_ROOM_NAME_LENGTH", errs)
	overrideString(&c.LobbyName, "PARLORD_LOBBY_NAME")
	overrideString(&c.Welcome, "PARLORD_WELCOME")
	overrideInt(&c.ByteLimit, "PARLORD_BYTE_LIMIT", errs)
	overrideInt(&c.BytesPerTick, "PARLORD_BYTES_PER_TICK", errs)
	overrideInt(&c.HandshakeTimeoutMs, "PARLORD_HANDSHAKE_TIMEOUT_MS", errs)
	overrideInt(&c.AcceptsPerSec, "PARLORD_ACCEPTS_PER_SEC", errs)
	overrideInt(&c.ReadSize, "PARLORD_READ_SIZE", errs)
	overrideString(&c.LogFile, "PARLORD_LOG_FILE")
	overrideInt(&c.LogLevel, "PARLORD_LOG_LEVEL", errs)
	overrideString(&c.PidFile, "PARLORD_PID_FILE")
	overrideString(&c.OpsAddress, "PARLORD_OPS_ADDRESS")
}

// validate collects every problem rather than stopping at the first.
func (c *Config) validate(errs *[]string) {
	if !isValidHostPort(c.Address) {
		*errs = append(*errs, fmt.Sprintf("address must be in format 'host:port' (got '%s')", c.Address))
	}
	if c.OpsAddress != "" && !isValidHostPort(c.OpsAddress) {
		*errs = append(*errs, fmt.Sprintf("ops_address must be in format 'host:port' (got '%s')", c.OpsAddress))
	}
	if c.TickMs <= 0 {
		*errs = append(*errs, fmt.Sprintf("tick_ms must be positive (got %d)", c.TickMs))
	}
	if c.BlackoutToPingMs <= 0 {
		*errs = append(*errs, fmt.Sprintf("blackout_to_ping_ms must be positive (got %d)", c.BlackoutToPingMs))
	}
	if c.BlackoutToKickMs <= c.BlackoutToPingMs {
		*errs = append(*errs, fmt.Sprintf("blackout_to_kick_ms must exceed blackout_to_ping_ms (got %d <= %d)",
			c.BlackoutToKickMs, c.BlackoutToPingMs))
	}
	if c.MaxUserNameLength <= 0 {
		*errs = append(*errs, fmt.Sprintf("max_user_name_length must be positive (got %d)", c.MaxUserNameLength))
	}
	if c.MaxRoomNameLength <= 0 {
		*errs = append(*errs, fmt.Sprintf("max_room_name_length must be positive (got %d)", c.MaxRoomNameLength))
	}
	if c.ByteLimit <= 0 {
		*errs = append(*errs, fmt.Sprintf("byte_limit must be positive (got %d)", c.ByteLimit))
	}
	if c.BytesPerTick <= 0 {
		*errs = append(*errs, fmt.Sprintf("bytes_per_tick must be positive (got %d)", c.BytesPerTick))
	}
	if c.HandshakeTimeoutMs <= 0 {
		*errs = append(*errs, fmt.Sprintf("handshake_timeout_ms must be positive (got %d)", c.HandshakeTimeoutMs))
	}
	if c.AcceptsPerSec <= 0 {
		*errs = append(*errs, fmt.Sprintf("accepts_per_sec must be positive (got %d)", c.AcceptsPerSec))
	}
	if c.ReadSize <= 0 {
		*errs = append(*errs, fmt.Sprintf("read_size must be positive (got %d)", c.ReadSize))
	}
	if c.LogLevel < 0 {
		*errs = append(*errs, fmt.Sprintf("log_level must be between 0 and 5 (got %d)", c.LogLevel))
	} else if c.LogLevel > 5 {
		slog.Warn("log_level above 5, clamping", "got", c.LogLevel)
		c.LogLevel = 5
	}
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the effective configuration
func logValidatedConfig(cfg *Config, path string) {
	slog.Info("✅ Configuration validated successfully", "path", path)
	slog.Info("Configuration",
		"address", cfg.Address,
		"tick_ms", cfg.TickMs,
		"blackout_to_ping_ms", cfg.BlackoutToPingMs,
		"blackout_to_kick_ms", cfg.BlackoutToKickMs,
		"lobby_name", cfg.LobbyName,
		"byte_limit", cfg.ByteLimit,
		"bytes_per_tick", cfg.BytesPerTick,
		"ops_address", cfg.OpsAddress,
		"log_level", cfg.LogLevel,
	)
}

// overrideString replaces dst when the environment variable is set.
func overrideString(dst *string, key string) {
	if value, exists := os.LookupEnv(key); exists {
		*dst = value
	}
}

// overrideInt replaces dst when the environment variable is set and parses.
func overrideInt(dst *int, key string, errs *[]string) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got '%s')", key, value))
		return
	}
	*dst = n
}
