// Package config loads daemon settings from defaults, an optional YAML file
// and NANOALARM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. NANOALARM_RPC_SECRET.
const EnvPrefix = "NANOALARM"

// Config is the daemon configuration.
type Config struct {
	App       AppConfig
	RPC       RPCConfig
	Scheduler SchedulerConfig
	Player    PlayerConfig
	Volume    VolumeConfig
	Device    DeviceConfig
	Log       LogConfig

	// File is the config file that was read, empty when none was found.
	File string
}

type AppConfig struct {
	DataDir string
	Store   string // sqlite or memory
}

type RPCConfig struct {
	Listen string
	Secret string
}

type SchedulerConfig struct {
	SweepInterval time.Duration
	RestoreGrace  time.Duration
	MaxConcurrent int
	Snooze        time.Duration
}

// PlayerConfig holds the playback command template. "{media}" and "{volume}"
// are filled in per run. An empty command plays silently.
type PlayerConfig struct {
	Command []string
}

type VolumeConfig struct {
	MaxLevel int
}

// DeviceConfig selects the lock-state source. LockFile wins over Locked.
type DeviceConfig struct {
	LockFile string
	Locked   bool
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

// Store kinds.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("store", StoreSQLite)
	v.SetDefault("listen", "127.0.0.1:7465")
	v.SetDefault("rpc.secret", "")
	v.SetDefault("sweep_interval", 30*time.Second)
	v.SetDefault("restore_grace", 10*time.Minute)
	v.SetDefault("max_concurrent", 2)
	v.SetDefault("snooze_minutes", 5)
	v.SetDefault("player.command", []string{})
	v.SetDefault("volume.max_level", 7)
	v.SetDefault("device.lock_file", "")
	v.SetDefault("device.locked", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads the configuration. With an empty path it looks for
// nanoalarm.yaml in the data directory and tolerates its absence; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nanoalarm")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			DataDir: v.GetString("data_dir"),
			Store:   strings.ToLower(v.GetString("store")),
		},
		RPC: RPCConfig{
			Listen: v.GetString("listen"),
			Secret: v.GetString("rpc.secret"),
		},
		Scheduler: SchedulerConfig{
			SweepInterval: v.GetDuration("sweep_interval"),
			RestoreGrace:  v.GetDuration("restore_grace"),
			MaxConcurrent: v.GetInt("max_concurrent"),
			Snooze:        time.Duration(v.GetInt("snooze_minutes")) * time.Minute,
		},
		Player: PlayerConfig{Command: v.GetStringSlice("player.command")},
		Volume: VolumeConfig{MaxLevel: v.GetInt("volume.max_level")},
		Device: DeviceConfig{
			LockFile: v.GetString("device.lock_file"),
			Locked:   v.GetBool("device.locked"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		File: v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.App.Store {
	case StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("config: unknown store %q", c.App.Store)
	}
	if c.Scheduler.SweepInterval <= 0 {
		return fmt.Errorf("config: sweep_interval must be positive, got %s", c.Scheduler.SweepInterval)
	}
	if c.Scheduler.RestoreGrace < 0 {
		return fmt.Errorf("config: restore_grace must not be negative, got %s", c.Scheduler.RestoreGrace)
	}
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("config: max_concurrent must be at least 1, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Scheduler.Snooze <= 0 {
		return fmt.Errorf("config: snooze_minutes must be positive")
	}
	if c.Volume.MaxLevel < 0 {
		return fmt.Errorf("config: volume.max_level must not be negative, got %d", c.Volume.MaxLevel)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.App.DataDir, "nanoalarm.db")
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return l, nil
}

// NewLogger builds the slog logger described by Log, writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// DefaultDataDir is ~/.nanoalarm, or ./data when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".nanoalarm")
}
