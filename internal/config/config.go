package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Printer  PrinterConfig  `yaml:"printer"`
	Remote   RemoteConfig   `yaml:"remote"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	// Driver selects the store backend: "sqlite" or "badger".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type QueueConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	BatchSize      int           `yaml:"batch_size"`
	MaxRetries     int           `yaml:"max_retries"`
	RetentionDays  int           `yaml:"retention_days"`
	PrintTimeout   time.Duration `yaml:"print_timeout"`
	DefaultPrinter string        `yaml:"default_printer"`
}

// PrinterConfig selects the spooler backend.
type PrinterConfig struct {
	// Backend is "lp" (CUPS command line, the default) or "null".
	Backend string `yaml:"backend"`
}

// RemoteConfig describes the ERP endpoint the poller reconciles with.
// Polling only starts when Enabled is set and URL plus APIKey are
// present.
type RemoteConfig struct {
	Enabled         bool          `yaml:"enabled"`
	URL             string        `yaml:"url"`
	Database        string        `yaml:"database"`
	APIKey          string        `yaml:"api_key"`
	ServerID        int64         `yaml:"server_id"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	HeartbeatCycles int           `yaml:"heartbeat_cycles"`
}

type AuthConfig struct {
	// APIKeys holds accepted keys, either plaintext or bcrypt hashes
	// (recognised by their $2 prefix).
	APIKeys  []string      `yaml:"api_keys"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8631,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "./data/jobs.db",
		},
		Queue: QueueConfig{
			PollInterval:  2 * time.Second,
			BatchSize:     10,
			MaxRetries:    3,
			RetentionDays: 7,
			PrintTimeout:  2 * time.Minute,
		},
		Printer: PrinterConfig{
			Backend: "lp",
		},
		Remote: RemoteConfig{
			Enabled:         false,
			PollInterval:    10 * time.Second,
			HeartbeatCycles: 3,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the config file at configPath on top of the defaults. A
// missing file is not an error; the defaults apply.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides selected settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PRINT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("PRINT_SERVER_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("PRINT_SERVER_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("PRINT_SERVER_REMOTE_URL"); v != "" {
		c.Remote.URL = v
	}
	if v := os.Getenv("PRINT_SERVER_REMOTE_API_KEY"); v != "" {
		c.Remote.APIKey = v
	}
	if v := os.Getenv("PRINT_SERVER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	switch c.Database.Driver {
	case "", "sqlite", "badger":
	default:
		return fmt.Errorf("unknown database driver: %s (valid: sqlite, badger)", c.Database.Driver)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll interval must be positive")
	}

	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("queue batch size must be at least 1")
	}

	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}

	if c.Queue.RetentionDays < 0 {
		return fmt.Errorf("retention days must be non-negative")
	}

	if c.Queue.PrintTimeout <= 0 {
		return fmt.Errorf("print timeout must be positive")
	}

	switch c.Printer.Backend {
	case "", "lp", "cups", "null":
	default:
		return fmt.Errorf("unknown printer backend: %s (valid: lp, cups, null)", c.Printer.Backend)
	}

	if c.Remote.Enabled {
		if c.Remote.URL == "" {
			return fmt.Errorf("remote url is required when remote polling is enabled")
		}
		if c.Remote.APIKey == "" {
			return fmt.Errorf("remote api key is required when remote polling is enabled")
		}
		if c.Remote.PollInterval <= 0 {
			return fmt.Errorf("remote poll interval must be positive")
		}
		if c.Remote.HeartbeatCycles < 1 {
			return fmt.Errorf("heartbeat cycles must be at least 1")
		}
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token ttl must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// NewLogger builds a slog logger from the logging config.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
