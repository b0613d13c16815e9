// Package config loads juillet configuration from YAML, .env files and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for juillet.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Upload        UploadConfig        `yaml:"upload"`
	Engine        EngineConfig        `yaml:"engine"`
	Engines       []EngineEntry       `yaml:"engines"`
	Cache         CacheConfig         `yaml:"cache"`
	Database      DatabaseConfig      `yaml:"database"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	// InspectTimeout bounds how long a request waits for an inspection.
	InspectTimeout time.Duration `yaml:"inspect_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageConfig holds the package storage location.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// UploadConfig holds archive intake limits.
type UploadConfig struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxSizeMB         int64    `yaml:"max_size_mb"`
	MaxExtractedMB    int64    `yaml:"max_extracted_mb"`
	TempDir           string   `yaml:"temp_dir"`
}

// EngineConfig holds settings shared by all document engines.
type EngineConfig struct {
	Platform string        `yaml:"platform"` // darwin, windows or exec
	Timeout  time.Duration `yaml:"timeout"`
}

// EngineEntry registers one document engine.
type EngineEntry struct {
	Tool          string `yaml:"tool"`
	Ext           string `yaml:"ext"`
	ApplicationID string `yaml:"application_id"` // bundle id driven by osascript
	ProgID        string `yaml:"prog_id"`        // COM class driven by powershell
	Script        string `yaml:"script"`
}

// CacheConfig holds inspection cache settings.
type CacheConfig struct {
	Driver       string        `yaml:"driver"` // memory or redis
	LeaseTTL     time.Duration `yaml:"lease_ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StalePolicy  string        `yaml:"stale_policy"` // never or source_mtime
	Redis        RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig holds inspection journal settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // none, sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// Relative storage, temp and script paths are resolved against the config file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		cfg.Storage.Root = ResolveRelativePath(path, cfg.Storage.Root)
		if cfg.Upload.TempDir != "" {
			cfg.Upload.TempDir = ResolveRelativePath(path, cfg.Upload.TempDir)
		}
		for i := range cfg.Engines {
			cfg.Engines[i].Script = ResolveRelativePath(path, cfg.Engines[i].Script)
		}
		if cfg.Database.SQLite.Path != "" {
			cfg.Database.SQLite.Path = ResolveRelativePath(path, cfg.Database.SQLite.Path)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     5 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 15 * time.Second,
			InspectTimeout:   4 * time.Minute,
			AllowedOrigins:   []string{"*"},
		},
		Storage: StorageConfig{
			Root: "storage",
		},
		Upload: UploadConfig{
			AllowedExtensions: []string{".zip", ".rar"},
			MaxSizeMB:         200,
			MaxExtractedMB:    2048,
		},
		Engine: EngineConfig{
			Platform: defaultPlatform(),
			Timeout:  10 * time.Minute,
		},
		Engines: []EngineEntry{
			{
				Tool:          "indesign",
				Ext:           "idml",
				ApplicationID: "com.adobe.indesign",
				ProgID:        "InDesign.Application",
				Script:        "indesign.jsx",
			},
		},
		Cache: CacheConfig{
			Driver:       "memory",
			LeaseTTL:     15 * time.Minute,
			PollInterval: 500 * time.Millisecond,
			StalePolicy:  "never",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
				Prefix:   "juillet:",
			},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "juillet.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "juillet",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.InspectTimeout <= 0 {
		return fmt.Errorf("server inspect_timeout must be positive")
	}

	if strings.TrimSpace(c.Storage.Root) == "" {
		return fmt.Errorf("storage root is required")
	}

	if len(c.Upload.AllowedExtensions) == 0 {
		return fmt.Errorf("upload allowed_extensions must not be empty")
	}

	if c.Upload.MaxSizeMB <= 0 {
		return fmt.Errorf("upload max_size_mb must be positive")
	}

	switch c.Engine.Platform {
	case "darwin", "windows", "exec":
	default:
		return fmt.Errorf("unsupported engine platform: %s", c.Engine.Platform)
	}

	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine timeout must be positive")
	}

	if len(c.Engines) == 0 {
		return fmt.Errorf("at least one engine must be configured")
	}

	seen := make(map[string]bool, len(c.Engines))
	for _, e := range c.Engines {
		if e.Tool == "" || e.Ext == "" || e.Script == "" {
			return fmt.Errorf("engine entries need tool, ext and script")
		}
		if seen[e.Tool] {
			return fmt.Errorf("duplicate engine tool: %s", e.Tool)
		}
		seen[e.Tool] = true
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Cache.StalePolicy != "never" && c.Cache.StalePolicy != "source_mtime" {
		return fmt.Errorf("invalid cache stale_policy: %s", c.Cache.StalePolicy)
	}

	if c.Cache.LeaseTTL <= 0 || c.Cache.PollInterval <= 0 {
		return fmt.Errorf("cache lease_ttl and poll_interval must be positive")
	}

	// a lease must outlive the engine run it guards
	if c.Cache.LeaseTTL <= c.Engine.Timeout {
		return fmt.Errorf("cache lease_ttl (%s) must exceed engine timeout (%s)", c.Cache.LeaseTTL, c.Engine.Timeout)
	}

	switch c.Database.Driver {
	case "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	return nil
}

// MaxUploadBytes returns the upload ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.Upload.MaxSizeMB << 20
}

// MaxExtractedBytes returns the extracted-size ceiling in bytes, zero meaning unbounded.
func (c *Config) MaxExtractedBytes() int64 {
	return c.Upload.MaxExtractedMB << 20
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("JUILLET_STORAGE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}

	if v := os.Getenv("JUILLET_ENGINE_PLATFORM"); v != "" {
		cfg.Engine.Platform = v
	}

	if v := os.Getenv("JUILLET_ENGINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.Timeout = d
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		switch {
		case v == "none":
			cfg.Database.Driver = "none"
		case strings.HasPrefix(v, "sqlite:"):
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		case strings.HasPrefix(v, "postgres"):
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// defaultPlatform picks the launcher for the host OS. Hosts without a
// scriptable desktop engine fall back to running the script directly.
func defaultPlatform() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return runtime.GOOS
	default:
		return "exec"
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if targetPath == "" || filepath.IsAbs(targetPath) {
		return targetPath
	}
	return filepath.Join(filepath.Dir(configPath), targetPath)
}
