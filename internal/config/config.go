package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultConnectTimeout    = 5 * time.Second
	defaultReadTimeout       = 10 * time.Second
	defaultBackoffBase       = 500 * time.Millisecond
	defaultBackoffCap        = 30 * time.Second
	defaultStopTimeout       = 5 * time.Second
	defaultMaxStreams        = 16
	defaultPreBufferSeconds  = 10
	defaultPostBufferSeconds = 5
	defaultDetectionInterval = 5
	defaultDetectionGrace    = 2 * time.Second

	defaultHealthInterval    = 30 * time.Second
	defaultHealthFailures    = 3
	defaultRestartCooldown   = 60 * time.Second
	defaultMaxRestarts       = 5
	defaultRestartDrain      = 3 * time.Second
	defaultRetentionInterval = 5 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Detection DetectionConfig `mapstructure:"detection"`
	Retention RetentionConfig `mapstructure:"retention"`
	Health    HealthConfig    `mapstructure:"health"`
	HLS       HLSConfig       `mapstructure:"hls"`
	Backup    BackupConfig    `mapstructure:"backup"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds catalog connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`    // empty = {storage.base_dir}/database/nvr.db
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	// LockTimeout bounds acquisition of the process-wide write lock.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// StorageConfig holds the on-disk layout configuration.
type StorageConfig struct {
	// BaseDir is the storage root; all recording, database, HLS, and model
	// paths hang off it.
	BaseDir     string `mapstructure:"base_dir"`
	DatabaseDir string `mapstructure:"database_dir"`
	MP4Dir      string `mapstructure:"mp4_dir"`
	HLSDir      string `mapstructure:"hls_dir"`
	ModelsDir   string `mapstructure:"models_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// IngestConfig holds per-stream capture configuration.
type IngestConfig struct {
	// MaxStreams bounds the supervisor's slot table.
	MaxStreams int `mapstructure:"max_streams"`
	// ConnectTimeout bounds the blocking source open.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// ReadTimeout is the packet-read timeout before reconnecting.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// BackoffBase and BackoffCap shape the reconnect backoff.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
	// StopTimeout is how long the supervisor waits for a thread to stop
	// before marking its slot leaked.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	// BufferMemoryLimit caps one stream's packet buffer; exceeding it
	// evicts more aggressively than the duration bound.
	BufferMemoryLimit ByteSize `mapstructure:"buffer_memory_limit"`
}

// DetectionConfig holds detection defaults shared by all streams.
type DetectionConfig struct {
	// APIURL is the endpoint the "api-detection" model sentinel resolves to.
	APIURL string `mapstructure:"api_url"`
	// SnapshotURL is the companion service that serves JPEG stills, with
	// %s substituted by the stream name.
	SnapshotURL string `mapstructure:"snapshot_url"`
	// Grace is the window after the last positive detection during which
	// a negative frame does not end the recording.
	Grace time.Duration `mapstructure:"grace"`
	// Timeout bounds each HTTP request of the shared detection client
	// (snapshot fetch, detection POST).
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetentionConfig holds the retention engine schedule.
type RetentionConfig struct {
	Enabled *bool `mapstructure:"enabled"`
	// Interval between sweeps.
	Interval time.Duration `mapstructure:"interval"`
	// VacuumCron runs the opportunistic vacuum (6-field cron, empty
	// disables).
	VacuumCron string `mapstructure:"vacuum_cron"`
}

// HealthConfig holds the health supervisor configuration.
type HealthConfig struct {
	Enabled *bool `mapstructure:"enabled"`
	// Interval between probes of /api/health.
	Interval time.Duration `mapstructure:"interval"`
	// FailureThreshold is the consecutive-failure count before a restart.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// RestartCooldown rate-limits restarts; MaxRestarts caps them.
	RestartCooldown time.Duration `mapstructure:"restart_cooldown"`
	MaxRestarts     int           `mapstructure:"max_restarts"`
	// DrainTimeout is how long to wait for the old server to exit.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// HLSConfig holds live HLS output configuration.
type HLSConfig struct {
	Enabled         *bool         `mapstructure:"enabled"`
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	SegmentCount    int           `mapstructure:"segment_count"`
}

// BackupConfig holds catalog backup configuration.
type BackupConfig struct {
	Directory string `mapstructure:"directory"` // empty = {storage.base_dir}/backups
	Enabled   bool   `mapstructure:"enabled"`
	Cron      string `mapstructure:"cron"` // 6-field cron
	Retention int    `mapstructure:"retention"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence and are prefixed with LIGHTNVR_,
// with underscores for nesting: LIGHTNVR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("lightnvr")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/lightnvr")
		v.AddConfigPath("$HOME/.lightnvr")
	}

	v.SetEnvPrefix("LIGHTNVR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.lock_timeout", 5*time.Second)

	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.database_dir", "database")
	v.SetDefault("storage.mp4_dir", "mp4")
	v.SetDefault("storage.hls_dir", "hls")
	v.SetDefault("storage.models_dir", "models")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("ingest.max_streams", defaultMaxStreams)
	v.SetDefault("ingest.connect_timeout", defaultConnectTimeout)
	v.SetDefault("ingest.read_timeout", defaultReadTimeout)
	v.SetDefault("ingest.backoff_base", defaultBackoffBase)
	v.SetDefault("ingest.backoff_cap", defaultBackoffCap)
	v.SetDefault("ingest.stop_timeout", defaultStopTimeout)
	v.SetDefault("ingest.buffer_memory_limit", 256*1024*1024)

	v.SetDefault("detection.api_url", "")
	v.SetDefault("detection.snapshot_url", "")
	v.SetDefault("detection.grace", defaultDetectionGrace)
	v.SetDefault("detection.timeout", 10*time.Second)

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.interval", defaultRetentionInterval)
	v.SetDefault("retention.vacuum_cron", "0 30 3 * * *")

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.interval", defaultHealthInterval)
	v.SetDefault("health.failure_threshold", defaultHealthFailures)
	v.SetDefault("health.restart_cooldown", defaultRestartCooldown)
	v.SetDefault("health.max_restarts", defaultMaxRestarts)
	v.SetDefault("health.drain_timeout", defaultRestartDrain)

	v.SetDefault("hls.enabled", true)
	v.SetDefault("hls.segment_duration", 4*time.Second)
	v.SetDefault("hls.segment_count", 6)

	v.SetDefault("backup.directory", "")
	v.SetDefault("backup.enabled", true)
	v.SetDefault("backup.cron", "0 0 2 * * *")
	v.SetDefault("backup.retention", 7)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Ingest.MaxStreams < 1 {
		return fmt.Errorf("ingest.max_streams must be at least 1")
	}
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabasePath returns the catalog file path, honoring an explicit DSN.
func (c *Config) DatabasePath() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return filepath.Join(c.Storage.BaseDir, c.Storage.DatabaseDir, "nvr.db")
}

// MP4Path returns the continuous-recording directory for a stream.
func (c *StorageConfig) MP4Path(streamName string) string {
	return filepath.Join(c.BaseDir, c.MP4Dir, streamName)
}

// DetectionPath returns the detection-recording directory for a stream.
func (c *StorageConfig) DetectionPath(streamName string) string {
	return filepath.Join(c.BaseDir, streamName)
}

// HLSPath returns the live HLS directory for a stream.
func (c *StorageConfig) HLSPath(streamName string) string {
	return filepath.Join(c.BaseDir, c.HLSDir, streamName)
}

// ModelsPath returns the detection model directory.
func (c *StorageConfig) ModelsPath() string {
	return filepath.Join(c.BaseDir, c.ModelsDir)
}

// BackupPath returns the backup directory path.
func (c *BackupConfig) BackupPath(storageBaseDir string) string {
	if c.Directory != "" {
		return c.Directory
	}
	return filepath.Join(storageBaseDir, "backups")
}
