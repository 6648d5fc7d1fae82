// Package config loads labcore settings from defaults, an optional YAML
// file, a local .env file and LABCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"labcore/internal/core"
	blobs3 "labcore/internal/infra/blob/s3"
)

// EnvPrefix prefixes every environment override, e.g. LABCORE_HTTP_ADDR
// for http.addr.
const EnvPrefix = "LABCORE"

// Config represents the complete labcore configuration.
type Config struct {
	Lab       LabConfig          `mapstructure:"lab"`
	Log       LogConfig          `mapstructure:"log"`
	Storage   core.StorageConfig `mapstructure:"storage"`
	Blob      core.ArchiveConfig `mapstructure:"blob"`
	HTTP      HTTPConfig         `mapstructure:"http"`
	Metrics   MetricsConfig      `mapstructure:"metrics"`
	Redis     RedisConfig        `mapstructure:"redis"`
	Intake    IntakeConfig       `mapstructure:"intake"`
	Scheduler SchedulerConfig    `mapstructure:"scheduler"`
	Service   ServiceConfig      `mapstructure:"service"`
}

// LabConfig holds site-wide settings.
type LabConfig struct {
	// Timezone is the IANA zone civil dates and HH:MM inputs are read in.
	Timezone string `mapstructure:"timezone"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RedisConfig points the audit publisher at a Redis stream. An empty Addr
// keeps audit entries in the process log only.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// IntakeConfig points at the sample reception service. An empty BaseURL
// disables intake-backed operations.
type IntakeConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

// SchedulerConfig holds the cron specs of the background jobs. An empty
// spec disables that job.
type SchedulerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	OverdueScan   string        `mapstructure:"overdue_scan"`
	GaugeRefresh  string        `mapstructure:"gauge_refresh"`
	Backfill      string        `mapstructure:"backfill"`
	OrphanCleanup string        `mapstructure:"orphan_cleanup"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
}

// ServiceConfig tunes the core service.
type ServiceConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
	// SystemActor is the verified actor scheduled jobs and CLI maintenance
	// commands act as.
	SystemActor string `mapstructure:"system_actor"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Lab:     LabConfig{Timezone: "America/Los_Angeles"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Storage: core.StorageConfig{Driver: string(core.StorageSQLite), SQLitePath: "labcore.db"},
		Blob:    core.ArchiveConfig{Driver: "fs", FSRoot: "./reports", S3: blobs3.Config{Region: "us-east-1"}},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Redis:   RedisConfig{Stream: "labcore:audit", MaxLen: 100000},
		Intake:  IntakeConfig{Timeout: 10 * time.Second, Retries: 2},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			OverdueScan:   "*/15 * * * *",
			GaugeRefresh:  "* * * * *",
			Backfill:      "30 2 * * *",
			OrphanCleanup: "0 3 * * 0",
			JobTimeout:    5 * time.Minute,
		},
		Service: ServiceConfig{MaxRetries: 2, SystemActor: "System (scheduler)"},
	}
}

// SetDefaults registers every default on v so environment overrides apply
// even without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("lab.timezone", d.Lab.Timezone)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)

	v.SetDefault("blob.driver", d.Blob.Driver)
	v.SetDefault("blob.fs_root", d.Blob.FSRoot)
	v.SetDefault("blob.s3.bucket", d.Blob.S3.Bucket)
	v.SetDefault("blob.s3.region", d.Blob.S3.Region)
	v.SetDefault("blob.s3.endpoint", d.Blob.S3.Endpoint)
	v.SetDefault("blob.s3.access_key_id", d.Blob.S3.AccessKeyID)
	v.SetDefault("blob.s3.secret_access_key", d.Blob.S3.SecretAccessKey)
	v.SetDefault("blob.s3.session_token", d.Blob.S3.SessionToken)
	v.SetDefault("blob.s3.path_style", d.Blob.S3.PathStyle)
	v.SetDefault("blob.s3.prefix", d.Blob.S3.Prefix)

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.stream", d.Redis.Stream)
	v.SetDefault("redis.max_len", d.Redis.MaxLen)

	v.SetDefault("intake.base_url", d.Intake.BaseURL)
	v.SetDefault("intake.token", d.Intake.Token)
	v.SetDefault("intake.timeout", d.Intake.Timeout)
	v.SetDefault("intake.retries", d.Intake.Retries)

	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.overdue_scan", d.Scheduler.OverdueScan)
	v.SetDefault("scheduler.gauge_refresh", d.Scheduler.GaugeRefresh)
	v.SetDefault("scheduler.backfill", d.Scheduler.Backfill)
	v.SetDefault("scheduler.orphan_cleanup", d.Scheduler.OrphanCleanup)
	v.SetDefault("scheduler.job_timeout", d.Scheduler.JobTimeout)

	v.SetDefault("service.max_retries", d.Service.MaxRetries)
	v.SetDefault("service.system_actor", d.Service.SystemActor)
}

// BindEnv makes v read LABCORE_* overrides, replacing dots in keys with
// underscores (LABCORE_STORAGE_SQLITE_PATH for storage.sqlite_path).
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv copies variables from the given .env files into the process
// environment without overriding variables already set. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment binding in
// place. When file is non-empty it must exist; otherwise labcore.yaml is
// read from the working directory if present.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		return v, nil
	}
	v.SetConfigName("labcore")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Lab.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("lab.timezone: %w", err))
	}
	switch core.StorageDriver(strings.ToLower(strings.TrimSpace(c.Storage.Driver))) {
	case "", core.StorageMemory, core.StorageSQLite, core.StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if strings.EqualFold(strings.TrimSpace(c.Blob.Driver), "s3") && strings.TrimSpace(c.Blob.S3.Bucket) == "" {
		errs = append(errs, errors.New("blob.s3.bucket: required for the s3 driver"))
	}
	if c.Service.MaxRetries < 0 {
		errs = append(errs, errors.New("service.max_retries: must not be negative"))
	}
	if strings.TrimSpace(c.Service.SystemActor) == "" {
		errs = append(errs, errors.New("service.system_actor: required"))
	}
	specs := map[string]string{
		"scheduler.overdue_scan":   c.Scheduler.OverdueScan,
		"scheduler.gauge_refresh":  c.Scheduler.GaugeRefresh,
		"scheduler.backfill":       c.Scheduler.Backfill,
		"scheduler.orphan_cleanup": c.Scheduler.OrphanCleanup,
	}
	for key, spec := range specs {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Location resolves the lab timezone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Lab.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

