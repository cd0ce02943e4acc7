package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every environment override.
	EnvPrefix = "LOANPULSE"

	// DefaultSourceName identifies the watermark row of the mock API source.
	DefaultSourceName = "mock_api.loan_applications"

	// DefaultSourceBaseURL is the default extraction endpoint base.
	DefaultSourceBaseURL = "http://localhost:8000"

	// DefaultSourcePath is the records listing path on the source.
	DefaultSourcePath = "/loan_applications"

	// DefaultSourceLimit is the page size requested per run.
	DefaultSourceLimit = 500

	// MaxSourceLimit is the largest page size the source accepts.
	MaxSourceLimit = 500

	// DefaultSourceTimeout bounds a single extraction call.
	DefaultSourceTimeout = 30 * time.Second

	// DefaultPipelineName is recorded on every pipeline run.
	DefaultPipelineName = "ingest_api_loan_applications"

	// DefaultDatabaseDriver is the default relational store.
	DefaultDatabaseDriver = "postgres"

	// DefaultBronzeBaseDir is the local bronze archive root.
	DefaultBronzeBaseDir = "data/bronze/api/loan_applications"

	// DefaultBronzeS3Prefix is the key prefix for bronze objects in S3.
	DefaultBronzeS3Prefix = "bronze/api/loan_applications"

	// DefaultFutureTolerance is the clock-skew allowance of the quality gate.
	DefaultFutureTolerance = 5 * time.Minute

	// DefaultLockStaleAfter is the age after which a table lock is reclaimed.
	DefaultLockStaleAfter = time.Hour

	// DefaultMetricsJob is the pushgateway job label.
	DefaultMetricsJob = "loanpulse"

	// DefaultMockAPIListen is the listen address of the mock source.
	DefaultMockAPIListen = ":8000"

	// DefaultMockAPIWindow is how far back the mock source looks on a cold start.
	DefaultMockAPIWindow = 60 * time.Minute

	// DefaultMockAPILimit is the page size when the caller sends no limit.
	DefaultMockAPILimit = 50
)

// Config is the root configuration for loanpulse.
type Config struct {
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Bronze   BronzeConfig   `yaml:"bronze" mapstructure:"bronze"`
	Quality  QualityConfig  `yaml:"quality" mapstructure:"quality"`
	Lock     LockConfig     `yaml:"lock" mapstructure:"lock"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	MockAPI  MockAPIConfig  `yaml:"mock_api" mapstructure:"mock_api"`
}

// SourceConfig describes the paginated extraction source.
type SourceConfig struct {
	Name    string        `yaml:"name" mapstructure:"name"`
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Path    string        `yaml:"path" mapstructure:"path"`
	Limit   int           `yaml:"limit" mapstructure:"limit"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PipelineConfig contains run bookkeeping settings.
type PipelineConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// DSN renders a postgres:// connection URL. Credentials and the database
// name are escaped, so empty values and spaces or quotes survive parsing.
func (p *PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}

	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{p.SSLMode}}.Encode()
	}

	return u.String()
}

// BronzeConfig selects the raw archive sink. Only one sink may be enabled.
type BronzeConfig struct {
	Local LocalBronzeConfig `yaml:"local" mapstructure:"local"`
	S3    S3BronzeConfig    `yaml:"s3" mapstructure:"s3"`
}

// LocalBronzeConfig writes archives below a local directory.
type LocalBronzeConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseDir string `yaml:"base_dir" mapstructure:"base_dir"`
	// Owner is an optional "UID:GID" applied to created files and directories.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// S3BronzeConfig writes archives to an S3-compatible bucket.
type S3BronzeConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
}

// QualityConfig tunes the staging quality gate.
type QualityConfig struct {
	FutureTolerance time.Duration `yaml:"future_tolerance" mapstructure:"future_tolerance"`
}

// LockConfig controls single-writer enforcement per source.
type LockConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	StaleAfter time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
}

// MetricsConfig contains batch metrics push settings.
type MetricsConfig struct {
	PushGatewayURL string `yaml:"push_gateway_url,omitempty" mapstructure:"push_gateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// MockAPIConfig configures the synthetic loan application source.
type MockAPIConfig struct {
	Listen        string          `yaml:"listen" mapstructure:"listen"`
	DefaultWindow time.Duration   `yaml:"default_window" mapstructure:"default_window"`
	DefaultLimit  int             `yaml:"default_limit" mapstructure:"default_limit"`
	MaxLimit      int             `yaml:"max_limit" mapstructure:"max_limit"`
	CORSOrigins   []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit     RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// legacyEnv maps config keys to the environment variables the original
// deployment scripts export.
var legacyEnv = map[string]string{
	"source.base_url":            "API_BASE_URL",
	"database.postgres.host":     "POSTGRES_HOST",
	"database.postgres.port":     "POSTGRES_PORT",
	"database.postgres.database": "POSTGRES_DB",
	"database.postgres.user":     "POSTGRES_USER",
	"database.postgres.password": "POSTGRES_PASSWORD",
}

// Load merges the given configuration files (later files win) and applies
// environment overrides. With no paths, only defaults and env are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	for i, path := range paths {
		v.SetConfigFile(path)

		read := v.MergeInConfig
		if i == 0 {
			read = v.ReadInConfig
		}

		if err := read(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	// The local sink is on by default only while s3 is off, so enabling s3
	// alone selects it. An explicit bronze.local.enabled still wins.
	v.SetDefault("bronze.local.enabled", !v.GetBool("bronze.s3.enabled"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every key with viper so env-only overrides are
// visible to Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("source.name", DefaultSourceName)
	v.SetDefault("source.base_url", DefaultSourceBaseURL)
	v.SetDefault("source.path", DefaultSourcePath)
	v.SetDefault("source.limit", DefaultSourceLimit)
	v.SetDefault("source.timeout", DefaultSourceTimeout)

	v.SetDefault("pipeline.name", DefaultPipelineName)

	v.SetDefault("database.driver", DefaultDatabaseDriver)
	v.SetDefault("database.sqlite.path", "loanpulse.db")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "loanpulse")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "loanpulse")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("bronze.local.base_dir", DefaultBronzeBaseDir)
	v.SetDefault("bronze.local.owner", "")
	v.SetDefault("bronze.s3.enabled", false)
	v.SetDefault("bronze.s3.endpoint_url", "")
	v.SetDefault("bronze.s3.region", "")
	v.SetDefault("bronze.s3.bucket", "")
	v.SetDefault("bronze.s3.prefix", DefaultBronzeS3Prefix)
	v.SetDefault("bronze.s3.access_key_id", "")
	v.SetDefault("bronze.s3.secret_access_key", "")
	v.SetDefault("bronze.s3.force_path_style", false)
	v.SetDefault("bronze.s3.storage_class", "")

	v.SetDefault("quality.future_tolerance", DefaultFutureTolerance)

	v.SetDefault("lock.enabled", true)
	v.SetDefault("lock.stale_after", DefaultLockStaleAfter)

	v.SetDefault("metrics.push_gateway_url", "")
	v.SetDefault("metrics.job", DefaultMetricsJob)

	v.SetDefault("mock_api.listen", DefaultMockAPIListen)
	v.SetDefault("mock_api.default_window", DefaultMockAPIWindow)
	v.SetDefault("mock_api.default_limit", DefaultMockAPILimit)
	v.SetDefault("mock_api.max_limit", MaxSourceLimit)
	v.SetDefault("mock_api.rate_limit.enabled", false)
	v.SetDefault("mock_api.rate_limit.requests_per_minute", 120)
}

// applyDefaults fills values that an explicit empty setting left blank.
func (c *Config) applyDefaults() {
	if c.Source.Name == "" {
		c.Source.Name = DefaultSourceName
	}

	if c.Source.Path == "" {
		c.Source.Path = DefaultSourcePath
	}

	if c.Source.Limit == 0 {
		c.Source.Limit = DefaultSourceLimit
	}

	if c.Source.Timeout == 0 {
		c.Source.Timeout = DefaultSourceTimeout
	}

	if c.Pipeline.Name == "" {
		c.Pipeline.Name = DefaultPipelineName
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Bronze.Local.BaseDir == "" {
		c.Bronze.Local.BaseDir = DefaultBronzeBaseDir
	}

	if c.Bronze.S3.Prefix == "" {
		c.Bronze.S3.Prefix = DefaultBronzeS3Prefix
	}

	if c.Quality.FutureTolerance == 0 {
		c.Quality.FutureTolerance = DefaultFutureTolerance
	}

	if c.Lock.StaleAfter == 0 {
		c.Lock.StaleAfter = DefaultLockStaleAfter
	}

	if c.Metrics.Job == "" {
		c.Metrics.Job = DefaultMetricsJob
	}

	if c.MockAPI.DefaultWindow == 0 {
		c.MockAPI.DefaultWindow = DefaultMockAPIWindow
	}

	if c.MockAPI.DefaultLimit == 0 {
		c.MockAPI.DefaultLimit = DefaultMockAPILimit
	}

	if c.MockAPI.MaxLimit == 0 {
		c.MockAPI.MaxLimit = MaxSourceLimit
	}
}

// Validate checks the settings needed by the ingest pipeline.
func (c *Config) Validate() error {
	if c.Source.BaseURL == "" {
		return errors.New("source.base_url is required")
	}

	if c.Source.Limit < 1 || c.Source.Limit > MaxSourceLimit {
		return fmt.Errorf("source.limit must be between 1 and %d, got %d", MaxSourceLimit, c.Source.Limit)
	}

	if c.Source.Timeout < 0 {
		return fmt.Errorf("source.timeout must not be negative")
	}

	if err := c.Database.Validate(); err != nil {
		return err
	}

	if err := c.Bronze.Validate(); err != nil {
		return err
	}

	if c.Quality.FutureTolerance < 0 {
		return fmt.Errorf("quality.future_tolerance must not be negative")
	}

	return nil
}

// Validate checks the database driver selection.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "sqlite":
		if d.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required")
		}
	case "postgres":
		if d.Postgres.Host == "" {
			return errors.New("database.postgres.host is required")
		}

		if d.Postgres.Database == "" {
			return errors.New("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", d.Driver)
	}

	return nil
}

// Validate enforces that exactly one archive sink is enabled.
func (b *BronzeConfig) Validate() error {
	if b.Local.Enabled && b.S3.Enabled {
		return errors.New("bronze: cannot enable both local and s3 sinks")
	}

	if !b.Local.Enabled && !b.S3.Enabled {
		return errors.New("bronze: one of local or s3 must be enabled")
	}

	if b.Local.Enabled && b.Local.BaseDir == "" {
		return errors.New("bronze.local.base_dir is required")
	}

	if b.S3.Enabled && b.S3.Bucket == "" {
		return errors.New("bronze.s3.bucket is required")
	}

	return nil
}
