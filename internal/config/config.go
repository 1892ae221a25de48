// Package config provides configuration management for the trail importer.
// It loads configuration from environment variables and .env files, with an
// optional import profile and regions file read through viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Archive     ArchiveConfig
	Logging     LoggingConfig
	Sources     SourcesConfig
	Fetch       FetchConfig
	Import      ImportDefaults
	Quality     QualityConfig
	Dedup       DedupConfig
	Retry       RetryConfig
	Credentials CredentialsConfig
	RateLimit   RateLimitConfig
	Queue       QueueConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the postgres:// form used by golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration for the rejection log
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	StatusTTL      time.Duration
}

// ArchiveConfig holds S3 job report archive configuration
type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// SourceConfig describes one upstream trail source
type SourceConfig struct {
	Enabled bool
	BaseURL string
	// CredentialName is the env/keyring key holding the API key; empty means none is required
	CredentialName string
}

// SourcesConfig holds per-source configuration
type SourcesConfig struct {
	HikingProject SourceConfig
	OpenStreetMap SourceConfig
	Parks         SourceConfig
}

// FetchConfig holds fetcher behavior shared by all sources
type FetchConfig struct {
	Timeout           time.Duration
	InterRequestDelay time.Duration
	MaxAttempts       int
	RegionsFile       string
	DailyQuota        int
	UserAgent         string
}

// ImportDefaults are applied to ImportConfig fields the caller leaves empty
type ImportDefaults struct {
	TrailsPerSource     int
	BatchSize           int
	MinQualityScore     float64
	InterBatchDelay     time.Duration
	InterSourceDelay    time.Duration
	MaxRecordedFailures int
	ProfileFile         string
}

// QualityConfig holds quality scoring weights
type QualityConfig struct {
	DescriptionWeight    float64
	LocationWeight       float64
	LengthWeight         float64
	MinDescriptionLength int
}

// DedupConfig holds duplicate detection parameters
type DedupConfig struct {
	BoxDelta  float64
	Threshold float64
}

// RetryConfig holds batch insert retry parameters
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// CredentialsConfig controls the source API key lookup
type CredentialsConfig struct {
	KeyringEnabled bool
	KeyringService string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// QueueConfig holds import queue configuration
type QueueConfig struct {
	Workers int
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "trails"),
				User:           getEnv("POSTGRES_USER", "trails"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "trails"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
				StatusTTL:      getEnvAsDuration("REDIS_STATUS_TTL", 24*time.Hour),
			},
		},
		Archive: ArchiveConfig{
			Enabled:   getEnvAsBool("ARCHIVE_ENABLED", false),
			Endpoint:  getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Region:    getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Bucket:    getEnv("ARCHIVE_S3_BUCKET", "trail-import-reports"),
			Prefix:    getEnv("ARCHIVE_S3_PREFIX", "imports/"),
			AccessKey: getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("ARCHIVE_S3_SECRET_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 7),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE", 30),
			Compress:   getEnvAsBool("LOG_COMPRESS", true),
		},
		Sources: SourcesConfig{
			HikingProject: SourceConfig{
				Enabled:        getEnvAsBool("HIKING_PROJECT_ENABLED", true),
				BaseURL:        getEnv("HIKING_PROJECT_BASE_URL", "https://www.hikingproject.com/data"),
				CredentialName: getEnv("HIKING_PROJECT_CREDENTIAL", "HIKING_PROJECT_API_KEY"),
			},
			OpenStreetMap: SourceConfig{
				Enabled: getEnvAsBool("OSM_ENABLED", true),
				BaseURL: getEnv("OSM_BASE_URL", "https://overpass-api.de"),
			},
			Parks: SourceConfig{
				Enabled:        getEnvAsBool("PARKS_ENABLED", true),
				BaseURL:        getEnv("PARKS_BASE_URL", "https://developer.nps.gov"),
				CredentialName: getEnv("PARKS_CREDENTIAL", "PARKS_API_KEY"),
			},
		},
		Fetch: FetchConfig{
			Timeout:           getEnvAsDuration("FETCH_TIMEOUT", 20*time.Second),
			InterRequestDelay: getEnvAsDuration("FETCH_INTER_REQUEST_DELAY", time.Second),
			MaxAttempts:       getEnvAsInt("FETCH_MAX_ATTEMPTS", 3),
			RegionsFile:       getEnv("IMPORT_REGIONS_FILE", ""),
			DailyQuota:        getEnvAsInt("FETCH_DAILY_QUOTA", 0),
			UserAgent:         getEnv("FETCH_USER_AGENT", "trail-importer/1.0"),
		},
		Import: ImportDefaults{
			TrailsPerSource:     getEnvAsInt("IMPORT_TRAILS_PER_SOURCE", 100),
			BatchSize:           getEnvAsInt("IMPORT_BATCH_SIZE", 10),
			MinQualityScore:     getEnvAsFloat("IMPORT_MIN_QUALITY_SCORE", 0.6),
			InterBatchDelay:     getEnvAsDuration("IMPORT_INTER_BATCH_DELAY", 500*time.Millisecond),
			InterSourceDelay:    getEnvAsDuration("IMPORT_INTER_SOURCE_DELAY", time.Second),
			MaxRecordedFailures: getEnvAsInt("IMPORT_MAX_RECORDED_FAILURES", 500),
			ProfileFile:         getEnv("IMPORT_PROFILE_FILE", ""),
		},
		Quality: QualityConfig{
			DescriptionWeight:    getEnvAsFloat("QUALITY_DESCRIPTION_WEIGHT", 0.4),
			LocationWeight:       getEnvAsFloat("QUALITY_LOCATION_WEIGHT", 0.3),
			LengthWeight:         getEnvAsFloat("QUALITY_LENGTH_WEIGHT", 0.3),
			MinDescriptionLength: getEnvAsInt("QUALITY_MIN_DESCRIPTION_LENGTH", 20),
		},
		Dedup: DedupConfig{
			BoxDelta:  getEnvAsFloat("DEDUP_BOX_DELTA", 0.001),
			Threshold: getEnvAsFloat("DEDUP_THRESHOLD", 0.8),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("INSERT_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvAsDuration("INSERT_BASE_DELAY", 2*time.Second),
		},
		Credentials: CredentialsConfig{
			KeyringEnabled: getEnvAsBool("CREDENTIALS_KEYRING_ENABLED", false),
			KeyringService: getEnv("CREDENTIALS_KEYRING_SERVICE", "trail-importer"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("API_RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("API_RATE_LIMIT_BURST", 10),
		},
		Queue: QueueConfig{
			Workers: getEnvAsInt("IMPORT_QUEUE_WORKERS", 2),
		},
	}

	if config.Import.ProfileFile != "" {
		if err := ApplyProfile(config, config.Import.ProfileFile); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// EnabledSourceNames lists the source names switched on in configuration
func (c *Config) EnabledSourceNames() []string {
	var names []string
	if c.Sources.HikingProject.Enabled {
		names = append(names, "hiking_project")
	}
	if c.Sources.OpenStreetMap.Enabled {
		names = append(names, "openstreetmap")
	}
	if c.Sources.Parks.Enabled {
		names = append(names, "parks")
	}
	return names
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
