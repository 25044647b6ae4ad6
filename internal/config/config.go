package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	BlobStore BlobStoreConfig `mapstructure:"blobstore"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxFormMemory bounds the in-memory part of multipart parsing; larger parts spill to disk.
	MaxFormMemory int64 `mapstructure:"max_form_memory"`
}

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

// StoreConfig selects the report store backend
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Schema          string        `mapstructure:"schema"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&search_path=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode, c.Schema,
	)
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Collection     string        `mapstructure:"collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	URL        string             `mapstructure:"url"`
	StreamName string             `mapstructure:"stream_name"`
	Subjects   NATSSubjectsConfig `mapstructure:"subjects"`
	// Retention bounds how long lifecycle events stay replayable
	Retention time.Duration `mapstructure:"retention"`
}

type NATSSubjectsConfig struct {
	Submitted     string `mapstructure:"submitted"`
	StatusChanged string `mapstructure:"status_changed"`
}

// BlobStoreConfig configures where uploaded media lands and how it is addressed
type BlobStoreConfig struct {
	RootDir       string `mapstructure:"root_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	ChunkSize     int    `mapstructure:"chunk_size"`
}

// UploadConfig holds the asset validation and retry policy
type UploadConfig struct {
	MaxBytes     int64         `mapstructure:"max_bytes"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// CryptoConfig holds the field encryption secret. A missing key surfaces as a
// configuration error on first encrypt or decrypt, not at load time.
type CryptoConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	SubmissionsPerMinute int  `mapstructure:"submissions_per_minute"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "safereport")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "0.1.0")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_form_memory", 8<<20)

	v.SetDefault("store.driver", StoreDriverPostgres)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.dbname", "safereport")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.schema", "public")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "safereport")
	v.SetDefault("mongo.collection", "reports")
	v.SetDefault("mongo.connect_timeout", 15*time.Second)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.key_prefix", "safereport:")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "SAFEREPORT_REPORTS")
	v.SetDefault("nats.retention", 30*24*time.Hour)
	v.SetDefault("nats.subjects.submitted", "reports.submitted")
	v.SetDefault("nats.subjects.status_changed", "reports.status_changed")

	v.SetDefault("blobstore.root_dir", "./media")
	v.SetDefault("blobstore.public_base_url", "http://localhost:8080/media")
	v.SetDefault("blobstore.chunk_size", 64<<10)

	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("upload.max_attempts", 3)
	v.SetDefault("upload.base_delay", time.Second)
	v.SetDefault("upload.fetch_timeout", 30*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PATCH", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type"})
	v.SetDefault("cors.max_age", 300)

	v.SetDefault("ratelimit.submissions_per_minute", 10)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.time_format", time.RFC3339)
}

// Load reads configuration from file and environment variables.
// A missing config file is not an error; defaults and the environment still apply.
func Load(configPath string) (*Config, error) {
	// Values already present in the process environment win over .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/safereport")
	}

	v.SetEnvPrefix("SAFEREPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// viper doesn't auto-bind nested keys that have no default
	v.BindEnv("crypto.encryption_key", "SAFEREPORT_CRYPTO_ENCRYPTION_KEY", "ENCRYPTION_KEY")
	v.BindEnv("jwt.secret", "SAFEREPORT_JWT_SECRET")
	v.BindEnv("jwt.issuer", "SAFEREPORT_JWT_ISSUER")
	v.BindEnv("database.user", "SAFEREPORT_DATABASE_USER")
	v.BindEnv("database.password", "SAFEREPORT_DATABASE_PASSWORD")
	v.BindEnv("redis.password", "SAFEREPORT_REDIS_PASSWORD")
	v.BindEnv("redis.enabled", "SAFEREPORT_REDIS_ENABLED")
	v.BindEnv("nats.enabled", "SAFEREPORT_NATS_ENABLED")
	v.BindEnv("nats.url", "SAFEREPORT_NATS_URL")
	v.BindEnv("ratelimit.enabled", "SAFEREPORT_RATELIMIT_ENABLED")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path
func LoadDefault() (*Config, error) {
	return Load("")
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMongo, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	if c.Upload.MaxAttempts <= 0 {
		return fmt.Errorf("upload.max_attempts must be positive")
	}
	return nil
}
