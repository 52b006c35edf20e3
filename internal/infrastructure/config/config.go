package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default endpoints, matching the stock ThingsBoard CE docker setup.
const (
	DefaultBackendURL = "http://localhost:8080/api"
	DefaultBrokerURL  = "mqtt://localhost:1883"
)

// Credential store backends.
const (
	CredentialsMemory = "memory"
	CredentialsFile   = "file"
	CredentialsSQLite = "sqlite"
	CredentialsRedis  = "redis"
)

// DotEnvPath is the .env file loaded before environment overrides are applied.
// A missing file is not an error.
var DotEnvPath = ".env"

// Config is the root configuration structure for tbdash.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Backend     BackendConfig     `yaml:"backend"`
	Broker      BrokerConfig      `yaml:"broker"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// BackendConfig contains the ThingsBoard REST API settings.
type BackendConfig struct {
	// URL is the REST base URL including the /api prefix.
	URL string `yaml:"url"`

	// Timeout is the per-request timeout in seconds for ordinary calls.
	Timeout int `yaml:"timeout"`

	// RPCTimeout is the default two-way RPC timeout in seconds.
	RPCTimeout int `yaml:"rpc_timeout"`

	// RefreshPath is the token refresh endpoint relative to URL.
	// Stock ThingsBoard CE serves it at /auth/token.
	RefreshPath string `yaml:"refresh_path"`

	// PageSize is the page size used when listing devices by type.
	PageSize int `yaml:"page_size"`
}

// BrokerConfig holds the MQTT broker URL.
// The API client never reads it; only the snapshot publisher does.
type BrokerConfig struct {
	URL string `yaml:"url"`
}

// CredentialsConfig selects where the token pair is persisted.
type CredentialsConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`   // file backend only
	Secret  string      `yaml:"secret"` // seals tokens at rest when set
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings for the redis credential backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains settings for the dashboard snapshot publisher.
// The broker address comes from BrokerConfig.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	ClientID    string              `yaml:"client_id"`
	Username    string              `yaml:"username"`
	Password    string              `yaml:"password"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains local HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	// AllowedOrigins lists browser origins that may call the API. Empty
	// admits loopback origins only; "*" admits every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// DashboardConfig controls the periodic dashboard refresh.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a robfig/cron spec, "@every 30s" by default.
	Schedule string `yaml:"schedule"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (skipped when path is empty)
//  3. .env file values, for variables not already set
//  4. Environment variables
//
// Environment variables follow the pattern TBDASH_SECTION_KEY. THINGSBOARD_URL
// and MQTT_URL are also honoured for the two endpoints.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := godotenv.Load(DotEnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", DotEnvPath, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration with environment overrides applied.
// It is used by commands that run without a config file.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:         DefaultBackendURL,
			Timeout:     15,
			RPCTimeout:  30,
			RefreshPath: "/auth/refresh",
			PageSize:    100,
		},
		Broker: BrokerConfig{
			URL: DefaultBrokerURL,
		},
		Credentials: CredentialsConfig{
			Backend: CredentialsFile,
			Path:    "./data/credentials.json",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "tbdash:",
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/tbdash.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			ClientID:    "tbdash",
			QoS:         1,
			TopicPrefix: "tbdash",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "tbdash",
			Bucket:        "telemetry",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Dashboard: DashboardConfig{
			Enabled:  true,
			Schedule: "@every 30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Endpoints: the unprefixed names come first so TBDASH_* wins when both are set
	if v := os.Getenv("THINGSBOARD_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("TBDASH_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("MQTT_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("TBDASH_BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("TBDASH_BACKEND_REFRESH_PATH"); v != "" {
		cfg.Backend.RefreshPath = v
	}

	// Credentials
	if v := os.Getenv("TBDASH_CREDENTIALS_BACKEND"); v != "" {
		cfg.Credentials.Backend = v
	}
	if v := os.Getenv("TBDASH_CREDENTIALS_PATH"); v != "" {
		cfg.Credentials.Path = v
	}
	if v := os.Getenv("TBDASH_CREDENTIALS_SECRET"); v != "" {
		cfg.Credentials.Secret = v
	}
	if v := os.Getenv("TBDASH_REDIS_ADDR"); v != "" {
		cfg.Credentials.Redis.Addr = v
	}
	if v := os.Getenv("TBDASH_REDIS_PASSWORD"); v != "" {
		cfg.Credentials.Redis.Password = v
	}
	if v := os.Getenv("TBDASH_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Credentials.Redis.DB = n
		}
	}

	// Database
	if v := os.Getenv("TBDASH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TBDASH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("TBDASH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	// InfluxDB
	if v := os.Getenv("TBDASH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("TBDASH_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Logging
	if v := os.Getenv("TBDASH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Backend validation
	if u, err := url.Parse(c.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "backend.url must be an absolute http(s) URL")
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, "backend.timeout must be positive")
	}
	if c.Backend.RPCTimeout <= 0 {
		errs = append(errs, "backend.rpc_timeout must be positive")
	}
	if !strings.HasPrefix(c.Backend.RefreshPath, "/") {
		errs = append(errs, "backend.refresh_path must start with /")
	}
	if c.Backend.PageSize < 1 {
		errs = append(errs, "backend.page_size must be at least 1")
	}

	// Credentials validation
	switch c.Credentials.Backend {
	case CredentialsMemory:
	case CredentialsFile:
		if c.Credentials.Path == "" {
			errs = append(errs, "credentials.path is required for the file backend")
		}
	case CredentialsSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite credential backend")
		}
	case CredentialsRedis:
		if c.Credentials.Redis.Addr == "" {
			errs = append(errs, "credentials.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("credentials.backend %q must be one of memory, file, sqlite, redis", c.Credentials.Backend))
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.Broker.URL == "" {
		errs = append(errs, "broker.url is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// API validation
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 || c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, "websocket.ping_interval, pong_timeout and max_message_size must be positive")
	}

	if c.Dashboard.Enabled && strings.TrimSpace(c.Dashboard.Schedule) == "" {
		errs = append(errs, "dashboard.schedule is required when the dashboard poller is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BackendTimeout returns the per-request backend timeout as a Duration.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.Timeout) * time.Second
}

// RPCTimeout returns the default two-way RPC timeout as a Duration.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.Backend.RPCTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
