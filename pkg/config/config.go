package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig        `yaml:"server" envconfig:"SERVER"`
	Storage      StorageConfig       `yaml:"storage" envconfig:"STORAGE"`
	Logging      LoggingConfig       `yaml:"logging" envconfig:"LOGGING"`
	Participants []ParticipantConfig `yaml:"participants" ignored:"true"`
	Polling      PollingConfig       `yaml:"polling" envconfig:"POLLING"`
	Requests     RequestsConfig      `yaml:"requests" envconfig:"REQUESTS"`
	DID          DIDConfig           `yaml:"did" envconfig:"DID"`
	Events       EventsConfig        `yaml:"events" envconfig:"EVENTS"`
	Watchdog     WatchdogConfig      `yaml:"watchdog" envconfig:"WATCHDOG"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host    string     `yaml:"host" envconfig:"HOST"`
	Port    int        `yaml:"port" envconfig:"PORT"`
	BaseURL string     `yaml:"base_url" envconfig:"BASE_URL"`
	CORS    CORSConfig `yaml:"cors" envconfig:"CORS"`
}

// CORSConfig contains CORS configuration for the HTTP surface
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders   []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `yaml:"exposed_headers" envconfig:"EXPOSED_HEADERS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" envconfig:"MAX_AGE"` // seconds
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	Type    string        `yaml:"type" envconfig:"TYPE"` // memory, mongodb
	MongoDB MongoDBConfig `yaml:"mongodb" envconfig:"MONGODB"`
}

// MongoDBConfig contains MongoDB-specific configuration
type MongoDBConfig struct {
	URI            string `yaml:"uri" envconfig:"URI"`
	Database       string `yaml:"database" envconfig:"DATABASE"`
	Timeout        int    `yaml:"timeout" envconfig:"TIMEOUT"` // seconds
	ConnectRetries int    `yaml:"connect_retries" envconfig:"CONNECT_RETRIES"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" envconfig:"FORMAT"` // json, text
}

// ParticipantConfig describes a participant context this holder acts for.
// The private key is a PEM encoded P-256 key used to sign self-issued tokens.
type ParticipantConfig struct {
	ID             string `yaml:"id"`
	DID            string `yaml:"did"`
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// PollingConfig controls the lease-based polling engine
type PollingConfig struct {
	IntervalMillis          int `yaml:"interval_ms" envconfig:"INTERVAL_MS"`
	RequestedIntervalMillis int `yaml:"requested_interval_ms" envconfig:"REQUESTED_INTERVAL_MS"`
	BatchSize               int `yaml:"batch_size" envconfig:"BATCH_SIZE"`
	LeaseSeconds            int `yaml:"lease_seconds" envconfig:"LEASE_SECONDS"`
	Concurrency             int `yaml:"concurrency" envconfig:"CONCURRENCY"`
}

// RequestsConfig controls credential request handling
type RequestsConfig struct {
	TimeLimitMinutes   int `yaml:"time_limit_minutes" envconfig:"TIME_LIMIT_MINUTES"`
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds" envconfig:"HTTP_TIMEOUT_SECONDS"`
	TokenTTLSeconds    int `yaml:"token_ttl_seconds" envconfig:"TOKEN_TTL_SECONDS"`
}

// DIDConfig configures DID resolution
type DIDConfig struct {
	// Resolver is "http" (universal resolver style) or "authzen" (go-trust PDP)
	Resolver string `yaml:"resolver" envconfig:"RESOLVER"`
	// URL is the base URL of the resolver service
	URL string `yaml:"url" envconfig:"URL"`
	// Timeout is the HTTP timeout for resolution requests (seconds)
	Timeout int            `yaml:"timeout" envconfig:"TIMEOUT"`
	Cache   DIDCacheConfig `yaml:"cache" envconfig:"CACHE"`
}

// DIDCacheConfig configures caching of resolved DID documents
type DIDCacheConfig struct {
	// Type is "none", "memory" or "redis"
	Type       string      `yaml:"type" envconfig:"TYPE"`
	TTLSeconds int         `yaml:"ttl_seconds" envconfig:"TTL_SECONDS"`
	Redis      RedisConfig `yaml:"redis" envconfig:"REDIS"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Address   string `yaml:"address" envconfig:"ADDRESS"`
	Password  string `yaml:"password" envconfig:"PASSWORD"`
	DB        int    `yaml:"db" envconfig:"DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

// EventsConfig configures request state change publication
type EventsConfig struct {
	// Type is "none", "log" or "kafka"
	Type  string      `yaml:"type" envconfig:"TYPE"`
	Kafka KafkaConfig `yaml:"kafka" envconfig:"KAFKA"`
}

// KafkaConfig contains Kafka producer configuration
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" envconfig:"BROKERS"`
	Topic    string   `yaml:"topic" envconfig:"TOPIC"`
	ClientID string   `yaml:"client_id" envconfig:"CLIENT_ID"`
}

// WatchdogConfig controls periodic re-evaluation of stored credential status
type WatchdogConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" envconfig:"INTERVAL_SECONDS"` // 0 disables
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Load from YAML file if provided (overrides defaults)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("DCP", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Origin", "Content-Type", "Authorization"},
				MaxAge:         3600,
			},
		},
		Storage: StorageConfig{
			Type: "memory",
			MongoDB: MongoDBConfig{
				URI:            "mongodb://localhost:27017",
				Database:       "dcp_holder",
				Timeout:        10,
				ConnectRetries: 5,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Polling: PollingConfig{
			IntervalMillis:          1000,
			RequestedIntervalMillis: 5000,
			BatchSize:               5,
			LeaseSeconds:            60,
			Concurrency:             4,
		},
		Requests: RequestsConfig{
			TimeLimitMinutes:   60,
			HTTPTimeoutSeconds: 30,
			TokenTTLSeconds:    300,
		},
		DID: DIDConfig{
			Resolver: "http",
			URL:      "http://localhost:8180/1.0/identifiers",
			Timeout:  10,
			Cache: DIDCacheConfig{
				Type:       "memory",
				TTLSeconds: 300,
				Redis: RedisConfig{
					Address:   "localhost:6379",
					KeyPrefix: "dcp:did:",
				},
			},
		},
		Events: EventsConfig{
			Type: "log",
			Kafka: KafkaConfig{
				Topic:    "dcp.holder.requests",
				ClientID: "dcp-holder",
			},
		},
		Watchdog: WatchdogConfig{
			IntervalSeconds: 3600,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Storage.Type != "memory" && c.Storage.Type != "mongodb" {
		return fmt.Errorf("invalid storage type: %s (must be memory or mongodb)", c.Storage.Type)
	}

	if c.Storage.Type == "mongodb" && c.Storage.MongoDB.URI == "" {
		return fmt.Errorf("mongodb uri is required when using mongodb storage")
	}

	seen := make(map[string]bool, len(c.Participants))
	for i, p := range c.Participants {
		if p.ID == "" || p.DID == "" {
			return fmt.Errorf("participant %d: id and did are required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate participant id: %s", p.ID)
		}
		seen[p.ID] = true
	}

	if c.Polling.BatchSize < 1 {
		return fmt.Errorf("polling batch_size must be positive")
	}

	if c.Polling.IntervalMillis < 1 {
		return fmt.Errorf("polling interval_ms must be positive")
	}

	if c.Requests.TimeLimitMinutes < 1 {
		return fmt.Errorf("requests time_limit_minutes must be positive")
	}

	switch c.DID.Resolver {
	case "http", "authzen":
	default:
		return fmt.Errorf("invalid did resolver: %s (must be http or authzen)", c.DID.Resolver)
	}

	if c.DID.URL == "" {
		return fmt.Errorf("did resolver url is required")
	}

	switch c.DID.Cache.Type {
	case "", "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid did cache type: %s", c.DID.Cache.Type)
	}

	switch c.Events.Type {
	case "", "none", "log":
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			return fmt.Errorf("kafka brokers and topic are required when using kafka events")
		}
	default:
		return fmt.Errorf("invalid events type: %s", c.Events.Type)
	}

	return nil
}

// Address returns the server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PollInterval returns the default processor tick interval
func (c *PollingConfig) PollInterval() time.Duration {
	return time.Duration(c.IntervalMillis) * time.Millisecond
}

// RequestedPollInterval returns the tick interval for acknowledged requests
func (c *PollingConfig) RequestedPollInterval() time.Duration {
	if c.RequestedIntervalMillis <= 0 {
		return c.PollInterval()
	}
	return time.Duration(c.RequestedIntervalMillis) * time.Millisecond
}

// LeaseDuration returns how long a polling lease stays valid
func (c *PollingConfig) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// TimeLimit returns how long a request may stay REQUESTED
func (c *RequestsConfig) TimeLimit() time.Duration {
	return time.Duration(c.TimeLimitMinutes) * time.Minute
}

// HTTPTimeout returns the timeout for issuer HTTP calls
func (c *RequestsConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// TokenTTL returns the lifetime of self-issued bearer tokens
func (c *RequestsConfig) TokenTTL() time.Duration {
	if c.TokenTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

// Interval returns the watchdog period; zero disables the watchdog
func (c *WatchdogConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}
