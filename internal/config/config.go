// Package config loads the service configuration from environment variables.
//
// Environment Variables:
//
// Application:
//   - PORT: HTTP port (default: 8080)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - TLS_CERT_FILE, TLS_KEY_FILE: serve HTTPS when both are set
//
// Database:
//   - DATABASE_TYPE: "sqlite", "postgres" or "memory" (default: sqlite)
//   - DATABASE_PATH: SQLite file (default: ./melody_map.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//
// Redis (optional, enables distributed locks and deactivation events):
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB (0-15), REDIS_POOL_SIZE
//
// Security:
//   - JWT_SECRET: HMAC secret for API bearer tokens (required, at least 32 characters)
//   - ENCRYPTION_KEY: key for encrypting stored tokens (32 characters when provided)
//
// Providers:
//   - SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET, SPOTIFY_TOKEN_URL, SPOTIFY_API_URL
//   - DEEZER_APP_ID, DEEZER_SECRET, DEEZER_API_URL
//   - APPLE_MUSIC_ENABLED (default: true, mocked provider)
//
// Token lifecycle:
//   - TOKEN_EXPIRY_BUFFER (default: 5m), PROVIDER_TIMEOUT (default: 10s)
//   - SCHEDULER_ENABLED (default: true), REFRESH_INTERVAL (default: 30m)
//   - REFRESH_PACING (default: 100ms), STALE_RETENTION (default: 168h)
//
// Event brokers (connection events fan out to every listed broker):
//   - EVENT_BROKERS: comma list of redis_pubsub, redis_stream, rabbitmq, kafka, sns, sqs, pubsub
//     or "none" (default: redis_pubsub, ignored without Redis)
//   - REDIS_STREAM, REDIS_STREAM_MAX_LEN
//   - RABBITMQ_URL, RABBITMQ_EXCHANGE
//   - KAFKA_BROKERS, KAFKA_TOPIC, KAFKA_SECURITY_PROTOCOL, KAFKA_SASL_MECHANISM, KAFKA_SASL_USERNAME, KAFKA_SASL_PASSWORD
//   - AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SNS_TOPIC_ARN, AWS_SQS_QUEUE_URL, AWS_ENDPOINT_URL
//   - GCP_PROJECT_ID, GCP_PUBSUB_TOPIC, GCP_CREDENTIALS_FILE, GCP_PUBSUB_CREATE_TOPIC, GCP_PUBSUB_ORDERING
//
// Rate limiting:
//   - RATE_LIMIT_ENABLED (default: true), RATE_LIMIT_DEFAULT (default: 100), RATE_LIMIT_WINDOW (default: 60s)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Event broker names accepted in EVENT_BROKERS
const (
	BrokerRedisPubSub = "redis_pubsub"
	BrokerRedisStream = "redis_stream"
	BrokerRabbitMQ    = "rabbitmq"
	BrokerKafka       = "kafka"
	BrokerSNS         = "sns"
	BrokerSQS         = "sqs"
	BrokerPubSub      = "pubsub"
)

// Config holds all configuration values. Call Validate before use.
type Config struct {
	Port        string
	LogLevel    string
	TLSCertFile string
	TLSKeyFile  string

	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	JWTSecret     string
	EncryptionKey string

	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyTokenURL     string
	SpotifyAPIURL       string
	DeezerAppID         string
	DeezerSecret        string
	DeezerAPIURL        string
	AppleMusicEnabled   bool

	TokenExpiryBuffer string
	ProviderTimeout   string
	SchedulerEnabled  bool
	RefreshInterval   string
	RefreshPacing     string
	StaleRetention    string

	EventBrokers          string
	RedisStream           string
	RedisStreamMaxLen     string
	RabbitMQURL           string
	RabbitMQExchange      string
	KafkaBrokers          string
	KafkaTopic            string
	KafkaSecurityProtocol string
	KafkaSASLMechanism    string
	KafkaSASLUsername     string
	KafkaSASLPassword     string
	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSSNSTopicARN        string
	AWSSQSQueueURL        string
	AWSEndpointURL        string
	GCPProjectID          string
	GCPPubSubTopic        string
	GCPCredentialsFile    string
	GCPCreateTopic        bool
	GCPMessageOrdering    bool

	RateLimitEnabled bool
	RateLimitDefault string
	RateLimitWindow  string
}

// TokenSettings are the parsed token lifecycle durations
type TokenSettings struct {
	ExpiryBuffer    time.Duration
	ProviderTimeout time.Duration
	RefreshInterval time.Duration
	RefreshPacing   time.Duration
	StaleRetention  time.Duration
}

// Load creates a Config from the environment, applying defaults for unset keys
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./melody_map.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "melody_map"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		SpotifyClientID:     getEnv("SPOTIFY_CLIENT_ID", ""),
		SpotifyClientSecret: getEnv("SPOTIFY_CLIENT_SECRET", ""),
		SpotifyTokenURL:     getEnv("SPOTIFY_TOKEN_URL", "https://accounts.spotify.com/api/token"),
		SpotifyAPIURL:       getEnv("SPOTIFY_API_URL", "https://api.spotify.com/v1"),
		DeezerAppID:         getEnv("DEEZER_APP_ID", ""),
		DeezerSecret:        getEnv("DEEZER_SECRET", ""),
		DeezerAPIURL:        getEnv("DEEZER_API_URL", "https://api.deezer.com"),
		AppleMusicEnabled:   getBoolEnv("APPLE_MUSIC_ENABLED", true),

		TokenExpiryBuffer: getEnv("TOKEN_EXPIRY_BUFFER", "5m"),
		ProviderTimeout:   getEnv("PROVIDER_TIMEOUT", "10s"),
		SchedulerEnabled:  getBoolEnv("SCHEDULER_ENABLED", true),
		RefreshInterval:   getEnv("REFRESH_INTERVAL", "30m"),
		RefreshPacing:     getEnv("REFRESH_PACING", "100ms"),
		StaleRetention:    getEnv("STALE_RETENTION", "168h"),

		EventBrokers:          getEnv("EVENT_BROKERS", BrokerRedisPubSub),
		RedisStream:           getEnv("REDIS_STREAM", "melody-map:connections:stream"),
		RedisStreamMaxLen:     getEnv("REDIS_STREAM_MAX_LEN", "10000"),
		RabbitMQURL:           getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:      getEnv("RABBITMQ_EXCHANGE", "melody-map.events"),
		KafkaBrokers:          getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "melody-map.connections"),
		KafkaSecurityProtocol: getEnv("KAFKA_SECURITY_PROTOCOL", "PLAINTEXT"),
		KafkaSASLMechanism:    getEnv("KAFKA_SASL_MECHANISM", ""),
		KafkaSASLUsername:     getEnv("KAFKA_SASL_USERNAME", ""),
		KafkaSASLPassword:     getEnv("KAFKA_SASL_PASSWORD", ""),
		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSSNSTopicARN:        getEnv("AWS_SNS_TOPIC_ARN", ""),
		AWSSQSQueueURL:        getEnv("AWS_SQS_QUEUE_URL", ""),
		AWSEndpointURL:        getEnv("AWS_ENDPOINT_URL", ""),
		GCPProjectID:          getEnv("GCP_PROJECT_ID", ""),
		GCPPubSubTopic:        getEnv("GCP_PUBSUB_TOPIC", ""),
		GCPCredentialsFile:    getEnv("GCP_CREDENTIALS_FILE", ""),
		GCPCreateTopic:        getBoolEnv("GCP_PUBSUB_CREATE_TOPIC", false),
		GCPMessageOrdering:    getBoolEnv("GCP_PUBSUB_ORDERING", false),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitDefault: getEnv("RATE_LIMIT_DEFAULT", "100"),
		RateLimitWindow:  getEnv("RATE_LIMIT_WINDOW", "60s"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// SpotifyEnabled reports whether Spotify credentials are configured
func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

// DeezerEnabled reports whether Deezer credentials are configured
func (c *Config) DeezerEnabled() bool {
	return c.DeezerAppID != "" && c.DeezerSecret != ""
}

// IsPostgres reports whether the postgres backend is selected
func (c *Config) IsPostgres() bool {
	return c.DatabaseType == "postgres" || c.DatabaseType == "postgresql"
}

// Brokers returns the normalized EVENT_BROKERS list without duplicates.
// "none" or an empty value disables event publishing.
func (c *Config) Brokers() []string {
	seen := map[string]bool{}
	var names []string
	for _, name := range strings.Split(c.EventBrokers, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == "none" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// KafkaBrokerList splits KAFKA_BROKERS on commas
func (c *Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Tokens returns the parsed token lifecycle durations. Validate must have passed.
func (c *Config) Tokens() TokenSettings {
	parse := func(s string) time.Duration {
		d, _ := time.ParseDuration(s)
		return d
	}
	return TokenSettings{
		ExpiryBuffer:    parse(c.TokenExpiryBuffer),
		ProviderTimeout: parse(c.ProviderTimeout),
		RefreshInterval: parse(c.RefreshInterval),
		RefreshPacing:   parse(c.RefreshPacing),
		StaleRetention:  parse(c.StaleRetention),
	}
}

// Validate checks required fields, formats and cross-field dependencies
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql", "memory":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite', 'postgres' or 'memory'")
	}

	if c.IsPostgres() {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.EncryptionKey != "" && len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 characters when provided")
	}

	if (c.SpotifyClientID == "") != (c.SpotifyClientSecret == "") {
		return fmt.Errorf("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET must be set together")
	}
	if (c.DeezerAppID == "") != (c.DeezerSecret == "") {
		return fmt.Errorf("DEEZER_APP_ID and DEEZER_SECRET must be set together")
	}

	durations := []struct {
		key   string
		value string
	}{
		{"TOKEN_EXPIRY_BUFFER", c.TokenExpiryBuffer},
		{"PROVIDER_TIMEOUT", c.ProviderTimeout},
		{"REFRESH_INTERVAL", c.RefreshInterval},
		{"REFRESH_PACING", c.RefreshPacing},
		{"STALE_RETENTION", c.StaleRetention},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil || parsed < 0 {
			return fmt.Errorf("%s must be a valid non-negative duration (e.g., '30m', '10s')", d.key)
		}
	}
	if c.Tokens().RefreshInterval == 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be greater than zero")
	}
	if c.Tokens().ProviderTimeout == 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be greater than zero")
	}

	if err := c.validateBrokers(); err != nil {
		return err
	}

	if c.RateLimitEnabled {
		if limit, err := strconv.Atoi(c.RateLimitDefault); err != nil || limit < 1 {
			return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
		}
		if window, err := time.ParseDuration(c.RateLimitWindow); err != nil || window <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be a valid duration (e.g., '60s', '1m')")
		}
	}

	return nil
}

func (c *Config) validateBrokers() error {
	for _, name := range c.Brokers() {
		switch name {
		case BrokerRedisPubSub:
		case BrokerRedisStream:
			if c.RedisAddress == "" {
				return fmt.Errorf("EVENT_BROKERS %s requires REDIS_ADDRESS", name)
			}
			if n, err := strconv.Atoi(c.RedisStreamMaxLen); err != nil || n < 1 {
				return fmt.Errorf("REDIS_STREAM_MAX_LEN must be a positive number")
			}
		case BrokerRabbitMQ:
			if c.RabbitMQURL == "" {
				return fmt.Errorf("RABBITMQ_URL is required when EVENT_BROKERS includes rabbitmq")
			}
		case BrokerKafka:
			if len(c.KafkaBrokerList()) == 0 {
				return fmt.Errorf("KAFKA_BROKERS is required when EVENT_BROKERS includes kafka")
			}
		case BrokerSNS:
			if c.AWSSNSTopicARN == "" {
				return fmt.Errorf("AWS_SNS_TOPIC_ARN is required when EVENT_BROKERS includes sns")
			}
		case BrokerSQS:
			if c.AWSSQSQueueURL == "" {
				return fmt.Errorf("AWS_SQS_QUEUE_URL is required when EVENT_BROKERS includes sqs")
			}
		case BrokerPubSub:
			if c.GCPProjectID == "" || c.GCPPubSubTopic == "" {
				return fmt.Errorf("GCP_PROJECT_ID and GCP_PUBSUB_TOPIC are required when EVENT_BROKERS includes pubsub")
			}
		default:
			return fmt.Errorf("EVENT_BROKERS contains unknown broker %q", name)
		}
	}
	return nil
}
