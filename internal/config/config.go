package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the security engine,
// loaded once from the environment at startup.
type Config struct {
	Environment string

	Server     ServerConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Clickhouse ClickhouseConfig
	Kafka      KafkaConfig
	Elastic    ElasticConfig
	KMS        KMSConfig
	Hashing    HashingConfig
	Bucketing  BucketingConfig
	Threat     ThreatConfig
	Session    SessionConfig
	Audit      AuditConfig
	GDPR       GDPRConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers           []string
	SecurityTopic     string
	NotificationTopic string
}

type ElasticConfig struct {
	Addresses  []string
	Username   string
	Password   string
	AlertIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	PepperRotationDays int
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

// ThreatConfig tunes the threat pattern matcher.
type ThreatConfig struct {
	BlockThreshold       int
	KnownBadIPs          []string
	HighRiskCountries    []string
	PatternCacheTTL      time.Duration
	BehaviorHistoryDays  int
	NightWindowStartHour int
	NightWindowEndHour   int
}

// SessionConfig tunes the session and MFA manager.
type SessionConfig struct {
	MaxActivePerUser   int
	IdleTimeout        time.Duration
	LockoutThreshold   int
	LockoutWindow      time.Duration
	SuspiciousIPLimit  int
	SuspiciousIPWindow time.Duration
	TOTPIssuer         string
}

// AuditConfig tunes the buffered audit trail writer.
type AuditConfig struct {
	FlushInterval  time.Duration
	BatchSize      int
	MaxBufferSize  int
	RetentionSweep time.Duration
}

type GDPRConfig struct {
	RequestDeadline  time.Duration
	ExportFormat     string
	VerificationTTL  time.Duration
	ProcessorTimeout time.Duration
}

var (
	globalConfig *Config
	once         sync.Once
)

// LoadConfig reads configuration from the environment. In development a .env
// file in the working directory is honoured; in production the environment is
// the only source.
func LoadConfig() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		cfg := &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				AutoCertDir:  getEnv("SERVER_AUTO_CERT_DIR", "/var/cache/autocert"),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				Email:        getEnv("SERVER_ADMIN_EMAIL", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "stronghold_security"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Database: getEnv("CLICKHOUSE_DATABASE", "stronghold_audit"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Brokers:           getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
				SecurityTopic:     getEnv("KAFKA_SECURITY_TOPIC", "security-events"),
				NotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "security-notifications"),
			},
			Elastic: ElasticConfig{
				Addresses:  getEnvList("ELASTICSEARCH_ADDRESSES", []string{"http://localhost:9200"}),
				Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
				Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
				AlertIndex: getEnv("ELASTICSEARCH_ALERT_INDEX", "security-alerts"),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("AWS_REGION", "us-east-1"),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:   getEnvInt("ARGON2_MEMORY_COST", 65536),
				Argon2TimeCost:     getEnvInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism:  getEnvInt("ARGON2_PARALLELISM", 4),
				PepperRotationDays: getEnvInt("PEPPER_ROTATION_DAYS", 30),
			},
			Bucketing: BucketingConfig{
				UserBuckets:  getEnvInt("USER_BUCKETS", 256),
				EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
			},
			Threat: ThreatConfig{
				BlockThreshold:       getEnvInt("THREAT_BLOCK_THRESHOLD", 85),
				KnownBadIPs:          getEnvList("THREAT_KNOWN_BAD_IPS", nil),
				HighRiskCountries:    getEnvList("THREAT_HIGH_RISK_COUNTRIES", []string{"KP", "IR", "SY", "CU"}),
				PatternCacheTTL:      getEnvDuration("THREAT_PATTERN_CACHE_TTL", 5*time.Minute),
				BehaviorHistoryDays:  getEnvInt("THREAT_BEHAVIOR_HISTORY_DAYS", 30),
				NightWindowStartHour: getEnvInt("THREAT_NIGHT_WINDOW_START", 23),
				NightWindowEndHour:   getEnvInt("THREAT_NIGHT_WINDOW_END", 6),
			},
			Session: SessionConfig{
				MaxActivePerUser:   getEnvInt("SESSION_MAX_ACTIVE", 5),
				IdleTimeout:        getEnvDuration("SESSION_IDLE_TIMEOUT", 24*time.Hour),
				LockoutThreshold:   getEnvInt("SESSION_LOCKOUT_THRESHOLD", 5),
				LockoutWindow:      getEnvDuration("SESSION_LOCKOUT_WINDOW", 15*time.Minute),
				SuspiciousIPLimit:  getEnvInt("SESSION_SUSPICIOUS_IP_LIMIT", 3),
				SuspiciousIPWindow: getEnvDuration("SESSION_SUSPICIOUS_IP_WINDOW", 30*time.Minute),
				TOTPIssuer:         getEnv("TOTP_ISSUER", "Stronghold"),
			},
			Audit: AuditConfig{
				FlushInterval:  getEnvDuration("AUDIT_FLUSH_INTERVAL", 5*time.Second),
				BatchSize:      getEnvInt("AUDIT_BATCH_SIZE", 500),
				MaxBufferSize:  getEnvInt("AUDIT_MAX_BUFFER_SIZE", 10000),
				RetentionSweep: getEnvDuration("AUDIT_RETENTION_SWEEP", 24*time.Hour),
			},
			GDPR: GDPRConfig{
				RequestDeadline:  getEnvDuration("GDPR_REQUEST_DEADLINE", 30*24*time.Hour),
				ExportFormat:     getEnv("GDPR_EXPORT_FORMAT", "json"),
				VerificationTTL:  getEnvDuration("GDPR_VERIFICATION_TTL", 48*time.Hour),
				ProcessorTimeout: getEnvDuration("GDPR_PROCESSOR_TIMEOUT", 5*time.Minute),
			},
		}

		globalConfig = cfg
	})

	return globalConfig
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ==============================
// Env parsing helpers
// ==============================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
