// Package config loads the ledger service configuration from the environment,
// optionally layered over a YAML file named by LEDGER_CONFIG_FILE. Environment
// values win over the file; the file wins over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Replica kinds for the archive mirror.
const (
	ReplicaNone  = ""
	ReplicaS3    = "s3"
	ReplicaMinio = "minio"
)

// Config holds all ledger configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Auth       AuthConfig       `yaml:"auth"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Anchor     AnchorConfig     `yaml:"anchor"`
	Background BackgroundConfig `yaml:"background"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	TLSCertFile     string        `yaml:"tlsCertFile"`
	TLSKeyFile      string        `yaml:"tlsKeyFile"`
	ClientCAFile    string        `yaml:"clientCAFile"`
	RequireMTLS     bool          `yaml:"requireMTLS"`
	// MaxBodyBytes caps POST request bodies.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

// StorageConfig locates the line-delimited logs.
type StorageConfig struct {
	DataDir    string `yaml:"dataDir"`
	AuditLog   string `yaml:"auditLog"`
	MetricsLog string `yaml:"metricsLog"`
	ChunkSize  int    `yaml:"chunkSize"`
}

// AuditLogPath returns the audit log file, relative paths resolved under DataDir.
func (s StorageConfig) AuditLogPath() string { return s.resolve(s.AuditLog) }

// MetricsLogPath returns the metrics log file, relative paths resolved under DataDir.
func (s StorageConfig) MetricsLogPath() string { return s.resolve(s.MetricsLog) }

func (s StorageConfig) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.DataDir, p)
}

// ArchiveConfig holds WORM archive settings.
type ArchiveConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Root          string            `yaml:"root"`
	Kinds         []string          `yaml:"kinds"`
	Replica       string            `yaml:"replica"`
	RetentionDays int               `yaml:"retentionDays"`
	S3            S3ReplicaConfig   `yaml:"s3"`
	Minio         MinioReplicaConfig `yaml:"minio"`
}

// S3ReplicaConfig configures the S3 mirror.
type S3ReplicaConfig struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// MinioReplicaConfig configures the MinIO mirror.
type MinioReplicaConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"` //nolint:gosec // object store credential config
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// AuthConfig gates the write endpoints.
type AuthConfig struct {
	// Enabled requires a valid bearer token on write endpoints.
	Enabled bool `yaml:"enabled"`
	// RBACEnabled additionally requires one of the endpoint's roles.
	RBACEnabled   bool          `yaml:"rbacEnabled"`
	HMACSecret    string        `yaml:"hmacSecret"` //nolint:gosec // JWT verification secret config
	PublicKeyFile string        `yaml:"publicKeyFile"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	Leeway        time.Duration `yaml:"leeway"`
}

// KafkaConfig enables stream publication when Brokers is non-empty.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// AnchorConfig enables Postgres chain anchors when DatabaseURL is set.
type AnchorConfig struct {
	DatabaseURL string `yaml:"databaseURL"`
	SignerID    string `yaml:"signerId"`
	// SigningKey is a base64 Ed25519 seed; when empty an ephemeral key is generated.
	SigningKey string `yaml:"signingKey"` //nolint:gosec // signing key config
	// KMS, when its endpoint is set, replaces the local signing key.
	KMS KMSConfig `yaml:"kms"`
}

// KMSConfig points anchor signing at an external KMS.
type KMSConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	BearerToken string        `yaml:"bearerToken"` //nolint:gosec // kms credential config
	Timeout     time.Duration `yaml:"timeout"`
	CertFile    string        `yaml:"certFile"`
	KeyFile     string        `yaml:"keyFile"`
	CAFile      string        `yaml:"caFile"`
}

// Enabled reports whether anchoring is configured.
func (a AnchorConfig) Enabled() bool { return a.DatabaseURL != "" }

// BackgroundConfig bounds best-effort follow-up work.
type BackgroundConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"maxConcurrency"`
}

// LogConfig selects log level and output format ("json" or "text").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the built-in configuration, safe for local development only.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Storage: StorageConfig{
			DataDir:    "data",
			AuditLog:   "audit.jsonl",
			MetricsLog: "metrics.jsonl",
			ChunkSize:  8 * 1024,
		},
		Archive: ArchiveConfig{
			Enabled: true,
			Root:    filepath.Join("data", "archive"),
			Kinds:   []string{"audit", "metrics"},
		},
		Kafka: KafkaConfig{
			Topic:        "gxp.ledger",
			MaxAttempts:  3,
			WriteTimeout: 10 * time.Second,
		},
		Anchor: AnchorConfig{
			SignerID: "ledger-anchor-1",
			KMS:      KMSConfig{Timeout: 5 * time.Second},
		},
		Background: BackgroundConfig{
			Timeout:        30 * time.Second,
			MaxConcurrency: 8,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromEnv builds the configuration: defaults, then the optional YAML file,
// then environment variables, then Validate.
func LoadFromEnv() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("LEDGER_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, fmt.Errorf("config.LoadFromEnv: %w", err)
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return nil, fmt.Errorf("config.LoadFromEnv: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.LoadFromEnv: %w", err)
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	var err error
	c.Server.Addr = getEnv("LEDGER_LISTEN_ADDR", c.Server.Addr)
	if c.Server.ReadTimeout, err = getEnvDuration("LEDGER_READ_TIMEOUT", c.Server.ReadTimeout); err != nil {
		return err
	}
	if c.Server.WriteTimeout, err = getEnvDuration("LEDGER_WRITE_TIMEOUT", c.Server.WriteTimeout); err != nil {
		return err
	}
	if c.Server.ShutdownTimeout, err = getEnvDuration("LEDGER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout); err != nil {
		return err
	}
	c.Server.CORSOrigins = getEnvList("LEDGER_CORS_ORIGINS", c.Server.CORSOrigins)
	if c.Server.MaxBodyBytes, err = getEnvInt64("LEDGER_MAX_BODY_BYTES", c.Server.MaxBodyBytes); err != nil {
		return err
	}
	c.Server.TLSCertFile = getEnv("LEDGER_TLS_CERT_FILE", c.Server.TLSCertFile)
	c.Server.TLSKeyFile = getEnv("LEDGER_TLS_KEY_FILE", c.Server.TLSKeyFile)
	c.Server.ClientCAFile = getEnv("LEDGER_TLS_CLIENT_CA_FILE", c.Server.ClientCAFile)
	if c.Server.RequireMTLS, err = getEnvBool("LEDGER_REQUIRE_MTLS", c.Server.RequireMTLS); err != nil {
		return err
	}

	c.Storage.DataDir = getEnv("LEDGER_DATA_DIR", c.Storage.DataDir)
	c.Storage.AuditLog = getEnv("LEDGER_AUDIT_LOG", c.Storage.AuditLog)
	c.Storage.MetricsLog = getEnv("LEDGER_METRICS_LOG", c.Storage.MetricsLog)
	if c.Storage.ChunkSize, err = getEnvInt("LEDGER_SCAN_CHUNK_SIZE", c.Storage.ChunkSize); err != nil {
		return err
	}

	if c.Archive.Enabled, err = getEnvBool("LEDGER_ARCHIVE_ENABLED", c.Archive.Enabled); err != nil {
		return err
	}
	c.Archive.Root = getEnv("LEDGER_ARCHIVE_ROOT", c.Archive.Root)
	c.Archive.Kinds = getEnvList("LEDGER_ARCHIVE_KINDS", c.Archive.Kinds)
	c.Archive.Replica = getEnv("LEDGER_ARCHIVE_REPLICA", c.Archive.Replica)
	if c.Archive.RetentionDays, err = getEnvInt("LEDGER_ARCHIVE_RETENTION_DAYS", c.Archive.RetentionDays); err != nil {
		return err
	}
	c.Archive.S3.Bucket = getEnv("LEDGER_S3_BUCKET", c.Archive.S3.Bucket)
	c.Archive.S3.Prefix = getEnv("LEDGER_S3_PREFIX", c.Archive.S3.Prefix)
	c.Archive.S3.Region = getEnv("LEDGER_S3_REGION", c.Archive.S3.Region)
	c.Archive.S3.Endpoint = getEnv("LEDGER_S3_ENDPOINT", c.Archive.S3.Endpoint)
	c.Archive.Minio.Endpoint = getEnv("LEDGER_MINIO_ENDPOINT", c.Archive.Minio.Endpoint)
	c.Archive.Minio.AccessKey = getEnv("LEDGER_MINIO_ACCESS_KEY", c.Archive.Minio.AccessKey)
	c.Archive.Minio.SecretKey = getEnv("LEDGER_MINIO_SECRET_KEY", c.Archive.Minio.SecretKey)
	c.Archive.Minio.Region = getEnv("LEDGER_MINIO_REGION", c.Archive.Minio.Region)
	if c.Archive.Minio.UseSSL, err = getEnvBool("LEDGER_MINIO_USE_SSL", c.Archive.Minio.UseSSL); err != nil {
		return err
	}
	c.Archive.Minio.Bucket = getEnv("LEDGER_MINIO_BUCKET", c.Archive.Minio.Bucket)
	c.Archive.Minio.Prefix = getEnv("LEDGER_MINIO_PREFIX", c.Archive.Minio.Prefix)

	if c.Auth.Enabled, err = getEnvBool("LEDGER_AUTH_ENABLED", c.Auth.Enabled); err != nil {
		return err
	}
	if c.Auth.RBACEnabled, err = getEnvBool("LEDGER_RBAC_ENABLED", c.Auth.RBACEnabled); err != nil {
		return err
	}
	c.Auth.HMACSecret = getEnv("LEDGER_JWT_SECRET", c.Auth.HMACSecret)
	c.Auth.PublicKeyFile = getEnv("LEDGER_JWT_PUBLIC_KEY_FILE", c.Auth.PublicKeyFile)
	c.Auth.Issuer = getEnv("LEDGER_JWT_ISSUER", c.Auth.Issuer)
	c.Auth.Audience = getEnv("LEDGER_JWT_AUDIENCE", c.Auth.Audience)
	if c.Auth.Leeway, err = getEnvDuration("LEDGER_JWT_LEEWAY", c.Auth.Leeway); err != nil {
		return err
	}

	c.Kafka.Brokers = getEnvList("LEDGER_KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("LEDGER_KAFKA_TOPIC", c.Kafka.Topic)
	if c.Kafka.MaxAttempts, err = getEnvInt("LEDGER_KAFKA_MAX_ATTEMPTS", c.Kafka.MaxAttempts); err != nil {
		return err
	}
	if c.Kafka.WriteTimeout, err = getEnvDuration("LEDGER_KAFKA_WRITE_TIMEOUT", c.Kafka.WriteTimeout); err != nil {
		return err
	}

	c.Anchor.DatabaseURL = getEnv("LEDGER_DATABASE_URL", c.Anchor.DatabaseURL)
	c.Anchor.SignerID = getEnv("LEDGER_ANCHOR_SIGNER_ID", c.Anchor.SignerID)
	c.Anchor.SigningKey = getEnv("LEDGER_ANCHOR_SIGNING_KEY", c.Anchor.SigningKey)
	c.Anchor.KMS.Endpoint = getEnv("LEDGER_ANCHOR_KMS_ENDPOINT", c.Anchor.KMS.Endpoint)
	c.Anchor.KMS.BearerToken = getEnv("LEDGER_ANCHOR_KMS_BEARER_TOKEN", c.Anchor.KMS.BearerToken)
	if c.Anchor.KMS.Timeout, err = getEnvDuration("LEDGER_ANCHOR_KMS_TIMEOUT", c.Anchor.KMS.Timeout); err != nil {
		return err
	}
	c.Anchor.KMS.CertFile = getEnv("LEDGER_ANCHOR_KMS_MTLS_CERT", c.Anchor.KMS.CertFile)
	c.Anchor.KMS.KeyFile = getEnv("LEDGER_ANCHOR_KMS_MTLS_KEY", c.Anchor.KMS.KeyFile)
	c.Anchor.KMS.CAFile = getEnv("LEDGER_ANCHOR_KMS_CA", c.Anchor.KMS.CAFile)

	if c.Background.Timeout, err = getEnvDuration("LEDGER_BACKGROUND_TIMEOUT", c.Background.Timeout); err != nil {
		return err
	}
	if c.Background.MaxConcurrency, err = getEnvInt("LEDGER_BACKGROUND_CONCURRENCY", c.Background.MaxConcurrency); err != nil {
		return err
	}

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	return nil
}

// Validate checks required fields and combinations.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("LEDGER_LISTEN_ADDR must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive, got read=%s write=%s", c.Server.ReadTimeout, c.Server.WriteTimeout)
	}
	if c.Server.MaxBodyBytes < 1 {
		return fmt.Errorf("LEDGER_MAX_BODY_BYTES must be >= 1, got %d", c.Server.MaxBodyBytes)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return errors.New("LEDGER_TLS_CERT_FILE and LEDGER_TLS_KEY_FILE must be set together")
	}
	if c.Server.RequireMTLS && c.Server.ClientCAFile == "" {
		return errors.New("LEDGER_REQUIRE_MTLS needs LEDGER_TLS_CLIENT_CA_FILE")
	}
	if c.Storage.AuditLog == "" || c.Storage.MetricsLog == "" {
		return errors.New("audit and metrics log paths must not be empty")
	}
	if c.Storage.ChunkSize < 1 {
		return fmt.Errorf("LEDGER_SCAN_CHUNK_SIZE must be >= 1, got %d", c.Storage.ChunkSize)
	}

	if c.Archive.Enabled && c.Archive.Root == "" {
		return errors.New("LEDGER_ARCHIVE_ROOT is required when archival is enabled")
	}
	switch c.Archive.Replica {
	case ReplicaNone:
	case ReplicaS3:
		if c.Archive.S3.Bucket == "" {
			return errors.New("LEDGER_S3_BUCKET is required for the s3 replica")
		}
	case ReplicaMinio:
		if c.Archive.Minio.Endpoint == "" || c.Archive.Minio.Bucket == "" {
			return errors.New("LEDGER_MINIO_ENDPOINT and LEDGER_MINIO_BUCKET are required for the minio replica")
		}
	default:
		return fmt.Errorf("LEDGER_ARCHIVE_REPLICA must be one of s3, minio; got %q", c.Archive.Replica)
	}
	if c.Archive.Replica != ReplicaNone && !c.Archive.Enabled {
		return errors.New("an archive replica needs LEDGER_ARCHIVE_ENABLED=true")
	}

	if c.Auth.RBACEnabled && !c.Auth.Enabled {
		return errors.New("LEDGER_RBAC_ENABLED needs LEDGER_AUTH_ENABLED=true")
	}
	if c.Auth.Enabled {
		if c.Auth.HMACSecret == "" && c.Auth.PublicKeyFile == "" {
			return errors.New("LEDGER_JWT_SECRET or LEDGER_JWT_PUBLIC_KEY_FILE is required when auth is enabled")
		}
		if c.Auth.HMACSecret != "" && len(c.Auth.HMACSecret) < 32 {
			return errors.New("LEDGER_JWT_SECRET must be at least 32 characters")
		}
	} else {
		log.Warn().Msg("LEDGER_AUTH_ENABLED=false: write endpoints accept unauthenticated requests")
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("LEDGER_KAFKA_TOPIC is required when brokers are set")
	}
	if c.Anchor.Enabled() && c.Anchor.SignerID == "" {
		return errors.New("LEDGER_ANCHOR_SIGNER_ID is required when anchoring is enabled")
	}
	if c.Anchor.KMS.Endpoint != "" && c.Anchor.SigningKey != "" {
		return errors.New("set either LEDGER_ANCHOR_SIGNING_KEY or LEDGER_ANCHOR_KMS_ENDPOINT, not both")
	}
	if (c.Anchor.KMS.CertFile == "") != (c.Anchor.KMS.KeyFile == "") {
		return errors.New("LEDGER_ANCHOR_KMS_MTLS_CERT and LEDGER_ANCHOR_KMS_MTLS_KEY must be set together")
	}
	if c.Background.MaxConcurrency < 1 {
		return fmt.Errorf("LEDGER_BACKGROUND_CONCURRENCY must be >= 1, got %d", c.Background.MaxConcurrency)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}
	return nil
}
