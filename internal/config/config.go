package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Server     ServerConfig
	JWT        JWTConfig
	Logging    LoggingConfig
	Encryption EncryptionConfig
	Audit      AuditConfig
	Retention  RetentionConfig
	AWS        AWSConfig
	CORS       CORSConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port string
}

type JWTConfig struct {
	SigningKey string
	Issuer     string
	Expiry     time.Duration
}

type LoggingConfig struct {
	Filename   string
	Level      string
	Format     string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// EncryptionConfig carries the master-key derivation inputs. The derived key
// itself never leaves the crypto package.
type EncryptionConfig struct {
	MasterSecret string
	KeySalt      string
	Iterations   int
}

type AuditConfig struct {
	FlushSize     int
	FlushInterval time.Duration
	TamperSkewMax time.Duration
	SecurityEmail string
}

type RetentionConfig struct {
	PolicyFile         string
	ApprovalGraceDays  int
	ExportBucketPrefix string
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
	Bucket          string
	FromEmail       string
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "compliance"),
			SSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		JWT: JWTConfig{
			SigningKey: getEnv("JWT_SIGNING_KEY", "default-signing-key-change-in-production"),
			Issuer:     getEnv("JWT_ISSUER", "brightpath-compliance"),
			Expiry:     getEnvDuration("JWT_EXPIRY", 1*time.Hour),
		},
		Logging: LoggingConfig{
			Filename:   getEnv("LOG_FILE", "logs/compliance.log"),
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "text"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAge:     getEnvInt("LOG_MAX_AGE_DAYS", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Encryption: EncryptionConfig{
			MasterSecret: getEnv("ENCRYPTION_MASTER_SECRET", ""),
			KeySalt:      getEnv("ENCRYPTION_KEY_SALT", "brightpath-key-derivation-salt"),
			Iterations:   getEnvInt("ENCRYPTION_KDF_ITERATIONS", 100_000),
		},
		Audit: AuditConfig{
			FlushSize:     getEnvInt("AUDIT_FLUSH_SIZE", 100),
			FlushInterval: getEnvDuration("AUDIT_FLUSH_INTERVAL", 5*time.Second),
			TamperSkewMax: getEnvDuration("AUDIT_TAMPER_SKEW_MAX", 60*time.Second),
			SecurityEmail: getEnv("AUDIT_SECURITY_EMAIL", "security@brightpath.example"),
		},
		Retention: RetentionConfig{
			PolicyFile:         getEnv("RETENTION_POLICY_FILE", "config/retention_policies.yaml"),
			ApprovalGraceDays:  getEnvInt("RETENTION_APPROVAL_GRACE_DAYS", 30),
			ExportBucketPrefix: getEnv("RETENTION_EXPORT_PREFIX", "exports"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			EndpointURL:     getEnv("AWS_ENDPOINT_URL", ""),
			Bucket:          getEnv("AWS_S3_BUCKET", "brightpath-data-exports"),
			FromEmail:       getEnv("AWS_SES_FROM_EMAIL", "no-reply@brightpath.example"),
		},
		CORS: CORSConfig{
			AllowedOrigins:   []string{getEnv("CORS_ALLOWED_ORIGIN", "*")},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300,
		},
	}
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
