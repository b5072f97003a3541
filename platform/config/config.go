// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// LeadStoreConfig provides settings for the external lead store client.
type LeadStoreConfig interface {
	GetLeadStoreURL() string
	GetLeadStoreAPIKey() string
	GetLeadStoreTimeout() time.Duration
}

// NotifierConfig provides settings for the notification collaborator.
type NotifierConfig interface {
	GetNotifierURL() string
	GetNotifierTimeout() time.Duration
	IsNotifierEnabled() bool
}

// EmailConfig provides settings for assignment notification email.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetEmailNotifyAddress() string
}

// SchedulerConfig provides settings for the asynq background queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// SuppressionConfig provides settings for the recent-submission cache.
type SuppressionConfig interface {
	GetRedisURL() string
	GetSuppressionWindow() time.Duration
}

// MinIOConfig provides settings for the raw payload archive.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOBucketRawPayloads() string
	IsMinIOEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	JWTAccessSecret        string
	CORSAllowAll           bool
	CORSOrigins            []string
	CORSAllowCreds         bool
	LeadStoreURL           string
	LeadStoreAPIKey        string
	LeadStoreTimeout       time.Duration
	NotifierURL            string
	NotifierTimeout        time.Duration
	EmailEnabled           bool
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	EmailFromName          string
	EmailFromAddress       string
	EmailNotifyAddress     string
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqQueueName         string
	AsynqConcurrency       int
	SuppressionWindow      time.Duration
	MinIOEndpoint          string
	MinIOAccessKey         string
	MinIOSecretKey         string
	MinIOUseSSL            bool
	MinIOBucketRawPayloads string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// LeadStoreConfig implementation
func (c *Config) GetLeadStoreURL() string            { return c.LeadStoreURL }
func (c *Config) GetLeadStoreAPIKey() string         { return c.LeadStoreAPIKey }
func (c *Config) GetLeadStoreTimeout() time.Duration { return c.LeadStoreTimeout }

// NotifierConfig implementation
func (c *Config) GetNotifierURL() string            { return c.NotifierURL }
func (c *Config) GetNotifierTimeout() time.Duration { return c.NotifierTimeout }
func (c *Config) IsNotifierEnabled() bool           { return c.NotifierURL != "" }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool         { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string           { return c.SMTPHost }
func (c *Config) GetSMTPPort() int              { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string       { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string       { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string      { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string   { return c.EmailFromAddress }
func (c *Config) GetEmailNotifyAddress() string { return c.EmailNotifyAddress }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// SuppressionConfig implementation
func (c *Config) GetSuppressionWindow() time.Duration { return c.SuppressionWindow }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string          { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string         { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string         { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool              { return c.MinIOUseSSL }
func (c *Config) GetMinIOBucketRawPayloads() string { return c.MinIOBucketRawPayloads }
func (c *Config) IsMinIOEnabled() bool              { return c.MinIOEndpoint != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "false"), "true")

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		JWTAccessSecret:        getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:           corsAllowAll,
		CORSOrigins:            corsOrigins,
		CORSAllowCreds:         strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		LeadStoreURL:           getEnv("LEAD_STORE_URL", ""),
		LeadStoreAPIKey:        getEnv("LEAD_STORE_API_KEY", ""),
		LeadStoreTimeout:       mustDuration(getEnv("LEAD_STORE_TIMEOUT", "5s")),
		NotifierURL:            getEnv("NOTIFIER_URL", ""),
		NotifierTimeout:        mustDuration(getEnv("NOTIFIER_TIMEOUT", "3s")),
		EmailEnabled:           emailEnabled,
		SMTPHost:               getEnv("SMTP_HOST", ""),
		SMTPPort:               mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:           getEnv("SMTP_USERNAME", ""),
		SMTPPassword:           getEnv("SMTP_PASSWORD", ""),
		EmailFromName:          getEnv("EMAIL_FROM_NAME", "LeadHub"),
		EmailFromAddress:       getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailNotifyAddress:     getEnv("EMAIL_NOTIFY_ADDRESS", ""),
		RedisURL:               getEnv("REDIS_URL", ""),
		RedisTLSInsecure:       strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:         getEnv("ASYNQ_QUEUE", "leadhub"),
		AsynqConcurrency:       mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		SuppressionWindow:      mustDuration(getEnv("SUPPRESSION_WINDOW", "60s")),
		MinIOEndpoint:          getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:         getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:         getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:            strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOBucketRawPayloads: getEnv("MINIO_BUCKET_RAW_PAYLOADS", "raw-payloads"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.LeadStoreURL == "" {
		return nil, fmt.Errorf("LEAD_STORE_URL is required")
	}
	if cfg.EmailEnabled && (cfg.SMTPHost == "" || cfg.EmailFromAddress == "" || cfg.EmailNotifyAddress == "") {
		return nil, fmt.Errorf("SMTP_HOST, EMAIL_FROM_ADDRESS and EMAIL_NOTIFY_ADDRESS are required when EMAIL_ENABLED is true")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
