package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	AppBaseURL    string   `mapstructure:"APP_BASE_URL"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`
	ClinicTZ      string   `mapstructure:"CLINIC_TIMEZONE"`
	MigrationsDir string   `mapstructure:"MIGRATIONS_DIR"`

	// Sessions and signed account tokens
	SessionStore        string        `mapstructure:"SESSION_STORE"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	SessionTTL          time.Duration `mapstructure:"SESSION_TTL"`
	SessionCookieName   string        `mapstructure:"SESSION_COOKIE_NAME"`
	SessionCookieSecure bool          `mapstructure:"SESSION_COOKIE_SECURE"`
	TokenSigningKey     string        `mapstructure:"TOKEN_SIGNING_KEY"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// Email
	EmailDriver   string `mapstructure:"EMAIL_DRIVER"`
	EmailAPIURL   string `mapstructure:"EMAIL_API_URL"`
	EmailAPIKey   string `mapstructure:"EMAIL_API_KEY"`
	EmailFrom     string `mapstructure:"EMAIL_FROM"`
	EmailFromName string `mapstructure:"EMAIL_FROM_NAME"`
	SMTPHost      string `mapstructure:"SMTP_HOST"`
	SMTPPort      int    `mapstructure:"SMTP_PORT"`
	SMTPUsername  string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword  string `mapstructure:"SMTP_PASSWORD"`
	EmailQueue    string `mapstructure:"EMAIL_QUEUE"`
	SQSQueueURL   string `mapstructure:"SQS_QUEUE_URL"`

	// SMS
	SMSDriver        string `mapstructure:"SMS_DRIVER"`
	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `mapstructure:"TWILIO_FROM"`

	// ID image storage and OCR validation
	StorageDriver        string `mapstructure:"STORAGE_DRIVER"`
	StorageLocalDir      string `mapstructure:"STORAGE_LOCAL_DIR"`
	S3Bucket             string `mapstructure:"S3_BUCKET"`
	S3Prefix             string `mapstructure:"S3_PREFIX"`
	S3UsePathStyle       bool   `mapstructure:"S3_USE_PATH_STYLE"`
	VisionAPIURL         string `mapstructure:"VISION_API_URL"`
	VisionAPIKey         string `mapstructure:"VISION_API_KEY"`
	IDValidationRequired bool   `mapstructure:"ID_VALIDATION_REQUIRED"`

	QueuePollInterval time.Duration `mapstructure:"QUEUE_POLL_INTERVAL"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "APP_BASE_URL",
	"CORS_ORIGINS", "CLINIC_TIMEZONE", "MIGRATIONS_DIR",
	"SESSION_STORE", "REDIS_URL", "SESSION_TTL", "SESSION_COOKIE_NAME",
	"SESSION_COOKIE_SECURE", "TOKEN_SIGNING_KEY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"EMAIL_DRIVER", "EMAIL_API_URL", "EMAIL_API_KEY", "EMAIL_FROM", "EMAIL_FROM_NAME",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "EMAIL_QUEUE", "SQS_QUEUE_URL",
	"SMS_DRIVER", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM",
	"STORAGE_DRIVER", "STORAGE_LOCAL_DIR", "S3_BUCKET", "S3_PREFIX", "S3_USE_PATH_STYLE",
	"VISION_API_URL", "VISION_API_KEY", "ID_VALIDATION_REQUIRED",
	"QUEUE_POLL_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("APP_BASE_URL", "http://localhost:8000")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CLINIC_TIMEZONE", "Asia/Manila")
	v.SetDefault("SESSION_STORE", "memory")
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("SESSION_COOKIE_NAME", "clinic_session")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("EMAIL_DRIVER", "log")
	v.SetDefault("EMAIL_FROM", "clinic@localhost")
	v.SetDefault("EMAIL_FROM_NAME", "Campus Clinic")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("EMAIL_QUEUE", "none")
	v.SetDefault("SMS_DRIVER", "none")
	v.SetDefault("STORAGE_DRIVER", "local")
	v.SetDefault("STORAGE_LOCAL_DIR", "./storage")
	v.SetDefault("S3_PREFIX", "clinic")
	v.SetDefault("QUEUE_POLL_INTERVAL", "1m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.TokenSigningKey == "" {
		log.Println("WARNING: TOKEN_SIGNING_KEY is empty; using an insecure development key.")
		cfg.TokenSigningKey = "development-only-signing-key-change-me"
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CLINIC_TIMEZONE. Schedule dates and start times are wall
// clock values in this zone.
func (c *Config) Location() (*time.Location, error) {
	if c.ClinicTZ == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ClinicTZ)
	if err != nil {
		return nil, fmt.Errorf("invalid CLINIC_TIMEZONE %q: %w", c.ClinicTZ, err)
	}
	return loc, nil
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	switch c.SessionStore {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_STORE is \"redis\"")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be \"memory\" or \"redis\", got %q", c.SessionStore)
	}

	if len(c.TokenSigningKey) < 32 && c.IsProduction() {
		return fmt.Errorf("TOKEN_SIGNING_KEY must be at least 32 characters in production")
	}
	if c.TokenSigningKey == "" {
		return fmt.Errorf("TOKEN_SIGNING_KEY is required")
	}

	switch c.EmailDriver {
	case "log":
	case "api":
		if c.EmailAPIURL == "" || c.EmailAPIKey == "" {
			return fmt.Errorf("EMAIL_API_URL and EMAIL_API_KEY are required when EMAIL_DRIVER is \"api\"")
		}
	case "smtp":
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when EMAIL_DRIVER is \"smtp\"")
		}
	default:
		return fmt.Errorf("EMAIL_DRIVER must be \"log\", \"api\", or \"smtp\", got %q", c.EmailDriver)
	}

	switch c.EmailQueue {
	case "none":
	case "sqs":
		if c.SQSQueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required when EMAIL_QUEUE is \"sqs\"")
		}
	default:
		return fmt.Errorf("EMAIL_QUEUE must be \"none\" or \"sqs\", got %q", c.EmailQueue)
	}

	switch c.SMSDriver {
	case "none":
	case "twilio":
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFrom == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM are required when SMS_DRIVER is \"twilio\"")
		}
	default:
		return fmt.Errorf("SMS_DRIVER must be \"none\" or \"twilio\", got %q", c.SMSDriver)
	}

	switch c.StorageDriver {
	case "local":
		if c.StorageLocalDir == "" {
			return fmt.Errorf("STORAGE_LOCAL_DIR is required when STORAGE_DRIVER is \"local\"")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER is \"s3\"")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be \"local\" or \"s3\", got %q", c.StorageDriver)
	}

	if c.IDValidationRequired && c.VisionAPIURL == "" {
		return fmt.Errorf("VISION_API_URL is required when ID_VALIDATION_REQUIRED is true")
	}

	if c.QueuePollInterval < time.Second {
		return fmt.Errorf("QUEUE_POLL_INTERVAL must be at least 1s, got %s", c.QueuePollInterval)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}
