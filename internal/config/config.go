package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultClinic  string        `mapstructure:"DEFAULT_CLINIC"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MaxUploadMB    int           `mapstructure:"MAX_UPLOAD_MB"`
	PhoneRegion    string        `mapstructure:"PHONE_REGION"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	RedisURL      string        `mapstructure:"REDIS_URL"`
	SettingsCache time.Duration `mapstructure:"SETTINGS_CACHE_TTL"`

	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`

	S3Endpoint   string        `mapstructure:"S3_ENDPOINT"`
	S3Region     string        `mapstructure:"S3_REGION"`
	S3Bucket     string        `mapstructure:"S3_BUCKET"`
	S3AccessKey  string        `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey  string        `mapstructure:"S3_SECRET_KEY"`
	S3PresignTTL time.Duration `mapstructure:"S3_PRESIGN_TTL"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
	PublicURL    string `mapstructure:"PUBLIC_URL"`

	GeminiAPIKey     string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel      string        `mapstructure:"GEMINI_MODEL"`
	CloudOCREndpoint string        `mapstructure:"CLOUD_OCR_ENDPOINT"`
	CloudOCRAPIKey   string        `mapstructure:"CLOUD_OCR_API_KEY"`
	HybridOCRURL     string        `mapstructure:"HYBRID_OCR_ENDPOINT"`
	InferenceTimeout time.Duration `mapstructure:"INFERENCE_TIMEOUT"`

	OTLPEndpoint   string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure   bool    `mapstructure:"OTEL_INSECURE"`
	OTELSampleRate float64 `mapstructure:"OTEL_SAMPLE_RATE"`
}

var defaults = map[string]interface{}{
	"PORT":               "8000",
	"ENV":                "development",
	"DB_MAX_CONNS":       20,
	"DB_MIN_CONNS":       2,
	"DEFAULT_CLINIC":     "main",
	"CORS_ORIGINS":       "http://localhost:3000",
	"REQUEST_TIMEOUT":    "90s",
	"MAX_UPLOAD_MB":      10,
	"PHONE_REGION":       "US",
	"RATE_LIMIT_RPS":     50,
	"RATE_LIMIT_BURST":   100,
	"SETTINGS_CACHE_TTL": "30s",
	"LOG_LEVEL":          "info",
	"LOG_MAX_SIZE_MB":    100,
	"LOG_MAX_BACKUPS":    5,
	"LOG_MAX_AGE_DAYS":   28,
	"S3_REGION":          "us-east-1",
	"S3_PRESIGN_TTL":     "5m",
	"SMTP_PORT":          587,
	"SMTP_FROM":          "CardioDx <no-reply@cardiodx.local>",
	"PUBLIC_URL":         "http://localhost:3000",
	"GEMINI_MODEL":       "gemini-2.5-flash",
	"INFERENCE_TIMEOUT":  "60s",
	"OTEL_SAMPLE_RATE":   1.0,
}

// keys lists every variable the service reads. Each is bound explicitly so
// Unmarshal sees values that exist only in the environment.
var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_CLINIC",
	"CORS_ORIGINS", "REQUEST_TIMEOUT", "MAX_UPLOAD_MB", "PHONE_REGION",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REDIS_URL", "SETTINGS_CACHE_TTL",
	"LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS",
	"S3_ENDPOINT", "S3_REGION", "S3_BUCKET", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_PRESIGN_TTL",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM", "PUBLIC_URL",
	"GEMINI_API_KEY", "GEMINI_MODEL", "CLOUD_OCR_ENDPOINT", "CLOUD_OCR_API_KEY",
	"HYBRID_OCR_ENDPOINT", "INFERENCE_TIMEOUT",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_INSECURE", "OTEL_SAMPLE_RATE",
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first; variables already set are never overridden.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MaxUploadBytes is the per-file upload ceiling.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (ENV=%q)", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters in production")
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
	}
	if c.SMTPHost != "" && c.SMTPPort <= 0 {
		return fmt.Errorf("SMTP_PORT must be positive when SMTP_HOST is set")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %v", c.OTELSampleRate)
	}
	return nil
}
