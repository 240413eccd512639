package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	History   HistoryConfig   `mapstructure:"history"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig describes the Postgres connection. URL wins over the
// discrete fields when both are set.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// Enabled reports whether any connection target is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// DSN returns the connection string handed to lib/pq.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type GeminiConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	APIVersion      string        `mapstructure:"api_version"`
	Model           string        `mapstructure:"model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	Temperature     float64       `mapstructure:"temperature"`
	TopK            int           `mapstructure:"top_k"`
	TopP            float64       `mapstructure:"top_p"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
	SafetyThreshold string        `mapstructure:"safety_threshold"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// Diagnosis limits apply to POST /api/diagnosis/generate only.
	DiagnosisRequestsPerSecond float64 `mapstructure:"diagnosis_requests_per_second"`
	DiagnosisBurst             int     `mapstructure:"diagnosis_burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type HistoryConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// AuthConfig guards the patient routes when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type AlertsConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	SMTPUser string   `mapstructure:"smtp_user"`
	SMTPPass string   `mapstructure:"smtp_password"`
}

type OutboxConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxEventRetry  int           `mapstructure:"max_event_retry"`
	RetainFor      time.Duration `mapstructure:"retain_for"`
	ChannelPrefix  string        `mapstructure:"channel_prefix"`
	MetricsAddress string        `mapstructure:"metrics_address"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envOverrides are the flat variable names used by container deployments.
// They take precedence over the config file and the nested SECTION_KEY forms.
type envOverrides struct {
	Port         int    `envconfig:"PORT"`
	GinMode      string `envconfig:"GIN_MODE"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	GeminiModel  string `envconfig:"GEMINI_MODEL"`
	RedisURL     string `envconfig:"REDIS_URL"`
	JWTSecret    string `envconfig:"JWT_SECRET"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("gemini.model", "gemini-2.0-flash-exp")
	v.SetDefault("gemini.api_version", "v1beta")
	v.SetDefault("gemini.timeout", 60*time.Second)
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_backoff", 500*time.Millisecond)
	v.SetDefault("gemini.temperature", 0.3)
	v.SetDefault("gemini.top_k", 40)
	v.SetDefault("gemini.top_p", 0.95)
	v.SetDefault("gemini.max_output_tokens", 2048)
	v.SetDefault("gemini.safety_threshold", "BLOCK_MEDIUM_AND_ABOVE")

	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("rate_limit.diagnosis_requests_per_second", 1)
	v.SetDefault("rate_limit.diagnosis_burst", 5)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"})

	v.SetDefault("history.cache_ttl", 30*time.Second)

	v.SetDefault("alerts.smtp_port", 587)

	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", time.Second)
	v.SetDefault("outbox.max_event_retry", 5)
	v.SetDefault("outbox.retain_for", 7*24*time.Hour)
	v.SetDefault("outbox.channel_prefix", "diagnosis")
	v.SetDefault("outbox.metrics_address", ":9091")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// LoadConfig reads defaults, an optional config file, .env files and the
// process environment, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	// Missing .env files are normal outside local development.
	_ = godotenv.Load(".env", "config.env")

	v := viper.New()
	setDefaults(v)

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	cfg.applyOverrides(env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyOverrides(env envOverrides) {
	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	if env.GinMode != "" {
		c.Server.Mode = env.GinMode
	}
	if env.DatabaseURL != "" {
		c.Database.URL = env.DatabaseURL
	}
	if env.GeminiAPIKey != "" {
		c.Gemini.APIKey = env.GeminiAPIKey
	}
	if env.GeminiModel != "" {
		c.Gemini.Model = env.GeminiModel
	}
	if env.RedisURL != "" {
		c.Redis.URL = env.RedisURL
	}
	if env.JWTSecret != "" {
		c.Auth.JWTSecret = env.JWTSecret
	}
	if env.SMTPPassword != "" {
		c.Alerts.SMTPPass = env.SMTPPassword
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
}

// Validate rejects settings the server cannot start with. A missing Gemini
// key is allowed; diagnosis requests fail until one is configured.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_second and burst")
	}
	if c.Alerts.Enabled && (c.Alerts.SMTPHost == "" || len(c.Alerts.To) == 0) {
		return fmt.Errorf("alerts require smtp_host and at least one recipient")
	}
	return nil
}
