package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	AI       AIConfig       `mapstructure:"ai"`
	Tune     TuneConfig     `mapstructure:"tune"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Email    EmailConfig    `mapstructure:"email"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Environment  string        `mapstructure:"environment"` // development, production
	BaseURL      string        `mapstructure:"base_url"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// IsProduction reports whether the server runs in production mode.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AIConfig holds generation router configuration.
type AIConfig struct {
	PrimaryProvider     string        `mapstructure:"primary_provider"`
	FallbackProvider    string        `mapstructure:"fallback_provider"`
	FallbackEnabled     bool          `mapstructure:"fallback_enabled"`
	CacheEnabled        bool          `mapstructure:"cache_enabled"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	DegradedLatency     time.Duration `mapstructure:"degraded_latency"`
	FalAPIKey           string        `mapstructure:"fal_api_key"`
	LeonardoAPIKey      string        `mapstructure:"leonardo_api_key"`
}

// TuneConfig holds model-training workflow configuration.
type TuneConfig struct {
	Provider          string        `mapstructure:"provider"` // astria, fal
	AstriaAPIKey      string        `mapstructure:"astria_api_key"`
	FalAPIKey         string        `mapstructure:"fal_api_key"`
	WebhookSecret     string        `mapstructure:"webhook_secret"`
	RequiredPhotos    int           `mapstructure:"required_photos"`
	ResubmitWindow    time.Duration `mapstructure:"resubmit_window"`
	TrainingSteps     int           `mapstructure:"training_steps"`
	TriggerWordPrefix string        `mapstructure:"trigger_word_prefix"`
}

// PaymentConfig holds payment provider configuration.
type PaymentConfig struct {
	PolarWebhookSecret  string `mapstructure:"polar_webhook_secret"`
	StripeWebhookSecret string `mapstructure:"stripe_webhook_secret"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// JWTSecret verifies access tokens issued by the upstream identity
	// provider (Supabase); this service never mints tokens itself.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig holds object storage configuration (S3/R2-compatible).
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
}

// EmailConfig holds transactional email configuration.
type EmailConfig struct {
	ResendAPIKey string `mapstructure:"resend_api_key"`
	FromAddress  string `mapstructure:"from_address"`
	Enabled      bool   `mapstructure:"enabled"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/coolpix")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("COOLPIX")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if secret := os.Getenv("COOLPIX_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("COOLPIX_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if key := os.Getenv("FAL_API_KEY"); key != "" {
		cfg.AI.FalAPIKey = key
		cfg.Tune.FalAPIKey = key
	}
	if key := os.Getenv("LEONARDO_API_KEY"); key != "" {
		cfg.AI.LeonardoAPIKey = key
	}
	if key := os.Getenv("ASTRIA_API_KEY"); key != "" {
		cfg.Tune.AstriaAPIKey = key
	}
	if secret := os.Getenv("APP_WEBHOOK_SECRET"); secret != "" {
		cfg.Tune.WebhookSecret = secret
	}
	if secret := os.Getenv("POLAR_WEBHOOK_SECRET"); secret != "" {
		cfg.Payment.PolarWebhookSecret = secret
	}
	if secret := os.Getenv("STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Payment.StripeWebhookSecret = secret
	}
	if key := os.Getenv("RESEND_API_KEY"); key != "" {
		cfg.Email.ResendAPIKey = key
	}
	if key := os.Getenv("COOLPIX_STORAGE_SECRET_KEY"); key != "" {
		cfg.Storage.SecretAccessKey = key
	}

	// Production requires more training photos than development.
	if cfg.Tune.RequiredPhotos == 0 {
		if cfg.Server.IsProduction() {
			cfg.Tune.RequiredPhotos = 15
		} else {
			cfg.Tune.RequiredPhotos = 4
		}
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "coolpix")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// AI defaults
	v.SetDefault("ai.primary_provider", "fal")
	v.SetDefault("ai.fallback_provider", "leonardo")
	v.SetDefault("ai.fallback_enabled", true)
	v.SetDefault("ai.cache_enabled", true)
	v.SetDefault("ai.cache_ttl", time.Hour)
	v.SetDefault("ai.request_timeout", 60*time.Second)
	v.SetDefault("ai.health_check_interval", 30*time.Second)
	v.SetDefault("ai.degraded_latency", 10*time.Second)

	// Tune defaults
	v.SetDefault("tune.provider", "astria")
	v.SetDefault("tune.resubmit_window", 24*time.Hour)
	v.SetDefault("tune.training_steps", 1000)
	v.SetDefault("tune.trigger_word_prefix", "ohwx")

	// Email defaults
	v.SetDefault("email.from_address", "noreply@coolpix.me")
	v.SetDefault("email.enabled", false)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
