// Package config provides configuration management and environment variable handling for the application
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration of the price sync service
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Cache     CacheConfig     `json:"cache"`
	Server    ServerConfig    `json:"server"`
	JWT       JWTConfig       `json:"jwt"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
	Shopify   ShopifyConfig   `json:"shopify"`
	GoldAPI   GoldAPIConfig   `json:"goldapi"`
	Pricing   PricingConfig   `json:"pricing"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Email     EmailConfig     `json:"email"`
	Reports   ReportsConfig   `json:"reports"`
	Storage   StorageConfig   `json:"storage"`
	Events    EventsConfig    `json:"events"`
}

type DatabaseConfig struct {
	Enabled         bool          `json:"enabled"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

type CacheConfig struct {
	Enabled     bool          `json:"enabled"`
	RedisURL    string        `json:"redis_url"`
	RedisDB     int           `json:"redis_db"`
	RedisPrefix string        `json:"redis_prefix"`
	RateTTL     time.Duration `json:"rate_ttl"`
	RunLockTTL  time.Duration `json:"run_lock_ttl"`
	PingEvery   time.Duration `json:"ping_every"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	AllowedOrigins  []string      `json:"allowed_origins"`
	RateLimit       int           `json:"rate_limit"` // requests per minute
	RunTimeout      time.Duration `json:"run_timeout"`
}

type JWTConfig struct {
	SecretKey      string        `json:"secret_key"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // json, text
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type ShopifyConfig struct {
	ShopURL           string        `json:"shop_url"`
	AccessToken       string        `json:"-"`
	APIVersion        string        `json:"api_version"`
	ThemeID           string        `json:"theme_id"`
	RateNamespace     string        `json:"rate_namespace"`
	VariantNamespace  string        `json:"variant_namespace"`
	PageSize          int           `json:"page_size"`
	PageDelay         time.Duration `json:"page_delay"`
	Timeout           time.Duration `json:"timeout"`
	PushSettings      bool          `json:"push_settings"`
	SettingsAssetPath string        `json:"settings_asset_path"`
}

type GoldAPIConfig struct {
	APIKey  string        `json:"-"`
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

type PricingConfig struct {
	Currency       string  `json:"currency"`
	TaxPercentage  float64 `json:"tax_percentage"`
	RatePrecedence string  `json:"rate_precedence"` // product, run
	Workers        int     `json:"workers"`
}

type SchedulerConfig struct {
	Enabled        bool          `json:"enabled"`
	Interval       time.Duration `json:"interval"`
	SkipMetafields bool          `json:"skip_metafields"`
	DryRun         bool          `json:"dry_run"`
}

type EmailConfig struct {
	Enabled        bool          `json:"enabled"`
	SMTPServer     string        `json:"smtp_server"`
	SMTPPort       int           `json:"smtp_port"`
	SenderEmail    string        `json:"sender_email"`
	SenderPassword string        `json:"-"`
	RecipientEmail string        `json:"recipient_email"`
	Timeout        time.Duration `json:"timeout"`
}

type ReportsConfig struct {
	SummaryFile string `json:"summary_file"`
	XLSXDir     string `json:"xlsx_dir"`
}

type StorageConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"-"`
	SecretKey string `json:"-"`
	Bucket    string `json:"bucket"`
	UseSSL    bool   `json:"use_ssl"`
	Prefix    string `json:"prefix"`
}

type EventsConfig struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// Mode selects which parts of the configuration must be valid.
type Mode string

const (
	ModeRun   Mode = "run"
	ModeServe Mode = "serve"
	ModeRates Mode = "rates"
	ModeToken Mode = "token"
)

// LoadConfig loads configuration from the environment, after merging envFile
// when it exists. Variables already set in the environment win.
func LoadConfig(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Enabled:         getEnvBool("DB_ENABLED", false),
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "metal_price_sync"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", false),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "metal-price-sync:"),
			RateTTL:     getEnvDuration("CACHE_RATE_TTL", 5*time.Minute),
			RunLockTTL:  getEnvDuration("CACHE_RUN_LOCK_TTL", 30*time.Minute),
			PingEvery:   getEnvDuration("CACHE_PING_INTERVAL", 30*time.Second),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Minute),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 1024*1024),
			AllowedOrigins:  getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimit:       getEnvInt("GLOBAL_RATE_LIMIT", 120),
			RunTimeout:      getEnvDuration("SERVER_RUN_TIMEOUT", 30*time.Minute),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 24*time.Hour),
			Issuer:         getEnvString("JWT_ISSUER", "metal-price-sync"),
			Audience:       getEnvString("JWT_AUDIENCE", "metal-price-sync-admin"),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Format:     getEnvString("LOG_FORMAT", "json"),
			Output:     getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:   getEnvString("LOG_FILE_PATH", "logs/price_update.log"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Shopify: ShopifyConfig{
			ShopURL:           getEnvString("SHOPIFY_SHOP_URL", ""),
			AccessToken:       getEnvString("SHOPIFY_ACCESS_TOKEN", ""),
			APIVersion:        getEnvString("SHOPIFY_API_VERSION", "2024-01"),
			ThemeID:           getEnvString("SHOPIFY_THEME_ID", ""),
			RateNamespace:     getEnvString("SHOPIFY_RATE_NAMESPACE", "jhango"),
			VariantNamespace:  getEnvString("SHOPIFY_VARIANT_NAMESPACE", "custom"),
			PageSize:          getEnvInt("SHOPIFY_PAGE_SIZE", 250),
			PageDelay:         getEnvDuration("SHOPIFY_PAGE_DELAY", 500*time.Millisecond),
			Timeout:           getEnvDuration("SHOPIFY_TIMEOUT", 30*time.Second),
			PushSettings:      getEnvBool("SHOPIFY_PUSH_SETTINGS", false),
			SettingsAssetPath: getEnvString("SHOPIFY_SETTINGS_ASSET", "config/settings_data.json"),
		},
		GoldAPI: GoldAPIConfig{
			APIKey:  getEnvString("GOLDAPI_KEY", ""),
			BaseURL: getEnvString("GOLDAPI_BASE_URL", "https://www.goldapi.io/api"),
			Timeout: getEnvDuration("GOLDAPI_TIMEOUT", 30*time.Second),
		},
		Pricing: PricingConfig{
			Currency:       strings.ToUpper(getEnvString("CURRENCY", "INR")),
			TaxPercentage:  getEnvFloat("TAX_PERCENTAGE", 3.0),
			RatePrecedence: getEnvString("RATE_PRECEDENCE", "product"),
			Workers:        getEnvInt("PRICE_WORKERS", 1),
		},
		Scheduler: SchedulerConfig{
			Enabled:        getEnvBool("SCHEDULER_ENABLED", true),
			Interval:       getEnvDuration("RUN_INTERVAL", 24*time.Hour),
			SkipMetafields: getEnvBool("SCHEDULER_SKIP_METAFIELDS", false),
			DryRun:         getEnvBool("SCHEDULER_DRY_RUN", false),
		},
		Email: EmailConfig{
			Enabled:        getEnvBool("EMAIL_ENABLED", os.Getenv("SENDER_EMAIL") != ""),
			SMTPServer:     getEnvString("SMTP_SERVER", "smtp.gmail.com"),
			SMTPPort:       getEnvInt("SMTP_PORT", 587),
			SenderEmail:    getEnvString("SENDER_EMAIL", ""),
			SenderPassword: getEnvString("SENDER_PASSWORD", ""),
			RecipientEmail: getEnvString("RECIPIENT_EMAIL", ""),
			Timeout:        getEnvDuration("SMTP_TIMEOUT", 30*time.Second),
		},
		Reports: ReportsConfig{
			SummaryFile: getEnvString("SUMMARY_FILE", "price_update_summary.json"),
			XLSXDir:     getEnvString("REPORT_XLSX_DIR", ""),
		},
		Storage: StorageConfig{
			Enabled:   getEnvBool("STORAGE_ENABLED", false),
			Endpoint:  getEnvString("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey: getEnvString("STORAGE_ACCESS_KEY", ""),
			SecretKey: getEnvString("STORAGE_SECRET_KEY", ""),
			Bucket:    getEnvString("STORAGE_BUCKET", "price-runs"),
			UseSSL:    getEnvBool("STORAGE_USE_SSL", true),
			Prefix:    getEnvString("STORAGE_PREFIX", "runs/"),
		},
		Events: EventsConfig{
			Enabled: getEnvBool("EVENTS_ENABLED", false),
			Brokers: getEnvStringSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnvString("KAFKA_TOPIC", "price-runs"),
		},
	}

	return cfg, nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateConfig validates the configuration for the given mode
func ValidateConfig(cfg *Config, mode Mode) error {
	var errors []string

	// Storefront access is needed by everything except token minting
	if mode != ModeToken && mode != ModeRates {
		if cfg.Shopify.ShopURL == "" {
			errors = append(errors, "SHOPIFY_SHOP_URL is required")
		}
		if cfg.Shopify.AccessToken == "" {
			errors = append(errors, "SHOPIFY_ACCESS_TOKEN is required")
		}
		if cfg.Shopify.ThemeID == "" {
			errors = append(errors, "SHOPIFY_THEME_ID is required")
		}
		if cfg.Shopify.PageSize <= 0 || cfg.Shopify.PageSize > 250 {
			errors = append(errors, "SHOPIFY_PAGE_SIZE must be between 1 and 250")
		}
	}

	if mode == ModeRates && cfg.GoldAPI.APIKey == "" {
		errors = append(errors, "GOLDAPI_KEY is required")
	}
	if cfg.GoldAPI.BaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.GoldAPI.BaseURL); err != nil {
			errors = append(errors, "GOLDAPI_BASE_URL must be a valid URL")
		}
	}

	// Pricing
	if len(cfg.Pricing.Currency) != 3 {
		errors = append(errors, "CURRENCY must be a 3-letter code")
	}
	if cfg.Pricing.TaxPercentage < 0 {
		errors = append(errors, "TAX_PERCENTAGE must not be negative")
	}
	if cfg.Pricing.RatePrecedence != "product" && cfg.Pricing.RatePrecedence != "run" {
		errors = append(errors, "RATE_PRECEDENCE must be one of: product, run")
	}
	if cfg.Pricing.Workers < 1 {
		errors = append(errors, "PRICE_WORKERS must be at least 1")
	}

	if mode == ModeServe || mode == ModeToken {
		if len(cfg.JWT.SecretKey) < 32 {
			errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
		}
		if cfg.JWT.AccessTokenTTL <= 0 {
			errors = append(errors, "JWT_ACCESS_TOKEN_TTL must be positive")
		}
	}

	if mode == ModeServe {
		if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
			errors = append(errors, "SERVER_PORT must be between 1 and 65535")
		}
		if cfg.Scheduler.Enabled && cfg.Scheduler.Interval < time.Minute {
			errors = append(errors, "RUN_INTERVAL must be at least 1m")
		}
	}

	if cfg.Database.Enabled {
		if cfg.Database.Host == "" {
			errors = append(errors, "DB_HOST is required")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errors = append(errors, "DB_PORT must be between 1 and 65535")
		}
	}

	if cfg.Email.Enabled {
		if cfg.Email.SenderEmail == "" || cfg.Email.SenderPassword == "" {
			errors = append(errors, "SENDER_EMAIL and SENDER_PASSWORD are required for email reports")
		}
		if cfg.Email.RecipientEmail == "" {
			errors = append(errors, "RECIPIENT_EMAIL is required for email reports")
		}
	}

	if cfg.Storage.Enabled && (cfg.Storage.AccessKey == "" || cfg.Storage.SecretKey == "") {
		errors = append(errors, "STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required when storage is enabled")
	}

	if cfg.Events.Enabled && cfg.Events.Topic == "" {
		errors = append(errors, "KAFKA_TOPIC is required when events are enabled")
	}

	// Validate logging configuration
	if cfg.Logging.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		valid := false
		for _, level := range validLevels {
			if cfg.Logging.Level == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
