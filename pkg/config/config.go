package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Log      LogConfig
	SMS      SMSConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SMSConfig configures the outbound SMS gateway and dispatch behaviour.
type SMSConfig struct {
	APIKey           string
	BaseURL          string
	BatchSize        int
	MaxRetries       int
	RetryDelay       time.Duration
	RequestTimeout   time.Duration
	RateLimit        int
	ChunkConcurrency int
	CreditCacheTTL   time.Duration
	StatusWorkers    int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.SMS = SMSConfig{
		APIKey:           v.GetString("WINSMS_API_KEY"),
		BaseURL:          strings.TrimRight(v.GetString("WINSMS_BASE_URL"), "/"),
		BatchSize:        v.GetInt("SMS_BATCH_SIZE"),
		MaxRetries:       v.GetInt("SMS_MAX_RETRIES"),
		RetryDelay:       parseDuration(v.GetString("SMS_RETRY_DELAY"), time.Second),
		RequestTimeout:   parseDuration(v.GetString("SMS_REQUEST_TIMEOUT"), 30*time.Second),
		RateLimit:        v.GetInt("SMS_RATE_LIMIT"),
		ChunkConcurrency: v.GetInt("SMS_CHUNK_CONCURRENCY"),
		CreditCacheTTL:   parseDuration(v.GetString("SMS_CREDIT_CACHE_TTL"), time.Minute),
		StatusWorkers:    v.GetInt("SMS_STATUS_WORKERS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_sms")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("WINSMS_BASE_URL", "https://api.winsms.co.za/api/rest/v1")
	v.SetDefault("SMS_BATCH_SIZE", 100)
	v.SetDefault("SMS_MAX_RETRIES", 3)
	v.SetDefault("SMS_RETRY_DELAY", "1s")
	v.SetDefault("SMS_REQUEST_TIMEOUT", "30s")
	v.SetDefault("SMS_RATE_LIMIT", 10)
	v.SetDefault("SMS_CHUNK_CONCURRENCY", 4)
	v.SetDefault("SMS_CREDIT_CACHE_TTL", "1m")
	v.SetDefault("SMS_STATUS_WORKERS", 2)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
