package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Provider  ProviderConfig
	Ingestion IngestionConfig
	SMTP      SMTPConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationsDir string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers          []string
	TopicActivations string
}

type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
}

type IngestionConfig struct {
	Interval        time.Duration
	FreshnessWindow time.Duration
	FreshHorizon    time.Duration
	Workers         int
	ShutdownGrace   time.Duration
	CacheTTL        time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "weatherhub_user"),
			Password:      getEnv("DB_PASSWORD", "weatherhub_pass"),
			DBName:        getEnv("DB_NAME", "weatherhub_db"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:          strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicActivations: getEnv("KAFKA_TOPIC_ACTIVATIONS", "weatherhub.alert.activations"),
		},
		Provider: ProviderConfig{
			BaseURL:        getEnv("OPENWEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5"),
			APIKey:         getEnv("OPENWEATHER_API_KEY", ""),
			Timeout:        getEnvAsDuration("OPENWEATHER_TIMEOUT", 30*time.Second),
			RequestsPerSec: getEnvAsFloat("OPENWEATHER_REQUESTS_PER_SEC", 1),
			Burst:          getEnvAsInt("OPENWEATHER_BURST", 5),
		},
		Ingestion: IngestionConfig{
			Interval:        getEnvAsDuration("INGEST_INTERVAL", 60*time.Minute),
			FreshnessWindow: getEnvAsDuration("INGEST_FRESHNESS_WINDOW", time.Hour),
			FreshHorizon:    getEnvAsDuration("INGEST_FRESH_HORIZON", 2*time.Hour),
			Workers:         getEnvAsInt("INGEST_WORKERS", 4),
			ShutdownGrace:   getEnvAsDuration("INGEST_SHUTDOWN_GRACE", 30*time.Second),
			CacheTTL:        getEnvAsDuration("INGEST_CACHE_TTL", 24*time.Hour),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "weatherhub@example.com"),
			To:       getEnv("SMTP_TO", "admin@example.com"),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
