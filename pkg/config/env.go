package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage backends selectable with STORAGE.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Settings 服务运行配置，来自环境变量和 .env 文件
type Settings struct {
	Port           string
	AllowedOrigins []string
	Storage        string
	RedisURL       string
	RabbitMQHost   string

	Location          *time.Location
	SettlementCron    string
	PoolRatio         decimal.Decimal
	MinUnit           decimal.Decimal
	ProcessingTimeout time.Duration

	ExecuteRateLimit float64
	ExecuteBurst     int

	// O-Coin price oracle polled by the worker; disabled when the URL is empty.
	OCoinPriceURL      string
	OCoinPriceInterval time.Duration
}

// LoadSettings reads the environment, loading .env first when it exists.
func LoadSettings() (*Settings, error) {
	// Don't fail if .env doesn't exist (might be prod env vars)
	_ = godotenv.Load()

	s := &Settings{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		Storage:        getEnv("STORAGE", StoragePostgres),
		RedisURL:       os.Getenv("REDIS_URL"),
		RabbitMQHost:   os.Getenv("RABBITMQ_HOST"),
		SettlementCron: getEnv("SETTLEMENT_CRON", "0 */5 * * * *"),
		OCoinPriceURL:  os.Getenv("O_COIN_PRICE_URL"),
	}
	if s.Storage != StoragePostgres && s.Storage != StorageMemory {
		return nil, fmt.Errorf("invalid STORAGE %q: want %s or %s", s.Storage, StoragePostgres, StorageMemory)
	}

	var err error
	if s.Location, err = time.LoadLocation(getEnv("SETTLEMENT_TIMEZONE", "Asia/Shanghai")); err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_TIMEZONE: %w", err)
	}
	if s.PoolRatio, err = decimal.NewFromString(getEnv("SETTLEMENT_POOL_RATIO", "0.4")); err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_POOL_RATIO: %w", err)
	}
	if s.PoolRatio.IsNegative() || s.PoolRatio.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("invalid SETTLEMENT_POOL_RATIO: %s is outside [0, 1]", s.PoolRatio)
	}
	if s.MinUnit, err = decimal.NewFromString(getEnv("SETTLEMENT_MIN_UNIT", "0.01")); err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_MIN_UNIT: %w", err)
	}
	if !s.MinUnit.IsPositive() {
		return nil, fmt.Errorf("invalid SETTLEMENT_MIN_UNIT: %s must be positive", s.MinUnit)
	}
	if s.ProcessingTimeout, err = time.ParseDuration(getEnv("SETTLEMENT_PROCESSING_TIMEOUT", "30m")); err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_PROCESSING_TIMEOUT: %w", err)
	}
	if s.ExecuteRateLimit, err = strconv.ParseFloat(getEnv("SETTLEMENT_EXECUTE_RPS", "0.2"), 64); err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_EXECUTE_RPS: %w", err)
	}
	if s.ExecuteBurst, err = strconv.Atoi(getEnv("SETTLEMENT_EXECUTE_BURST", "3")); err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_EXECUTE_BURST: %w", err)
	}
	if s.OCoinPriceInterval, err = time.ParseDuration(getEnv("O_COIN_PRICE_INTERVAL", "5m")); err != nil {
		return nil, fmt.Errorf("invalid O_COIN_PRICE_INTERVAL: %w", err)
	}
	if s.OCoinPriceInterval <= 0 {
		return nil, fmt.Errorf("invalid O_COIN_PRICE_INTERVAL: %s must be positive", s.OCoinPriceInterval)
	}
	return s, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

// splitList parses a comma-separated list, e.g. "http://localhost:3000,http://localhost:3001".
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
