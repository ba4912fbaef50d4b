package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	OrderNumbersFromDatabase = "db"
	OrderNumbersFromRedis    = "redis"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StatsTTLSeconds       int
	AuthSecret            string
	AccessTokenTTLMinutes int
	OrderNumberSource     string
	OrderNumberPrefix     string
	LowStockThreshold     decimal.Decimal
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	statsTTL, err := strconv.Atoi(getEnv("STATS_TTL_SECONDS", "30"))
	if err != nil || statsTTL < 1 {
		statsTTL = 30
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	lowStock, err := decimal.NewFromString(getEnv("LOW_STOCK_THRESHOLD", "10"))
	if err != nil || !lowStock.IsPositive() {
		lowStock = decimal.NewFromInt(10)
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StatsTTLSeconds:       statsTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		OrderNumberSource:     strings.ToLower(getEnv("ORDER_NUMBER_SOURCE", OrderNumbersFromDatabase)),
		OrderNumberPrefix:     strings.ToUpper(getEnv("ORDER_NUMBER_PREFIX", "PDV")),
		LowStockThreshold:     lowStock,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}
