package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	DatabaseURL              string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	LaborRatePerHour         decimal.Decimal
	DefaultTaxRatePercent    decimal.Decimal
	ReminderDaysBefore       int
	ReminderMileageThreshold decimal.Decimal
	ReminderScanMinutes      int
	AuthSecret               string
	AccessTokenTTLMinutes    int
}

func Load() Config {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	daysBefore, err := strconv.Atoi(getEnv("REMINDER_DAYS_BEFORE", "3"))
	if err != nil || daysBefore < 0 {
		daysBefore = 3
	}
	scanMinutes, err := strconv.Atoi(getEnv("REMINDER_SCAN_MINUTES", "0"))
	if err != nil || scanMinutes < 0 {
		scanMinutes = 0
	}

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		LaborRatePerHour:         getDecimalEnv("LABOR_RATE_PER_HOUR", "1000.00"),
		DefaultTaxRatePercent:    getDecimalEnv("DEFAULT_TAX_RATE_PERCENT", "15.00"),
		ReminderDaysBefore:       daysBefore,
		ReminderMileageThreshold: getDecimalEnv("REMINDER_MILEAGE_THRESHOLD", "500"),
		ReminderScanMinutes:      scanMinutes,
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getDecimalEnv(key string, fallback string) decimal.Decimal {
	val := getEnv(key, fallback)
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.RequireFromString(fallback)
	}
	return d
}
