package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	DataDir           string
	LogLevel          string
	ReferenceCurrency string

	// Cost-basis policy: when true, reference-currency fee value is folded
	// into the cost basis of asset-for-asset swaps instead of being deducted
	// from the gain accumulator.
	IncludeFeeInCostBasis bool

	// Value fees at whole-day granularity to reduce oracle lookups.
	FeePriceDayGranularity bool

	// Reconciliation-confidence parameters. Empirically chosen defaults,
	// do not change them without evidence from real data.
	PriceDeviationLimit float64
	FeeErrorWeight      float64
	MaxCombinationError float64

	// Remote price fetching (optional; empty base URL disables it).
	PriceAPIBaseURL   string
	PriceFetchPerSec  float64
	PriceFetchBurst   int
}

var Cfg *AppConfig

func LoadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found. Relying on OS environment variables and defaults.")
	}

	Cfg = &AppConfig{
		DataDir:                getEnv("DATA_DIR", "./data"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		ReferenceCurrency:      getEnv("REFERENCE_CURRENCY", "EUR"),
		IncludeFeeInCostBasis:  getEnvAsBool("INCLUDE_FEE_IN_COST_BASIS", true),
		FeePriceDayGranularity: getEnvAsBool("FEE_PRICE_DAY_GRANULARITY", false),
		PriceDeviationLimit:    getEnvAsFloat("PRICE_DEVIATION_LIMIT", 0.2),
		FeeErrorWeight:         getEnvAsFloat("FEE_ERROR_WEIGHT", 0.2),
		MaxCombinationError:    getEnvAsFloat("MAX_COMBINATION_ERROR", 2.0),
		PriceAPIBaseURL:        getEnv("PRICE_API_BASE_URL", ""),
		PriceFetchPerSec:       getEnvAsFloat("PRICE_FETCH_PER_SEC", 4),
		PriceFetchBurst:        getEnvAsInt("PRICE_FETCH_BURST", 1),
	}

	log.Printf("Configuration loaded: DataDir=%s, LogLevel=%s, ReferenceCurrency=%s",
		Cfg.DataDir, Cfg.LogLevel, Cfg.ReferenceCurrency)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	log.Printf("Invalid float value for %s ('%s'), using default: %v", key, valueStr, fallback)
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid boolean value for %s ('%s'), using default: %v", key, valueStr, fallback)
	return fallback
}
