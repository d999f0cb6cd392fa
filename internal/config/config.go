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

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Log      LogConfig
	App      AppConfig
	Chain    ChainConfig
	Fees     FeeConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port string
}

// LogConfig holds logging settings
type LogConfig struct {
	Level       string
	Encoding    string
	Development bool
}

// AppConfig holds application-specific settings
type AppConfig struct {
	JWTSecret    string
	ScanCronSpec string
}

// ChainConfig holds BNB-chain RPC and contract settings
type ChainConfig struct {
	RPCURL          string
	ContractAddress string
	RequestTimeout  time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxBlockWindow  uint64
	AssetDecimals   map[string]int32
	TokenAssets     map[string]string // lowercased token contract address -> asset symbol
	NativeAsset     string
}

// FeeConfig holds fallback fee percentages used when no active
// platform_fees row exists for an operation type
type FeeConfig struct {
	DefaultDepositPercent    decimal.Decimal
	DefaultWithdrawalPercent decimal.Decimal
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "prediction_ledger"),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Encoding:    getEnv("LOG_ENCODING", "json"),
			Development: getEnv("LOG_DEVELOPMENT", "false") == "true",
		},
		App: AppConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			ScanCronSpec: getEnv("SCAN_CRON_SPEC", "0 * * * * *"),
		},
		Chain: ChainConfig{
			RPCURL:          getEnv("CHAIN_RPC_URL", "https://bsc-dataseed.binance.org"),
			ContractAddress: getEnv("CONTRACT_ADDRESS", ""),
			RequestTimeout:  getEnvDuration("CHAIN_REQUEST_TIMEOUT", 15*time.Second),
			MaxRetries:      getEnvInt("CHAIN_MAX_RETRIES", 3),
			RetryBackoff:    getEnvDuration("CHAIN_RETRY_BACKOFF", 500*time.Millisecond),
			MaxBlockWindow:  uint64(getEnvInt("CHAIN_MAX_BLOCK_WINDOW", 2000)),
			NativeAsset:     "BNB",
			AssetDecimals: map[string]int32{
				"BNB":  18,
				"USDT": 6,
			},
			TokenAssets: map[string]string{
				strings.ToLower(getEnv("USDT_TOKEN_ADDRESS", "")): "USDT",
			},
		},
		Fees: FeeConfig{
			DefaultDepositPercent:    getEnvDecimal("DEFAULT_DEPOSIT_FEE_PERCENT", "0.5"),
			DefaultWithdrawalPercent: getEnvDecimal("DEFAULT_WITHDRAWAL_FEE_PERCENT", "1.0"),
		},
	}

	// Validate required fields
	if config.App.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if config.Chain.ContractAddress == "" {
		return nil, fmt.Errorf("CONTRACT_ADDRESS is required")
	}

	return config, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.RequireFromString(defaultValue)
	}
	return d
}
