package params

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type API struct {
	Addr           string   `env:"API_ADDR" envDefault:":4000"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envDefault:"*"`
	AdminKey       string   `env:"ADMIN_KEY"`
	MetricsEnabled bool     `env:"METRICS_ENABLED" envDefault:"true"`
}

type Market struct {
	// TickInterval is the period of the reference price walk.
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	// PriceFloor is the lowest reference price a symbol can reach.
	PriceFloor         decimal.Decimal `env:"PRICE_FLOOR" envDefault:"0.01"`
	TradesInitLimit    int             `env:"TRADES_INIT_LIMIT" envDefault:"100"`
	TradesDefaultLimit int             `env:"TRADES_DEFAULT_LIMIT" envDefault:"200"`
}

type Storage struct {
	// DBPath is the Pebble directory. Empty keeps everything in memory.
	DBPath       string        `env:"DB_PATH"`
	UserCacheTTL time.Duration `env:"USER_CACHE_TTL" envDefault:"10m"`
}

type Feed struct {
	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"tickerbook.feed"`
}

type Config struct {
	API     API
	Market  Market
	Storage Storage
	Feed    Feed
	LogFile  string `env:"LOG_FILE"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Default returns the configuration with every default applied and no
// environment consulted.
func Default() Config {
	var cfg Config
	// only defaults are parsed here; an empty environment cannot fail
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if !cfg.Market.PriceFloor.IsPositive() {
		return Config{}, fmt.Errorf("PRICE_FLOOR must be positive, got %s", cfg.Market.PriceFloor)
	}
	if cfg.Market.TickInterval <= 0 {
		return Config{}, fmt.Errorf("TICK_INTERVAL must be positive, got %s", cfg.Market.TickInterval)
	}
	return cfg, nil
}
