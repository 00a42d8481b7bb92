// Package config provides configuration for the vault server, combining
// command-line flags, an optional JSON config file, and environment
// variables (highest precedence, parsed with go-envconfig).
package config

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Options holds the configuration values for the server process.
//
// Process-wide behavior toggles (DefaultVerified, RejectFraction) live here
// on purpose: they are plain configuration handed to components at
// construction, never mutable globals.
type Options struct {
	// Addr is the server's listening address (ip:port).
	Addr string `env:"SERVER_ADDRESS" json:"addr"`

	// DatabaseDSN is the PostgreSQL connection string.
	DatabaseDSN string `env:"DATABASE_DSN" json:"database_dsn"`

	// RedisAddr is the address of the rate-limiter's Redis instance.
	RedisAddr string `env:"REDIS_ADDR" json:"redis_addr"`

	// RedisDB selects the Redis logical database.
	RedisDB int `env:"REDIS_DB" json:"redis_db"`

	// JWTSecret signs and verifies session tokens.
	JWTSecret string `env:"JWT_SECRET" json:"jwt_secret"`

	// LogLevel is the minimum zap level: debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL, default=info" json:"log_level"`

	// DefaultVerified marks newly created identities as verified without
	// an email round-trip. Intended for closed deployments and tests.
	DefaultVerified bool `env:"DEFAULT_VERIFIED" json:"default_verified"`

	// RejectFraction sheds the given fraction [0,1] of incoming requests
	// before any work is done. Emergency load-shedding knob.
	RejectFraction float64 `env:"REJECT_FRACTION" json:"reject_fraction"`

	// RateLimitPerMinute caps per-identity requests per minute.
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE, default=240" json:"rate_limit_per_minute"`

	// TxnIdleTimeout is how long an open transaction may sit idle before
	// the sweeper rolls it back.
	TxnIdleTimeout time.Duration `env:"TXN_IDLE_TIMEOUT, default=2m" json:"txn_idle_timeout"`

	// TxnSweepInterval is how often the idle sweeper runs.
	TxnSweepInterval time.Duration `env:"TXN_SWEEP_INTERVAL, default=15s" json:"txn_sweep_interval"`

	// Config is the path to the JSON config file.
	Config string `env:"CONFIG" json:"-"`
}

// options holds the current configuration values.
var options = &Options{}

// init initializes command-line flags and sets default values.
func init() {
	flag.StringVar(&options.Addr, "a", "localhost:8080", "run on ip:port server")
	flag.StringVar(&options.DatabaseDSN, "d", "", "db address")
	flag.StringVar(&options.RedisAddr, "r", "localhost:6379", "redis address for rate limiting")
	flag.StringVar(&options.Config, "config", "config.json", "path to config file")
	flag.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
}

// Parse resolves the final configuration: flag defaults, then the JSON file
// if present, then environment variables on top. It returns a pointer to
// the Options struct containing the parsed configuration values.
func Parse() *Options {
	flag.Parse()

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				log.Fatalf("error while reading config file: %v", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				log.Fatalf("error while parsing config file: %v", err)
			}
		}
	}

	if err := envconfig.Process(context.Background(), options); err != nil {
		log.Fatalf("error while reading environment: %v", err)
	}

	return options
}
