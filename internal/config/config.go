package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries all runtime settings. Values come from the environment,
// optionally preloaded from a .env file.
type Config struct {
	Addr     string
	GRPCAddr string

	PostgresDSN string
	RedisAddr   string

	JWTSecret  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	RateLimitPerSecond int
	RateLimitBurst     int
	MaxBodyBytes       int64
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:        getenv("GATEHOUSE_ADDR", ":8080"),
		GRPCAddr:    getenv("GATEHOUSE_GRPC_ADDR", ""),
		PostgresDSN: getenv("GATEHOUSE_PG_DSN", ""),
		RedisAddr:   getenv("GATEHOUSE_REDIS_ADDR", ""),
		JWTSecret:   getenv("GATEHOUSE_JWT_SECRET", ""),
		Issuer:      getenv("GATEHOUSE_ISSUER", "gatehouse"),
	}

	var err error
	if cfg.AccessTTL, err = getduration("GATEHOUSE_ACCESS_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = getduration("GATEHOUSE_REFRESH_TTL", 14*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerSecond, err = getint("GATEHOUSE_RATE_PER_SECOND", 20); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = getint("GATEHOUSE_RATE_BURST", 40); err != nil {
		return Config{}, err
	}
	maxBody, err := getint("GATEHOUSE_MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBodyBytes = int64(maxBody)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("GATEHOUSE_JWT_SECRET must be set")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("refresh TTL must exceed access TTL")
	}
	if c.RateLimitPerSecond <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("rate limit settings must be positive")
	}
	return nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getduration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
