package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverPebble   = "pebble"
)

type Config struct {
	ServerPort  string   `yaml:"server_port"`
	StoreDriver string   `yaml:"store_driver"`
	PebbleDir   string   `yaml:"pebble_dir"`
	DBHost      string   `yaml:"db_host"`
	DBPort      string   `yaml:"db_port"`
	DBUser      string   `yaml:"db_user"`
	DBPassword  string   `yaml:"db_password"`
	DBName      string   `yaml:"db_name"`
	JWTSecret   string   `yaml:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins"`

	SendRatePerSec float64 `yaml:"send_rate_per_sec"`
	SendRateBurst  int     `yaml:"send_rate_burst"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ThreadPollInterval time.Duration `yaml:"thread_poll_interval"`
}

func defaults() *Config {
	return &Config{
		ServerPort:         "8080",
		StoreDriver:        DriverPostgres,
		PebbleDir:          "data/pulse",
		DBHost:             "localhost",
		DBPort:             "5432",
		DBUser:             "pulse",
		DBPassword:         "pulse_dev_password",
		DBName:             "pulse",
		JWTSecret:          "dev-secret-change-me",
		CORSOrigins:        []string{"http://localhost:5173"},
		SendRatePerSec:     5,
		SendRateBurst:      10,
		LogLevel:           "info",
		LogFormat:          "text",
		ThreadPollInterval: 3 * time.Second,
	}
}

// Load builds the config from defaults, then the YAML file named by
// CONFIG_FILE (if any), then the environment. A .env file in the working
// directory is loaded into the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.ServerPort = getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.PebbleDir = getEnv("PEBBLE_DIR", cfg.PebbleDir)
	cfg.DBHost = getEnv("DB_HOST", cfg.DBHost)
	cfg.DBPort = getEnv("DB_PORT", cfg.DBPort)
	cfg.DBUser = getEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = getEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = getEnv("DB_NAME", cfg.DBName)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	var err error
	if cfg.SendRatePerSec, err = getEnvFloat("SEND_RATE_PER_SEC", cfg.SendRatePerSec); err != nil {
		return nil, err
	}
	if cfg.SendRateBurst, err = getEnvInt("SEND_RATE_BURST", cfg.SendRateBurst); err != nil {
		return nil, err
	}
	if cfg.ThreadPollInterval, err = getEnvDuration("THREAD_POLL_INTERVAL", cfg.ThreadPollInterval); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverPebble:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SendRatePerSec <= 0 || c.SendRateBurst <= 0 {
		return fmt.Errorf("send rate and burst must be positive")
	}
	if c.ThreadPollInterval <= 0 {
		return fmt.Errorf("THREAD_POLL_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	val, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
