package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string `yaml:"port"`
	DatabaseURL        string `yaml:"databaseURL"`
	RedisAddr          string `yaml:"redisAddr"`
	RedisPassword      string `yaml:"redisPassword"`
	AuthURL            string `yaml:"authURL"`
	JWKSURL            string `yaml:"jwksURL"`
	ServiceTokenSecret string `yaml:"serviceTokenSecret"`
	DeliveryStream     string `yaml:"deliveryStream"`
	DeliveryWorkers    int    `yaml:"deliveryWorkers"`
	NameCacheTTL       string `yaml:"nameCacheTTL"`
	LogLevel           string `yaml:"logLevel"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AUTH_URL"); v != "" {
		cfg.AuthURL = v
	}
	if v := os.Getenv("JWKS_URL"); v != "" {
		cfg.JWKSURL = v
	}
	if v := os.Getenv("SERVICE_TOKEN_SECRET"); v != "" {
		cfg.ServiceTokenSecret = v
	}
	if v := os.Getenv("DELIVERY_STREAM"); v != "" {
		cfg.DeliveryStream = v
	}
	if v := os.Getenv("NAME_CACHE_TTL"); v != "" {
		cfg.NameCacheTTL = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for the delivery queue")
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return errors.New("config: authURL is required (set AUTH_URL)")
	}
	if strings.TrimSpace(cfg.ServiceTokenSecret) == "" {
		return errors.New("config: serviceTokenSecret is required (set SERVICE_TOKEN_SECRET)")
	}
	if cfg.DeliveryWorkers < 0 {
		return errors.New("config: deliveryWorkers must be >= 0")
	}
	return nil
}

// ParseDuration parses an optional duration string.
func ParseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	return dur, nil
}
