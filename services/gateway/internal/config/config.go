package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port            string `yaml:"port"`
	AuthURL         string `yaml:"authURL"`
	ConversationURL string `yaml:"conversationURL"`
	AssistantURL    string `yaml:"assistantURL"`
	JWKSURL         string `yaml:"jwksURL"`
	RedisAddr       string `yaml:"redisAddr"`
	RedisPassword   string `yaml:"redisPassword"`
	TrustedProxies  string `yaml:"trustedProxies"`
	LogLevel        string `yaml:"logLevel"`

	SignupRateLimitPerMinute  int `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute   int `yaml:"loginRateLimitPerMinute"`
	RefreshRateLimitPerMinute int `yaml:"refreshRateLimitPerMinute"`

	RefreshCookieName          string `yaml:"refreshCookieName"`
	RefreshCookieDomain        string `yaml:"refreshCookieDomain"`
	RefreshCookiePath          string `yaml:"refreshCookiePath"`
	RefreshCookieSecure        bool   `yaml:"refreshCookieSecure"`
	RefreshCookieSameSite      string `yaml:"refreshCookieSameSite"`
	RefreshCookieMaxAgeSeconds int    `yaml:"refreshCookieMaxAgeSeconds"`
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
	if v := os.Getenv("AUTH_URL"); v != "" {
		cfg.AuthURL = v
	}
	if v := os.Getenv("CONVERSATION_URL"); v != "" {
		cfg.ConversationURL = v
	}
	if v := os.Getenv("ASSISTANT_URL"); v != "" {
		cfg.AssistantURL = v
	}
	if v := os.Getenv("JWKS_URL"); v != "" {
		cfg.JWKSURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = v
	}
	if v := os.Getenv("GATEWAY_REFRESH_COOKIE_NAME"); v != "" {
		cfg.RefreshCookieName = strings.TrimSpace(v)
	}
	if v := os.Getenv("GATEWAY_REFRESH_COOKIE_DOMAIN"); v != "" {
		cfg.RefreshCookieDomain = strings.TrimSpace(v)
	}
	if v := os.Getenv("GATEWAY_REFRESH_COOKIE_PATH"); v != "" {
		cfg.RefreshCookiePath = strings.TrimSpace(v)
	}
	if v := os.Getenv("GATEWAY_REFRESH_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RefreshCookieSecure = b
		}
	}
	if v := os.Getenv("GATEWAY_REFRESH_COOKIE_SAMESITE"); v != "" {
		cfg.RefreshCookieSameSite = strings.TrimSpace(v)
	}
	if v := os.Getenv("GATEWAY_REFRESH_COOKIE_MAX_AGE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshCookieMaxAgeSeconds = n
		}
	}
	for _, env := range []struct {
		name string
		dst  *int
	}{
		{"GATEWAY_SIGNUP_RATE_LIMIT_PER_MINUTE", &cfg.SignupRateLimitPerMinute},
		{"GATEWAY_LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute},
		{"GATEWAY_REFRESH_RATE_LIMIT_PER_MINUTE", &cfg.RefreshRateLimitPerMinute},
	} {
		if v := os.Getenv(env.name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*env.dst = n
			}
		}
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
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return errors.New("config: authURL is required (set AUTH_URL)")
	}
	if strings.TrimSpace(cfg.ConversationURL) == "" {
		return errors.New("config: conversationURL is required (set CONVERSATION_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.RefreshRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}
