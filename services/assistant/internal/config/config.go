package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string `yaml:"port"`
	ConversationURL    string `yaml:"conversationURL"`
	JWKSURL            string `yaml:"jwksURL"`
	ServiceTokenSecret string `yaml:"serviceTokenSecret"`
	GenerationBaseURL  string `yaml:"generationBaseURL"`
	GenerationAPIKey   string `yaml:"generationAPIKey"`
	GenerationModel    string `yaml:"generationModel"`
	ContextLimit       int    `yaml:"contextLimit"`
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
	if v := os.Getenv("CONVERSATION_URL"); v != "" {
		cfg.ConversationURL = v
	}
	if v := os.Getenv("JWKS_URL"); v != "" {
		cfg.JWKSURL = v
	}
	if v := os.Getenv("SERVICE_TOKEN_SECRET"); v != "" {
		cfg.ServiceTokenSecret = v
	}
	if v := os.Getenv("GENERATION_BASE_URL"); v != "" {
		cfg.GenerationBaseURL = v
	}
	if v := os.Getenv("GENERATION_API_KEY"); v != "" {
		cfg.GenerationAPIKey = v
	}
	if v := os.Getenv("GENERATION_MODEL"); v != "" {
		cfg.GenerationModel = v
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
	if strings.TrimSpace(cfg.ConversationURL) == "" {
		return errors.New("config: conversationURL is required (set CONVERSATION_URL)")
	}
	if strings.TrimSpace(cfg.JWKSURL) == "" {
		return errors.New("config: jwksURL is required (set JWKS_URL)")
	}
	if strings.TrimSpace(cfg.ServiceTokenSecret) == "" {
		return errors.New("config: serviceTokenSecret is required (set SERVICE_TOKEN_SECRET)")
	}
	if cfg.GenerationAPIKey != "" && strings.TrimSpace(cfg.GenerationModel) == "" {
		return errors.New("config: generationModel is required when a generation key is set")
	}
	if cfg.ContextLimit < 0 {
		return errors.New("config: contextLimit must be >= 0")
	}
	return nil
}
