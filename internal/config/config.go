package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultBackendUrl = "http://backend:8800"
	DefaultApiBaseUrl = "http://localhost:8800"
)

type RelayConfig struct {
	BackendUrl     string        `env:"BACKEND_API_URL" envDefault:"http://backend:8800"`
	Port           int           `env:"PORT" envDefault:"3000"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"0s"`
}

type ClientConfig struct {
	ApiBaseUrl       string        `env:"API_BASE_URL" envDefault:"http://localhost:8800"`
	ProgressInterval time.Duration `env:"PROGRESS_INTERVAL" envDefault:"1s"`
}

func LoadRelayConfig() (RelayConfig, error) {
	var cfg RelayConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing relay config: %w", err)
	}

	if cfg.BackendUrl == "" {
		slog.Warn("BACKEND_API_URL is empty, using default", "default", DefaultBackendUrl)
		cfg.BackendUrl = DefaultBackendUrl
	}

	return cfg, nil
}

func LoadClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing client config: %w", err)
	}

	if cfg.ApiBaseUrl == "" {
		slog.Warn("API_BASE_URL is empty, using default", "default", DefaultApiBaseUrl)
		cfg.ApiBaseUrl = DefaultApiBaseUrl
	}

	return cfg, nil
}
