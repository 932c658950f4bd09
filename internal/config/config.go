// Package config loads gateway configuration from an optional YAML file and
// GATEWAY_-prefixed environment variables, env taking precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Vault     VaultConfig     `koanf:"vault"`
	Provider  ProviderConfig  `koanf:"provider"`
	Redis     RedisConfig     `koanf:"redis"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`
}

// VaultConfig locates the external secret store holding provider API keys.
type VaultConfig struct {
	HostURL  string `koanf:"host_url"`
	Product  string `koanf:"product"`
	ReadKey  string `koanf:"read_key"`
	WriteKey string `koanf:"write_key"`
}

type ProviderConfig struct {
	// Timeout caps one upstream call, streaming included.
	Timeout time.Duration `koanf:"timeout"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
}

// RateLimitConfig bounds chat turns per tenant. Zero disables limiting.
type RateLimitConfig struct {
	TurnsPerHour int `koanf:"turns_per_hour"`
}

// Load reads config.yaml when present, then the environment. Env keys map
// GATEWAY_SERVER__PORT → server.port.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("GATEWAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "GATEWAY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("storage.driver") {
		k.Set("storage.driver", "sqlite")
	}
	if !k.Exists("storage.dsn") {
		k.Set("storage.dsn", "gateway.db")
	}
	if !k.Exists("provider.timeout") {
		k.Set("provider.timeout", "120s")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
