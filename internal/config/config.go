package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

type (
	Config struct {
		Server ServerConfig `yaml:"server"`
		Mongo  MongoConfig  `yaml:"mongo"`
		Redis  RedisConfig  `yaml:"redis"`
		Client ClientConfig `yaml:"client"`
		Log    LogConfig    `yaml:"log"`
	}

	ServerConfig struct {
		Addr string `yaml:"addr"`
		// RateLimit is relayed messages per second allowed on one connection.
		RateLimit float64 `yaml:"rate_limit"`
		Burst     int     `yaml:"burst"`
	}

	MongoConfig struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	}

	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	ClientConfig struct {
		ServerURL    string `yaml:"server_url"`
		StateBackend string `yaml:"state_backend"`
		DataDir      string `yaml:"data_dir"`
	}

	LogConfig struct {
		Level string `yaml:"level"`
	}
)

func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", RateLimit: 20, Burst: 40},
		Mongo:  MongoConfig{URI: "mongodb://localhost:27017", Database: "enigma"},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Client: ClientConfig{
			ServerURL:    "http://localhost:8080",
			StateBackend: BackendBadger,
			DataDir:      ".enigma",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults. Keys missing from the
// file keep their default value. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Client.StateBackend {
	case BackendBadger, BackendRedis:
	default:
		return fmt.Errorf("client.state_backend: unknown backend %q", c.Client.StateBackend)
	}
	if c.Server.RateLimit <= 0 || c.Server.Burst <= 0 {
		return fmt.Errorf("server.rate_limit and server.burst must be positive")
	}
	return nil
}
