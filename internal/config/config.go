package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"contest-rating-service/internal/rating"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
	Leaderboard struct {
		TTL string `yaml:"ttl"`
	} `yaml:"leaderboard"`
	Finalizer struct {
		Enabled bool   `yaml:"enabled"`
		Spec    string `yaml:"spec"`
		Timeout string `yaml:"timeout"`
	} `yaml:"finalizer"`
	Rating rating.Engine `yaml:"rating"`
}

// Default returns the settings used when a key is absent from the file.
func Default() Config {
	cfg := Config{}
	cfg.Log.Level = "info"
	cfg.NATS.Subject = "judge.verdicts"
	cfg.Finalizer.Spec = "0 * * * * *"
	cfg.Rating = rating.DefaultEngine()
	return cfg
}

// Load reads YAML config from path on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
